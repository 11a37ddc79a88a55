package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/inventorama/internal/targets"
)

func newExpandCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "expand <input>",
		Short: "Print the targets an input expands to",
		Long: `Expand an address, a segment, a comma separated list or a list file
into its targets without scanning. Invalid entries are reported with their
source line.`,
		Example: `  inventorama expand 10.0.0
  inventorama expand --kind list "10.0.0.1,10.0.1"
  inventorama expand --kind file hosts.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := targets.FromKind(kind, args[0], nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			total, invalid := 0, 0
			for t := range targets.Expand(in) {
				total++
				if !t.Valid {
					invalid++
					if t.Line > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "invalid target %q (line %d)\n", t.Raw, t.Line)
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "invalid target %q\n", t.Raw)
					}
					continue
				}
				fmt.Fprintln(out, t.Address)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d targets, %d invalid\n", total, invalid)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "input kind: single, segment, list or file (default: detect)")
	return cmd
}
