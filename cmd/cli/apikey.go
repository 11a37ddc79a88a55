package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/inventorama/internal/auth"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newAPIKeyGenerateCmd(), newAPIKeyHashCmd())
	return cmd
}

func newAPIKeyGenerateCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key and the hash to configure",
		Long: `Generate a random API key. The key is printed once; add the printed hash
to api.auth.key_hashes and hand the key to the client. Clients send it in
the X-API-Key header or as "Authorization: Bearer <key>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			generated, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(generated)
			}
			fmt.Fprintf(out, "API key: %s\n", generated.Key)
			fmt.Fprintf(out, "Hash:    %s\n\n", generated.Hash)
			fmt.Fprintln(out, "Store the key now, it cannot be shown again. Configure the hash:")
			fmt.Fprintf(out, "  api:\n    auth:\n      enabled: true\n      key_hashes:\n        - %q\n", generated.Hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the key and hash as JSON")
	return cmd
}

func newAPIKeyHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <key>",
		Short: "Print the hash of an existing API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.IsValidAPIKeyFormat(args[0]) {
				return fmt.Errorf("invalid API key format")
			}
			hash, err := auth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
