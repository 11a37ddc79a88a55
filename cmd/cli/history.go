package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/output"
	"github.com/anstrom/inventorama/internal/targets"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Show stored records of one host",
		Long: `Show the records stored for one address, newest first. Requires the
database section of the configuration to be enabled.`,
		Example: `  inventorama history 192.168.1.20
  inventorama history 192.168.1.20 --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			if !targets.ValidAddress(address) {
				return fmt.Errorf("invalid address %q", address)
			}

			database, err := a.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			stored, err := db.NewRecordRepository(database).History(cmd.Context(), address, limit)
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No records for %s\n", address)
				return nil
			}

			records := make([]models.ScanRecord, len(stored))
			for i, s := range stored {
				records[i] = s.ScanRecord
			}
			all := models.NewCapabilitySet(models.AllCapabilities...)
			return output.RenderTable(cmd.OutOrStdout(), records, output.Columns(all))
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (default 50)")
	return cmd
}

// openDatabase connects without migrating. It fails when history is
// disabled in the configuration.
func (a *app) openDatabase(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Database.Enabled {
		return nil, fmt.Errorf("database is disabled in configuration\n" +
			"Enable it by setting 'database.enabled: true' in config")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	logger, err := a.newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return db.Connect(cmd.Context(), cfg.Database, logger)
}
