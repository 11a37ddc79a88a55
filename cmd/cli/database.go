package cli

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/logging"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the history database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := a.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := db.NewMigrator(database.DB, logging.Default()).Up(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := a.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			statuses, err := db.NewMigrator(database.DB, logging.Default()).Status(cmd.Context())
			if err != nil {
				return err
			}
			return renderMigrations(cmd, statuses)
		},
	})

	var force bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop all stored records and the migration table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("reset deletes all stored history; pass --force to confirm")
			}
			database, err := a.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := db.NewMigrator(database.DB, logging.Default()).Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database reset")
			return nil
		},
	}
	reset.Flags().BoolVar(&force, "force", false, "confirm dropping all data")
	cmd.AddCommand(reset)

	return cmd
}

func renderMigrations(cmd *cobra.Command, statuses []db.MigrationStatus) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Migration", "Applied", "Applied At")
	for _, s := range statuses {
		appliedAt := ""
		if s.Applied {
			appliedAt = s.AppliedAt.Local().Format(time.DateTime)
		}
		if err := table.Append([]string{s.Name, fmt.Sprintf("%t", s.Applied), appliedAt}); err != nil {
			return err
		}
	}
	return table.Render()
}
