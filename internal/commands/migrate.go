package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/migrations"
)

var migrateForce bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var (
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrations.Up(cfg.Database.Postgres.ConnString()); err != nil {
				return err
			}
			out.Success("Database schema is up to date")
			return nil
		},
	}

	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert all migrations (drops all FlowGuard tables)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !migrateForce {
				return errors.New("refusing to drop all tables without --force")
			}
			if err := migrations.Down(cfg.Database.Postgres.ConnString()); err != nil {
				return err
			}
			out.Success("All migrations reverted")
			return nil
		},
	}

	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			version, dirty, err := migrations.Version(cfg.Database.Postgres.ConnString())
			if err != nil {
				return err
			}
			if dirty {
				out.Warn("Schema version %d (dirty)", version)
				return nil
			}
			out.Info("Schema version %d", version)
			return nil
		},
	}
)

func init() {
	migrateDownCmd.Flags().BoolVar(&migrateForce, "force", false, "confirm dropping all tables")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
