package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"storyforge/backend/services/credits-service/internal/app"
	"storyforge/backend/services/credits-service/internal/config"
	"storyforge/backend/services/credits-service/internal/migrations"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ledger schema",
	}
	cmd.AddCommand(
		migrateAction("up", "Apply all pending migrations", migrations.Up),
		migrateAction("down", "Roll back the latest migration", migrations.Down),
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				db, dialect, err := app.OpenMigrationDB(cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				version, err := migrations.Version(db, dialect)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", version)
				return nil
			},
		},
	)
	return cmd
}

func migrateAction(use, short string, fn func(db *sql.DB, dialect string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, dialect, err := app.OpenMigrationDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := fn(db, dialect); err != nil {
				return err
			}
			version, err := migrations.Version(db, dialect)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema at version %d\n", use, version)
			return nil
		},
	}
}
