package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sympfindx-diagnosis-server/internal/config"
	"github.com/sympfindx-diagnosis-server/internal/database"
	"github.com/sympfindx-diagnosis-server/internal/logging"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
		Long:  "Apply or roll back schema migrations. Requires database.driver=postgres.",
	}

	cmd.AddCommand(
		migrateSubcommand(root, "up", "Apply all pending migrations", func(cmd *cobra.Command, mr *database.MigrationRunner) error {
			return mr.Up(cmd.Context())
		}),
		migrateSubcommand(root, "down", "Roll back the latest migration", func(cmd *cobra.Command, mr *database.MigrationRunner) error {
			return mr.Down(cmd.Context())
		}),
		migrateSubcommand(root, "version", "Print the current schema version", func(cmd *cobra.Command, mr *database.MigrationRunner) error {
			version, dirty, err := mr.Version()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return err
		}),
	)
	return cmd
}

func migrateSubcommand(root *rootOptions, use, short string, fn func(*cobra.Command, *database.MigrationRunner) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewManagerFromFile(root.configPath)
			if err != nil {
				return err
			}
			cfg := manager.GetConfig()
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrations need database.driver=postgres, got %q", cfg.Database.Driver)
			}

			logger := logging.New(cfg.Logging)
			logger.SetOutput(cmd.ErrOrStderr())

			runner, err := database.NewMigrationRunner(manager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
			if err != nil {
				return err
			}
			defer runner.Close()

			return fn(cmd, runner)
		},
	}
}
