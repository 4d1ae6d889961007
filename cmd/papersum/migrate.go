package main

import (
	"fmt"

	"github.com/phrazzld/papersum/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version|reset]",
		Short:     "Run database migrations for the postgres record store",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Records.Backend != "postgres" {
				return fmt.Errorf("migrations apply to the postgres backend only, records.backend is %q", cfg.Records.Backend)
			}

			ctx := cmd.Context()
			app, err := newApplication(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := app.shutdownContext()
				defer cancel()
				app.cleanup(ctx)
			}()

			db, err := app.openDatabase(ctx)
			if err != nil {
				return err
			}
			return postgres.Migrate(ctx, db, command, app.logger)
		},
	}
}
