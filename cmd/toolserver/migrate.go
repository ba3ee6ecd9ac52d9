package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/tooldelegate/config"
	"github.com/jonwraymond/tooldelegate/observe"
	"github.com/jonwraymond/tooldelegate/tools/customer"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the customer schema and seed data to PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.LoadToolServer(ctx, configPath(cmd.Flags()))
			if err != nil {
				return err
			}
			if cfg.DBType != config.DBPostgres {
				return fmt.Errorf("migrate requires DB_TYPE=%s, got %q", config.DBPostgres, cfg.DBType)
			}
			level := cfg.Telemetry.LogLevel
			if cfg.Telemetry.Debug {
				level = "debug"
			}
			return customer.Migrate(ctx, cfg.PostgresURL(), observe.NewLogger(level))
		},
	}
}
