package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/runcore-labs/runcore/pkg/config"
	"github.com/runcore-labs/runcore/pkg/store"
)

// migrateCmd opens the configured Postgres database and applies embedded
// migrations, then exits. NewPostgresStore already runs migrations as part
// of connecting, so this is a thin standalone entrypoint for CI/deploy
// scripts that want a migrate step separate from starting the server.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil {
				cmd.PrintErrf("warning: could not load %s: %v\n", envFile, err)
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			ctx := context.Background()
			dbStore, err := store.NewPostgresStore(ctx, store.Config{
				Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
				Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
				MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			})
			if err != nil {
				return err
			}
			defer dbStore.Close()

			cmd.Println("migrations applied")
			return nil
		},
	}
}
