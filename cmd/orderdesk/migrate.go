package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk/internal/config"
	"github.com/orderdesk/orderdesk/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("no database configured: set database.dsn or ORDERDESK_DATABASE_DSN")
			}

			ctx := cmd.Context()
			pg, err := store.NewPostgres(ctx, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pg.Close()

			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}
