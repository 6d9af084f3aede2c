package main

import (
	"github.com/spf13/cobra"

	"immoledger/server/config"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and seed the plan catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(envFiles...)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)
			db, err := openDatabase(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("Migrations complete")
			return db.Close()
		},
	}
}
