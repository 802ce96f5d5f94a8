package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashish23d/GreatX/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		driver := cfg.BasicConfig.Database
		db, err := storage.Open(driver, cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if err := storage.Migrate(db, driver); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrated", zap.String("driver", driver))
		return nil
	},
}
