package main

import (
	"github.com/spf13/cobra"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/pkg/database"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := database.InitDB(&conf.DB, log)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		if err := database.MigrateModels(db, model.All()...); err != nil {
			log.Error("Failed to migrate database models", zap.Error(err))
			return err
		}

		log.Info("Database migrated")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
