package main

import (
	"errors"

	"github.com/airheartdev/workshop/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables, seed the checkbox grid and install toggle_checkbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		if config.Backend != BackendPostgres {
			return errors.New("migrate needs the postgres backend (set DATABASE_URL)")
		}
		logger := newLogger(config.Logging)

		backend, err := postgres.Open(cmd.Context(), config.Database.URL, config.Database.MaxConns, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := backend.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
