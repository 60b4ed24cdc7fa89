package cmd

import (
	"github.com/spf13/cobra"

	"github.com/iliyamo/cinema-seat-booking/internal/config"
	"github.com/iliyamo/cinema-seat-booking/internal/database"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (up)",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last --steps migrations",
	RunE:  runMigrateDown,
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg := config.LoadDB()
	log := newLogger(true)
	defer func() { _ = log.Sync() }()
	return database.MigrateUp(database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName), log)
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	cfg := config.LoadDB()
	log := newLogger(true)
	defer func() { _ = log.Sync() }()
	return database.MigrateDown(database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName), migrateSteps, log)
}
