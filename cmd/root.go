package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cinema-seat-booking",
	Short: "Real-time seat reservation service",
	Long:  `HTTP + WebSocket seat booking API. Commands: server, migrate, token.`,
	RunE:  runServer, // default: same as "cinema-seat-booking server"
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

// Execute runs the root command and returns the error for main to log.
func Execute() error {
	return rootCmd.Execute()
}
