package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eventhub",
	Short: "Event ticketing backend",
	Long:  `Backend for event publishing, ticket sales, payment reconciliation and check-in`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
