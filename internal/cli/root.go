// Package cli provides the command-line interface for intake.
package cli

import (
	"github.com/raphaelgruber/intake-go/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string

	// API client, created before every command
	api *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Conversational business-profile onboarding",
	Long: `Intake turns an onboarding conversation with a business owner into a
structured brand profile.

Messages flow through bucketed interview topics; background analyzers extract
confidence-scored profile fields as the conversation progresses.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		api = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "intake server URL (default $INTAKE_SERVER_URL or http://localhost:8486)")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(statsCmd)
}
