// Command fern runs the sync and normalization service.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fern",
	Short: "Sync provider records into unified objects",
	Long: `fern pulls records from connected providers through the integration platform,
normalizes them into unified objects and keeps them current from webhooks and
scheduled polls.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
