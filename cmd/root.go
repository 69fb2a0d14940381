package cmd

import (
	"fmt"
	"os"

	"mirlo/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mirlo",
	Short: "Mirlo download-fulfillment service.",
	Run: func(cmd *cobra.Command, args []string) {
		// Default action: run the API server with an in-process worker.
		server.Start(true)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
