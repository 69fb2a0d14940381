package cmd

import (
	"mirlo/server"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone archive build worker",
	Long:  `Run an archive build worker that consumes queued build jobs, assembles download archives from stored masters and persists them to object storage.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.StartWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
