package cmd

import (
	"mirlo/server"

	"github.com/spf13/cobra"
)

var serverNoWorker bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the download-fulfillment HTTP server",
	Long:  `Run the HTTP server handling download and generate requests. By default an archive build worker runs in-process; pass --no-worker to run request handling only.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(!serverNoWorker)
	},
}

func init() {
	serverCmd.Flags().BoolVar(&serverNoWorker, "no-worker", false, "do not run an archive build worker in-process")
	rootCmd.AddCommand(serverCmd)
}
