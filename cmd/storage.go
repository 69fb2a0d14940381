package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"mirlo/config"
	"mirlo/storage"

	"github.com/spf13/cobra"
)

var (
	storagePrefix  string
	storageListAll bool
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect the object storage buckets",
	Long:  `List objects and aggregate statistics for the audio and downloads buckets.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("MinIO endpoint: %s\n", cfg.MinioEndpoint)

		client, err := storage.New(cfg)
		if err != nil {
			log.Fatalf("failed to connect to MinIO: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		for _, bucket := range []string{cfg.AudioBucket, cfg.DownloadsBucket} {
			objects, stats, err := client.ListBucket(ctx, bucket, storagePrefix)
			if err != nil {
				log.Fatalf("failed to list bucket %s: %v", bucket, err)
			}

			fmt.Printf("\nBucket: %s\n", bucket)
			fmt.Printf("  Objects: %d\n", stats.TotalObjects)
			fmt.Printf("  Total size: %s\n", storage.FormatSize(stats.TotalSize))
			if !stats.LastModified.IsZero() {
				fmt.Printf("  Last modified: %s\n", stats.LastModified.Format(time.RFC3339))
			}

			if storageListAll {
				for _, obj := range objects {
					fmt.Printf("  %-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format(time.RFC3339))
				}
			}
		}
	},
}

func init() {
	storageCmd.Flags().StringVar(&storagePrefix, "prefix", "", "only list objects under this prefix")
	storageCmd.Flags().BoolVar(&storageListAll, "list", false, "list every object, not just totals")
	rootCmd.AddCommand(storageCmd)
}
