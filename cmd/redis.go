package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"mirlo/config"
	"mirlo/db"
	"mirlo/queue"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis connection and queue depth",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer db.CloseRedis()
		fmt.Println("Redis connection OK.")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pending, err := queue.New(db.RedisClient).PendingCount(ctx)
		if err != nil {
			log.Fatalf("failed to read queue depth: %v", err)
		}
		fmt.Printf("Pending build jobs: %d\n", pending)
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
