package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mirlo/cache"
	"mirlo/config"
	"mirlo/core/archive"
	"mirlo/core/fulfillment"
	"mirlo/db"
	"mirlo/logger"
	"mirlo/queue"
	"mirlo/storage"
)

// StartWorker runs a standalone archive build worker process. Build jobs
// carry everything the worker needs, so no relational database connection
// is required here: only object storage and Redis.
func StartWorker() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	store, err := storage.New(cfg)
	if err != nil {
		logger.Fatal("failed to initialize object storage", logger.ErrorField(err))
	}

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	jobQueue := queue.New(db.RedisClient)
	statusCache := cache.NewBuildStatusCache(db.RedisClient)
	builder := archive.NewBuilder(store, cfg.AudioBucket, cfg.DownloadsBucket, cfg.StagingDir)

	worker := fulfillment.NewWorker(jobQueue, builder, statusCache, cfg.WorkerCount, cfg.JobStallTimeout)
	worker.Start(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down worker...")
	worker.Stop()
}
