package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mirlo/cache"
	"mirlo/config"
	"mirlo/core/archive"
	"mirlo/core/auth"
	"mirlo/core/fulfillment"
	"mirlo/db"
	"mirlo/logger"
	"mirlo/queue"
	"mirlo/repository"
	"mirlo/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and runs the HTTP server. When withWorker
// is true an archive build worker runs in-process alongside the server.
func Start(withWorker bool) {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	auth.SetSecret(cfg.JWTSecret)

	store, err := storage.New(cfg)
	if err != nil {
		logger.Fatal("failed to initialize object storage", logger.ErrorField(err))
	}

	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("failed to initialize database", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database with GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	userRepo := repository.NewMySQLUserRepository(db.DB)
	trackRepo := repository.NewMySQLTrackRepository(db.DB)
	trackGroupRepo := repository.NewMySQLTrackGroupRepository(db.DB)
	purchaseRepo := repository.NewGormPurchaseRepository(db.GormDB)

	jobQueue := queue.New(db.RedisClient)
	statusCache := cache.NewBuildStatusCache(db.RedisClient)

	svc := fulfillment.NewService(
		userRepo, purchaseRepo, trackGroupRepo, trackRepo,
		store, jobQueue, statusCache,
		cfg.AudioBucket, cfg.DownloadsBucket,
	)

	var worker *fulfillment.Worker
	if withWorker {
		builder := archive.NewBuilder(store, cfg.AudioBucket, cfg.DownloadsBucket, cfg.StagingDir)
		worker = fulfillment.NewWorker(jobQueue, builder, statusCache, cfg.WorkerCount, cfg.JobStallTimeout)
		worker.Start(context.Background())
		defer worker.Stop()
	}

	apiHandler := NewAPIHandler(svc, userRepo, purchaseRepo, store, statusCache, cfg.DownloadsBucket)
	router := NewRouter(apiHandler)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // large archives stream for a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}
}

// NewRouter builds the API router with CORS handling.
func NewRouter(apiHandler *APIHandler) *mux.Router {
	router := mux.NewRouter()

	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Disposition")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// Download endpoints accept either Bearer session identity or
	// (email, token) query parameters; identity is resolved inside.
	router.HandleFunc("/api/trackGroups/{id}/download", apiHandler.DownloadTrackGroupHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/trackGroups/{id}/generate", apiHandler.GenerateTrackGroupHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/trackGroups/{id}/download-status", apiHandler.DownloadStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/download", apiHandler.DownloadTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{id}", apiHandler.JobStatusHandler).Methods(http.MethodGet)

	router.HandleFunc("/api/purchases", apiHandler.AuthMiddleware(apiHandler.RegisterPurchaseHandler)).Methods(http.MethodPost)

	return router
}
