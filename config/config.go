package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis backs the build-job queue and the build-status cache.
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string
	// AudioBucket holds per-track generated masters, DownloadsBucket the
	// built release archives.
	AudioBucket     string
	DownloadsBucket string

	JWTSecret string

	// Archive worker settings.
	WorkerCount     int
	StagingDir      string        // local scratch dir for archives being built
	JobStallTimeout time.Duration // claimed jobs older than this are reported stalled

	LogPath string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for secrets
		DBName:     getEnv("DB_NAME", "mirlo"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:     getEnv("MINIO_REGION", ""),
		AudioBucket:     getEnv("MINIO_AUDIO_BUCKET", "track-audio"),
		DownloadsBucket: getEnv("MINIO_DOWNLOADS_BUCKET", "trackgroup-downloads"),

		JWTSecret: getEnv("JWT_SECRET", "dev-only-secret"),

		WorkerCount:     getEnvInt("WORKER_COUNT", 1),
		StagingDir:      getEnv("ARCHIVE_STAGING_DIR", "staging"),
		JobStallTimeout: time.Duration(getEnvInt("JOB_STALL_TIMEOUT_SECONDS", 600)) * time.Second,

		LogPath: getEnv("LOG_PATH", ""),
	}
}
