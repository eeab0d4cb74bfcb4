// Package config loads the explicit configuration passed into each component
// at construction time. All values come from the environment with sensible
// development defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries everything the API and worker binaries need.
type Config struct {
	API       APIConfig
	Store     StoreConfig
	Queue     QueueConfig
	Inference InferenceConfig
	Blob      BlobConfig
}

// APIConfig configures the HTTP request tier.
type APIConfig struct {
	Addr            string
	JWTSecret       string
	JWTAudience     string
	SyncWaitTimeout time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig configures the Postgres status store.
type StoreConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// QueueConfig configures the Redis-backed work queue.
type QueueConfig struct {
	RedisAddr      string
	WorkQueue      string
	ResultsQueue   string
	ReceiveMaxWait time.Duration
	AbandonPause   time.Duration
	ResultCacheTTL time.Duration
}

// InferenceConfig configures the external inference collaborator.
type InferenceConfig struct {
	Endpoint          string
	APIToken          string
	DefaultConfidence float64
	DefaultTimeout    time.Duration
	PollInterval      time.Duration
	RequestTimeout    time.Duration
}

// BlobConfig configures where uploaded images are persisted.
type BlobConfig struct {
	Dir     string
	BaseURL string
	Prefix  string
}

// Load reads the full configuration from the environment.
func Load() Config {
	return Config{
		API: APIConfig{
			Addr:            getEnv("API_ADDR", ":8080"),
			JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
			JWTAudience:     os.Getenv("JWT_AUDIENCE"),
			SyncWaitTimeout: getDurationSeconds("SYNC_WAIT_TIMEOUT_S", 25*time.Second),
			PollInterval:    getDurationMillis("SYNC_POLL_INTERVAL_MS", 500*time.Millisecond),
			ShutdownTimeout: getDurationSeconds("SHUTDOWN_TIMEOUT_S", 15*time.Second),
		},
		Store: StoreConfig{
			DSN:             getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=visionq port=5432 sslmode=disable"),
			MaxIdleConns:    5,
			MaxOpenConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Queue: QueueConfig{
			RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
			WorkQueue:      getEnv("QUEUE_LISTEN", "image-queries"),
			ResultsQueue:   getEnv("QUEUE_SEND", "inference-results"),
			ReceiveMaxWait: getDurationSeconds("QUEUE_MAX_WAIT_S", 5*time.Second),
			AbandonPause:   getDurationSeconds("ABANDON_PAUSE_S", time.Second),
			ResultCacheTTL: getDurationSeconds("RESULT_CACHE_TTL_S", 5*time.Minute),
		},
		Inference: InferenceConfig{
			Endpoint:          getEnv("INFERENCE_ENDPOINT", "http://inference:8000"),
			APIToken:          os.Getenv("INFERENCE_API_TOKEN"),
			DefaultConfidence: getFloat("DEFAULT_CONFIDENCE", 0.9),
			DefaultTimeout:    getDurationSeconds("DEFAULT_TIMEOUT", 30*time.Second),
			PollInterval:      getDurationMillis("INFERENCE_POLL_INTERVAL_MS", 500*time.Millisecond),
			RequestTimeout:    getDurationSeconds("INFERENCE_REQUEST_TIMEOUT_S", 10*time.Second),
		},
		Blob: BlobConfig{
			Dir:     getEnv("BLOB_DIR", "data/blobs"),
			BaseURL: getEnv("BLOB_BASE_URL", "file://data/blobs"),
			Prefix:  getEnv("BLOB_PREFIX", "image-queries"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationSeconds(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
			return time.Duration(parsed * float64(time.Second))
		}
	}
	return fallback
}

func getDurationMillis(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return fallback
}
