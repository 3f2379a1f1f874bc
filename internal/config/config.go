package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values
type Config struct {
	// Server configuration
	Port        int    `json:"port"`
	Environment string `json:"environment"`

	// MongoDB configuration
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	// Redis configuration
	RedisURI      string `json:"redis_uri"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// Collection names
	SyncJobsCollection string `json:"mongo_sync_jobs_collection"`
	SalesCollection    string `json:"mongo_sales_collection"`
	ProductsCollection string `json:"mongo_products_collection"`

	// Marketplace API configuration
	APIBaseURL   string        `json:"api_base_url"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
	ProxyURL     string        `json:"proxy_url"`

	// Sync engine configuration
	DefaultPagesPerChunk  int           `json:"default_pages_per_chunk"`
	BatchFetchConcurrency int           `json:"batch_fetch_concurrency"`
	ChunkWorkerInterval   time.Duration `json:"chunk_worker_interval"`
	ManualSyncTimeout     time.Duration `json:"manual_sync_timeout"`
	ScheduledSyncTimeout  time.Duration `json:"scheduled_sync_timeout"`
	JobRetentionDays      int           `json:"job_retention_days"`

	// Tracing configuration
	TracingEnabled  bool   `json:"tracing_enabled"`
	TracingEndpoint string `json:"tracing_endpoint"`
}

// LoadConfig loads configuration from environment variables. The returned
// config is passed explicitly into every component constructor; there is no
// ambient global.
func LoadConfig() (*Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(getEnvOrDefault("FETCH_TIMEOUT", "45s"))
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT: %w", err)
	}

	pagesPerChunk, err := strconv.Atoi(getEnvOrDefault("DEFAULT_PAGES_PER_CHUNK", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_PAGES_PER_CHUNK: %w", err)
	}

	batchConcurrency, err := strconv.Atoi(getEnvOrDefault("BATCH_FETCH_CONCURRENCY", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_FETCH_CONCURRENCY: %w", err)
	}

	workerInterval, err := time.ParseDuration(getEnvOrDefault("CHUNK_WORKER_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHUNK_WORKER_INTERVAL: %w", err)
	}

	manualTimeout, err := time.ParseDuration(getEnvOrDefault("MANUAL_SYNC_TIMEOUT", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid MANUAL_SYNC_TIMEOUT: %w", err)
	}

	scheduledTimeout, err := time.ParseDuration(getEnvOrDefault("SCHEDULED_SYNC_TIMEOUT", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULED_SYNC_TIMEOUT: %w", err)
	}

	retentionDays, err := strconv.Atoi(getEnvOrDefault("JOB_RETENTION_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_RETENTION_DAYS: %w", err)
	}

	return &Config{
		// Server configuration
		Port:        port,
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		// MongoDB configuration
		MongoURI:      getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnvOrDefault("MONGODB_DATABASE", "marketsync"),

		// Redis configuration
		RedisURI:      getEnvOrDefault("REDIS_URI", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		// Collection names
		SyncJobsCollection: getEnvOrDefault("MONGODB_SYNC_JOBS_COLLECTION", "sync_jobs"),
		SalesCollection:    getEnvOrDefault("MONGODB_SALES_COLLECTION", "sales"),
		ProductsCollection: getEnvOrDefault("MONGODB_PRODUCTS_COLLECTION", "products"),

		// Marketplace API configuration
		APIBaseURL:   getEnvOrDefault("API_BASE_URL", "https://seller-api.takealot.com"),
		FetchTimeout: fetchTimeout,
		ProxyURL:     getEnvOrDefault("PROXY_URL", ""),

		// Sync engine configuration
		DefaultPagesPerChunk:  pagesPerChunk,
		BatchFetchConcurrency: batchConcurrency,
		ChunkWorkerInterval:   workerInterval,
		ManualSyncTimeout:     manualTimeout,
		ScheduledSyncTimeout:  scheduledTimeout,
		JobRetentionDays:      retentionDays,

		// Tracing configuration
		TracingEnabled:  getEnvOrDefault("TRACING_ENABLED", "false") == "true",
		TracingEndpoint: getEnvOrDefault("TRACING_ENDPOINT", "localhost:4317"),
	}, nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
