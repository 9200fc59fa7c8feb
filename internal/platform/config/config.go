// Package config loads process configuration from environment variables
// (P8_-prefixed) with an optional local .env file for development.
package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	URL             string `env:"P8_DATABASE_URL,required"`
	MaxOpenConns    int    `env:"P8_DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int    `env:"P8_DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"P8_DATABASE_CONN_MAX_LIFETIME_SECONDS,default=300"`
	MigrateOnStart  bool   `env:"P8_DATABASE_MIGRATE_ON_START,default=true"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `env:"P8_LOG_LEVEL,default=info"`
	Format string `env:"P8_LOG_FORMAT,default=text"`
}

// KMSConfig selects and configures the key-management backend (§6).
type KMSConfig struct {
	Provider      string `env:"P8_KMS_PROVIDER,default=local"`
	LocalMasterKey string `env:"P8_KMS_LOCAL_MASTER_KEY"`
	VaultAddr     string `env:"P8_KMS_VAULT_ADDR"`
	VaultToken    string `env:"P8_KMS_VAULT_TOKEN"`
	VaultTransitKey string `env:"P8_KMS_VAULT_TRANSIT_KEY,default=p8k8"`
	AWSEndpoint   string `env:"P8_KMS_AWS_ENDPOINT"`
	AWSKeyID      string `env:"P8_KMS_AWS_KEY_ID"`
	AWSAccessKey  string `env:"P8_KMS_AWS_ACCESS_KEY"`
	AWSSecretKey  string `env:"P8_KMS_AWS_SECRET_KEY"`
}

// MemoryConfig controls the chat-memory pipeline's context assembly (§2).
type MemoryConfig struct {
	EmbeddingModel           string  `env:"P8_EMBEDDING_MODEL,default=text-embedding-3-small"`
	EmbeddingMinSimilarity   float64 `env:"P8_EMBEDDING_MIN_SIMILARITY,default=0.3"`
	ContextTokenBudget       int     `env:"P8_CONTEXT_TOKEN_BUDGET,default=8000"`
	AlwaysIncludeLastMessages int    `env:"P8_ALWAYS_INCLUDE_LAST_MESSAGES,default=6"`
}

// QueueConfig controls scheduler/worker cadence (§5).
type QueueConfig struct {
	StaleClaimMinutes  int `env:"P8_QUEUE_STALE_CLAIM_MINUTES,default=15"`
	RetryBaseSeconds   int `env:"P8_QUEUE_RETRY_BASE_SECONDS,default=30"`
	RetryBackoffBase   int `env:"P8_QUEUE_RETRY_BACKOFF_BASE,default=4"`
	MaxRetries         int `env:"P8_QUEUE_MAX_RETRIES,default=5"`
	ClaimPollSeconds   int `env:"P8_QUEUE_CLAIM_POLL_SECONDS,default=5"`
}

// MetricsConfig controls the internal health/metrics surface.
type MetricsConfig struct {
	Host string `env:"P8_METRICS_HOST,default=0.0.0.0"`
	Port int    `env:"P8_METRICS_PORT,default=9090"`
}

// BlobConfig selects and configures the file-storage backend (§4.9's
// file_processing handler fetches uploaded files through this). Endpoint
// is left blank for native AWS S3 and set for S3-compatible backends
// (MinIO, Hetzner) the same way the example pack's storage package
// configures them.
type BlobConfig struct {
	Bucket    string `env:"P8_BLOB_BUCKET,required"`
	Region    string `env:"P8_BLOB_REGION,default=us-east-1"`
	Endpoint  string `env:"P8_BLOB_ENDPOINT"`
	AccessKey string `env:"P8_BLOB_ACCESS_KEY"`
	SecretKey string `env:"P8_BLOB_SECRET_KEY"`
	UsePathStyle bool `env:"P8_BLOB_USE_PATH_STYLE,default=false"`
}

// AgentConfig selects the chat-completion/embedding provider backing
// internal/llm.Client.
type AgentConfig struct {
	Provider      string `env:"P8_LLM_PROVIDER,default=stub"`
	DefaultModel  string `env:"P8_LLM_DEFAULT_MODEL,default=stub-model"`
	NewsHour      int    `env:"P8_NEWS_HOUR,default=7"`
	ProviderRPS   float64 `env:"P8_LLM_PROVIDER_RPS,default=5"`
}

// SeedConfig points at the YAML fixture internal/platform/seed bootstraps
// the schemas registry from at install time.
type SeedConfig struct {
	FixturePath string `env:"P8_SEED_FIXTURE_PATH,default=configs/seed.yaml"`
}

// Config is the top-level process configuration.
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	KMS      KMSConfig
	Memory   MemoryConfig
	Queue    QueueConfig
	Metrics  MetricsConfig
	Blob     BlobConfig
	Agent    AgentConfig
	Seed     SeedConfig
}

// Load reads a local .env file (if present) and decodes P8_-prefixed
// environment variables into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode env: %w", err)
	}
	return cfg, nil
}
