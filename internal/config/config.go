// Package config loads MetaMorph's configuration from the environment,
// struct tag by struct tag, in the same envconfig-driven style used
// across the rest of the stack.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration object, shared by the API and
// worker processes (each reads only the sub-structs it needs).
type Config struct {
	Server      ServerConfig
	Worker      WorkerConfig
	Cache       CacheConfig
	Database    DatabaseConfig
	ObjectStore ObjectStoreConfig
	Queue       QueueConfig
	Redis       RedisConfig
	Metrics     MetricsConfig
}

// ServerConfig configures the HTTP API process.
type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

// WorkerConfig configures the worker process and its media tools
// (§4.3, §5).
type WorkerConfig struct {
	NumWorkers      int           `envconfig:"WORKER_COUNT" default:"5"`
	TempDir         string        `envconfig:"WORKER_TEMP_DIR" default:"/tmp/metamorph"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
	FFmpegPath      string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	ToktxPath       string        `envconfig:"TOKTX_PATH" default:"toktx"`
}

// CacheConfig configures the cache engine, downloader, waiter, and
// refresh pipeline (§3, §4.1, §4.4, §4.5, §6).
type CacheConfig struct {
	// Version scopes the whole KV keyspace; bumping it abandons every
	// existing cache record rather than serving stale ones under new
	// semantics.
	Version int `envconfig:"CACHE_VERSION" default:"1"`
	// MinMaxAgeMinutes floors the max-age sanitizer of §4.1.
	MinMaxAgeMinutes int `envconfig:"CACHE_MIN_MAX_AGE_MINUTES" default:"5"`
	// MaxDownloadSizeMB caps a single source download (§4.3 step 2).
	MaxDownloadSizeMB int64 `envconfig:"CACHE_MAX_DOWNLOAD_SIZE_MB" default:"100"`
	// WaitTimeout bounds Waiter.Wait (§4.5).
	WaitTimeout time.Duration `envconfig:"CACHE_WAIT_TIMEOUT" default:"20s"`
	// PollInterval is the waiter's polling cadence (§4.5).
	PollInterval time.Duration `envconfig:"CACHE_POLL_INTERVAL" default:"100ms"`
	// RefreshDrainTimeout bounds the refresh pipeline's shutdown drain
	// (§4.4).
	RefreshDrainTimeout time.Duration `envconfig:"CACHE_REFRESH_DRAIN_TIMEOUT" default:"5s"`
	// LocalMode swaps Redis/MinIO/RabbitMQ for in-process dev backends
	// (§9).
	LocalMode bool `envconfig:"CACHE_LOCAL_MODE" default:"false"`
	// LocalDir roots the filesystem-backed object store when LocalMode
	// is set.
	LocalDir string `envconfig:"CACHE_LOCAL_DIR" default:"/tmp/metamorph/objects"`
}

// MinMaxAge returns MinMaxAgeMinutes as a time.Duration.
func (c CacheConfig) MinMaxAge() time.Duration {
	return time.Duration(c.MinMaxAgeMinutes) * time.Minute
}

// MaxDownloadBytes returns MaxDownloadSizeMB converted to bytes.
func (c CacheConfig) MaxDownloadBytes() int64 {
	return c.MaxDownloadSizeMB << 20
}

// DatabaseConfig configures the Postgres connection backing the
// supplemental conversion_attempts audit log.
type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"metamorph"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"metamorph"`
	DBName   string `envconfig:"POSTGRES_DB" default:"metamorph"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

// DSN builds a libpq connection string from the fields above.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// ObjectStoreConfig configures the MinIO-backed artifact store (§6
// Object-store key shape, Artifact URL).
type ObjectStoreConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"metamorph"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	// CDNHost, if set, overrides the public host used when building
	// artifact URLs, so they point at a CDN instead of MinIO directly.
	// The scheme still follows UseSSL.
	CDNHost string `envconfig:"CDN_HOST" default:""`
}

// QueueConfig configures the RabbitMQ-backed conversion job queue
// (§4.2, §6).
type QueueConfig struct {
	Host      string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port      int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User      string `envconfig:"RABBITMQ_USER" default:"metamorph"`
	Password  string `envconfig:"RABBITMQ_PASSWORD" default:"metamorph"`
	VHost     string `envconfig:"RABBITMQ_VHOST" default:"/"`
	QueueName string `envconfig:"QUEUE_NAME" default:"conversion_jobs"`
}

// URL builds an AMQP connection string from the fields above.
func (c QueueConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

// RedisConfig configures the KV metadata store (§2.1, §6).
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// MetricsConfig guards the /metrics endpoint (§6).
type MetricsConfig struct {
	// BearerToken, if set, is required as a Bearer token on /metrics.
	BearerToken string `envconfig:"METRICS_BEARER_TOKEN" default:""`
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
