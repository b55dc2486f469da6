package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis is optional. Without it webhook jobs run on the in-process pool.
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"true"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers for downstream object events. Empty disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-default:""`
	// Topic for object change events
	KafkaObjectTopic string `env:"KAFKA_OBJECT_TOPIC" env-default:"fern.objects"`
	// Compression codec: snappy, gzip, lz4, zstd or none
	KafkaCompression string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Webhook job stream
	QueueStream string `env:"QUEUE_STREAM" env-default:"fern:jobs:webhook"`
	// Dead letter stream
	QueueDLQStream string `env:"QUEUE_DLQ_STREAM" env-default:"fern:jobs:webhook:dlq"`
	// Consumer group name
	QueueConsumerGroup string `env:"QUEUE_CONSUMER_GROUP" env-default:"fern-workers"`
	// Consumer name, defaults to the hostname when empty
	QueueConsumerName string `env:"QUEUE_CONSUMER_NAME" env-default:""`
	// Number of concurrent job workers
	QueueWorkerCount int `env:"QUEUE_WORKER_COUNT" env-default:"4"`
	// Attempts before a job is dead-lettered
	QueueMaxRetries int `env:"QUEUE_MAX_RETRIES" env-default:"3"`
	// How long a pending job must be idle before another worker claims it
	QueueClaimMinIdle time.Duration `env:"QUEUE_CLAIM_MIN_IDLE" env-default:"1m"`
	// Processing timeout for a single job
	QueueJobTimeout time.Duration `env:"QUEUE_JOB_TIMEOUT" env-default:"10m"`

	// Enable the poll-all-connections scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"false"`
	// Cron expression for poll-all passes
	PollSchedule string `env:"POLL_SCHEDULE" env-default:"@every 15m"`
	// Distributed lock TTL for a poll-all pass
	PollLockTTL time.Duration `env:"POLL_LOCK_TTL" env-default:"30m"`

	// Integration platform base URL
	IntegrationBaseURL string `env:"INTEGRATION_BASE_URL" env-default:"https://api.nango.dev"`
	// Integration platform secret key
	IntegrationSecretKey string `env:"INTEGRATION_SECRET_KEY" env-default:""`
	// Outbound request rate to the integration platform
	IntegrationRequestsPerSecond float64       `env:"INTEGRATION_REQUESTS_PER_SECOND" env-default:"10"`
	IntegrationBurst             int           `env:"INTEGRATION_BURST" env-default:"5"`
	IntegrationTimeout           time.Duration `env:"INTEGRATION_TIMEOUT" env-default:"30s"`

	// Document enrichment service. Empty disables enrichment.
	EnrichmentBaseURL string        `env:"ENRICHMENT_BASE_URL" env-default:""`
	EnrichmentTimeout time.Duration `env:"ENRICHMENT_TIMEOUT" env-default:"60s"`

	// Shared secret used to verify webhook signatures
	WebhookSecret string `env:"WEBHOOK_SECRET" env-default:""`
	// Header carrying the hex HMAC-SHA256 signature
	WebhookSignatureHeader string `env:"WEBHOOK_SIGNATURE_HEADER" env-default:"X-Nango-Hmac-Sha256"`

	// Records requested per page
	SyncPageSize int `env:"SYNC_PAGE_SIZE" env-default:"100"`
	// Bound on a single page fetch
	SyncPageTimeout time.Duration `env:"SYNC_PAGE_TIMEOUT" env-default:"60s"`
	// Bound on processing a single record
	SyncRecordTimeout time.Duration `env:"SYNC_RECORD_TIMEOUT" env-default:"30s"`
	// Parallel record workers within one page, 1 is sequential
	SyncRecordConcurrency int `env:"SYNC_RECORD_CONCURRENCY" env-default:"1"`

	// Deep link settings used by normalizers
	SalesforceInstanceDomain string `env:"SALESFORCE_INSTANCE_DOMAIN" env-default:""`
	ZohoOrgID                string `env:"ZOHO_ORG_ID" env-default:""`
	HubspotPortalID          string `env:"HUBSPOT_PORTAL_ID" env-default:""`
	JiraSite                 string `env:"JIRA_SITE" env-default:""`

	// OTLP collector endpoint, tracing is disabled when empty
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:""`
	// OTLP protocol, grpc or http
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required")
	}
	if c.QueueWorkerCount < 1 {
		return errors.New("QUEUE_WORKER_COUNT must be at least 1")
	}
	if c.SyncRecordConcurrency < 1 {
		return errors.New("SYNC_RECORD_CONCURRENCY must be at least 1")
	}
	return nil
}

func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
