package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
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
	// Database Migration Version, 0 means latest
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Enabled - when false, X-Tenant-ID and X-User-ID headers are trusted
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated), empty disables Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Audit stream of routed integration events
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"integration-events"`
	// CRM-side events consumed by the notification dispatcher
	KafkaCRMTopic        string `env:"KAFKA_CRM_TOPIC" env-default:"crm-events"`
	KafkaConsumerGroup   string `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-notifications"`
	KafkaConsumerEnabled bool   `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Redis Streams job queue
	QueueEnabled       bool   `env:"QUEUE_ENABLED" env-default:"true"`
	QueueStream        string `env:"QUEUE_STREAM" env-default:"fern:jobs"`
	QueueConsumerGroup string `env:"QUEUE_CONSUMER_GROUP" env-default:"fern-workers"`
	// Consumer name (defaults to hostname if empty)
	QueueConsumerName string `env:"QUEUE_CONSUMER_NAME" env-default:""`
	QueueWorkerCount  int    `env:"QUEUE_WORKER_COUNT" env-default:"4"`
	QueueMaxRetries   int    `env:"QUEUE_MAX_RETRIES" env-default:"3"`

	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"1m"`
	SyncInterval          time.Duration `env:"SYNC_INTERVAL" env-default:"15m"`

	// Per-call timeout for outbound provider requests
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" env-default:"20s"`
	// Outbound calls allowed per tenant+provider per minute
	ProviderRateLimit int `env:"PROVIDER_RATE_LIMIT" env-default:"120"`
	// Inbound webhook deliveries allowed per tenant+provider per minute
	WebhookRateLimit int `env:"WEBHOOK_RATE_LIMIT" env-default:"600"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID" env-default:""`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET" env-default:""`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL" env-default:""`
	// Fallback bot token used when a tenant config has none
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN" env-default:""`
	TelegramBaseURL  string `env:"TELEGRAM_BASE_URL" env-default:"https://api.telegram.org"`
	LinearURL        string `env:"LINEAR_URL" env-default:"https://api.linear.app/graphql"`
	// Public base URL used to build webhook callback URLs
	WebhookBaseURL string `env:"WEBHOOK_BASE_URL" env-default:""`

	// Optional YAML file overriding the built-in automation rules
	AutomationRulesPath string `env:"AUTOMATION_RULES_PATH" env-default:""`

	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
