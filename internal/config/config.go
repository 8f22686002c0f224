package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3000"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// AppBaseURL is the public URL signer-facing links are built against
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`

	Database   DatabaseConfig
	Jobs       JobsConfig
	Webhooks   WebhooksConfig
	Email      EmailConfig
	Storage    StorageConfig
	Scheduler  SchedulerConfig
	Admin      AdminConfig
	Monitoring MonitoringConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"ezsign"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"ezsign"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// JobsConfig holds worker pool settings shared by all queues
type JobsConfig struct {
	// PollIntervalMs is how often each pool polls its queue (default: 1000)
	PollIntervalMs int `env:"JOBS_POLL_INTERVAL_MS" envDefault:"1000"`
	// BatchSize is the number of jobs claimed per poll (default: 10)
	BatchSize int `env:"JOBS_BATCH_SIZE" envDefault:"10"`
	// Concurrency is the number of handlers running at once per pool (default: 5)
	Concurrency int `env:"JOBS_CONCURRENCY" envDefault:"5"`
	// RatePerSecond caps job starts per second per pool, 0 = unlimited (default: 100)
	RatePerSecond int `env:"JOBS_RATE_PER_SECOND" envDefault:"100"`
	// LeaseMinutes is how long a job may stay active before it is
	// considered stalled and requeued (default: 10)
	LeaseMinutes int `env:"JOBS_LEASE_MINUTES" envDefault:"10"`
	// DefaultMaxAttempts applies when enqueue options do not set one (default: 3)
	DefaultMaxAttempts int `env:"JOBS_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	// BackoffBaseSec is the base delay for exponential backoff (default: 60)
	BackoffBaseSec int `env:"JOBS_BACKOFF_BASE_SEC" envDefault:"60"`
	// CompletedRetentionHours is how long completed jobs are kept (default: 72)
	CompletedRetentionHours int `env:"JOBS_COMPLETED_RETENTION_HOURS" envDefault:"72"`
}

// PollInterval returns the poll interval as a Duration
func (j *JobsConfig) PollInterval() time.Duration {
	return time.Duration(j.PollIntervalMs) * time.Millisecond
}

// WebhooksConfig holds webhook delivery settings
type WebhooksConfig struct {
	// MaxAttempts is the delivery-event retry cap (default: 5)
	MaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`
	// Concurrency bounds simultaneous outbound deliveries (default: 10)
	Concurrency int `env:"WEBHOOK_CONCURRENCY" envDefault:"10"`
	// RatePerSecond is the global outbound request cap (default: 100)
	RatePerSecond int `env:"WEBHOOK_RATE_PER_SECOND" envDefault:"100"`
	// RequestTimeoutMs is the per-delivery HTTP timeout (default: 10000)
	RequestTimeoutMs int `env:"WEBHOOK_REQUEST_TIMEOUT_MS" envDefault:"10000"`
	// RetentionDays is how long delivery events are kept (default: 30)
	RetentionDays int `env:"WEBHOOK_RETENTION_DAYS" envDefault:"30"`
}

// RequestTimeout returns the HTTP timeout as a Duration
func (w *WebhooksConfig) RequestTimeout() time.Duration {
	return time.Duration(w.RequestTimeoutMs) * time.Millisecond
}

// EmailConfig holds email service configuration
type EmailConfig struct {
	// Enabled determines if email sending is enabled
	Enabled bool `env:"EMAIL_ENABLED" envDefault:"false"`
	// MailgunDomain is the Mailgun domain
	MailgunDomain string `env:"MAILGUN_DOMAIN" envDefault:""`
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string `env:"MAILGUN_API_KEY" envDefault:""`
	// FromEmail is the default from email address
	FromEmail string `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@example.com"`
	// FromName is the default from name
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"ezsign"`
}

// IsConfigured returns true if Mailgun is configured
func (e *EmailConfig) IsConfigured() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != ""
}

// StorageConfig holds S3-compatible storage configuration
type StorageConfig struct {
	Endpoint        string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretAccessKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Bucket          string `env:"STORAGE_BUCKET" envDefault:"documents"`
	BucketTemp      string `env:"STORAGE_BUCKET_TEMP" envDefault:"document-temp"`
	Region          string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	UseSSL          bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// SchedulerConfig holds scheduled-task configuration
type SchedulerConfig struct {
	// Enabled controls whether the scheduler runs
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// CleanupSchedule is the cron expression (with seconds) for the daily
	// maintenance run; defaults to 03:00
	CleanupSchedule string `env:"CLEANUP_SCHEDULE" envDefault:"0 0 3 * * *"`
	// StaleSweepInterval is how often stalled jobs are recovered
	StaleSweepInterval time.Duration `env:"STALE_SWEEP_INTERVAL" envDefault:"5m"`
	// DLQRetentionDays is the retention for retried/discarded DLQ entries
	DLQRetentionDays int `env:"DLQ_RETENTION_DAYS" envDefault:"30"`
	// TempFileMaxAgeHours is the max age for temp storage objects
	TempFileMaxAgeHours int `env:"TEMP_FILE_MAX_AGE_HOURS" envDefault:"24"`
}

// MonitoringConfig holds metrics collection settings
type MonitoringConfig struct {
	// Enabled controls the Prometheus collector and /metrics endpoint
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	// RefreshInterval is how often queue depth gauges are refreshed
	RefreshInterval time.Duration `env:"METRICS_REFRESH_INTERVAL" envDefault:"15s"`
}

// AdminConfig holds the operator API gate
type AdminConfig struct {
	// APIKey authorizes the DLQ admin API (X-Admin-Key header).
	// Empty disables the admin surface.
	APIKey string `env:"ADMIN_API_KEY" envDefault:""`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
	)

	return cfg, nil
}
