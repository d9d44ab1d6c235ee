// Package config defines the process configuration for Herald binaries.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid combination fails startup.
package config

import (
	"time"

	"herald/internal/types"
)

// SecretString is the redacted secret type used by every credential field.
type SecretString = types.SecretString

// RenderMargin is the headroom, beyond the provider timeout, that a lease must
// cover so a worker can finish rendering and recording an attempt before its
// lease can be stolen.
const RenderMargin = 5 * time.Second

// Config is the top-level configuration. Sub-components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"herald"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Messaging     MessagingConfig
	Tenant        TenantConfig
	Worker        WorkerConfig
	Auth          AuthConfig
	Maintenance   MaintenanceConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build is injected via ldflags, not the environment.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds the Postgres DSN and pgxpool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds region, endpoint override and queue identifiers.
type AWSConfig struct {
	Region    string `envconfig:"AWS_REGION" default:"us-east-1"`
	AccountID string `envconfig:"AWS_ACCOUNT_ID"`

	// DeadLetterQueueURL is optional; when empty dead letters stay in
	// Postgres only and the summary task reports them as unpublished.
	DeadLetterQueueURL  string `envconfig:"SQS_DLQ" validate:"omitempty,url"`
	SESConfigurationSet string `envconfig:"SES_CONFIGURATION_SET"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// EmailConfig selects and configures the EMAIL channel provider.
type EmailConfig struct {
	Provider     string       `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses smtp log"`
	FromAddress  string       `envconfig:"EMAIL_FROM_ADDRESS" default:"notifications@herald.dev" validate:"email"`
	FromName     string       `envconfig:"EMAIL_FROM_NAME" default:"Herald"`
	SMTPHost     string       `envconfig:"SMTP_HOST"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	SMTPUsername string       `envconfig:"SMTP_USERNAME"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`
}

// MessagingConfig selects the provider used for SMS and PUSH.
type MessagingConfig struct {
	Provider string `envconfig:"SMS_PROVIDER" default:"sns" validate:"oneof=sns log"`
	// SMSSenderID is passed as the AWS.SNS.SMS.SenderID attribute when set.
	SMSSenderID string `envconfig:"SMS_SENDER_ID"`
}

// TenantConfig controls per-tenant channel resource provisioning.
type TenantConfig struct {
	ProvisionResources bool   `envconfig:"TENANT_PROVISION_RESOURCES" default:"false"`
	TopicPrefix        string `envconfig:"TENANT_TOPIC_PREFIX" default:"herald-"`
}

// WorkerConfig tunes the dispatch worker pool.
type WorkerConfig struct {
	Concurrency     int           `envconfig:"WORKER_CONCURRENCY" default:"4" validate:"min=1,max=256"`
	BatchSize       int           `envconfig:"WORKER_BATCH_SIZE" default:"10" validate:"min=1,max=500"`
	PollInterval    time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"1s"`
	LeaseDuration   time.Duration `envconfig:"LEASE_DURATION" default:"60s"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`

	MaxAttempts        int           `envconfig:"MAX_ATTEMPTS" default:"5" validate:"min=1,max=100"`
	RetryBaseDelay     time.Duration `envconfig:"RETRY_BASE_DELAY" default:"30s"`
	RetryMaxDelay      time.Duration `envconfig:"RETRY_MAX_DELAY" default:"1h"`
	RetryBackoffFactor float64       `envconfig:"RETRY_BACKOFF_FACTOR" default:"2.0" validate:"gte=1"`

	// Sustained sends per second, per channel.
	EmailRate float64 `envconfig:"RATE_EMAIL" default:"14" validate:"gt=0"`
	SMSRate   float64 `envconfig:"RATE_SMS" default:"20" validate:"gt=0"`
	PushRate  float64 `envconfig:"RATE_PUSH" default:"50" validate:"gt=0"`

	BreakerFailures uint32        `envconfig:"BREAKER_CONSECUTIVE_FAILURES" default:"5" validate:"min=1"`
	BreakerTimeout  time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// AuthConfig holds credential hashing and last-used bookkeeping settings.
type AuthConfig struct {
	BcryptCost    int           `envconfig:"BCRYPT_COST" default:"10" validate:"min=4,max=31"`
	TouchInterval time.Duration `envconfig:"KEY_TOUCH_INTERVAL" default:"5s"`
	TouchBatch    int           `envconfig:"KEY_TOUCH_BATCH" default:"100" validate:"min=1"`
	TouchBuffer   int           `envconfig:"KEY_TOUCH_BUFFER" default:"1024" validate:"min=1"`
}

// MaintenanceConfig holds cron specs for the in-process maintenance runner.
type MaintenanceConfig struct {
	Enabled            bool          `envconfig:"MAINTENANCE_ENABLED" default:"true"`
	OrphanGrace        time.Duration `envconfig:"ORPHAN_GRACE" default:"1h"`
	LockTTL            time.Duration `envconfig:"MAINTENANCE_LOCK_TTL" default:"10m"`
	ReconcileSchedule  string        `envconfig:"CRON_RECONCILE_ORPHANS" default:"@every 15m"`
	DeadLetterSchedule string        `envconfig:"CRON_DEADLETTER_SUMMARY" default:"@every 5m"`
	StaleLeaseSchedule string        `envconfig:"CRON_STALE_LEASES" default:"@every 1m"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required,min=16"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=cloudwatch prometheus none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Herald"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
