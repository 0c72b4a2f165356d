// Package config defines the global configuration structure for the
// Guardpoint platform. Configuration is loaded once at process
// initialization (Lambda cold start) and is immutable thereafter. It follows
// 12-Factor principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to
// fail immediately on startup.
package config

import (
	"time"
)

// Config is the top-level configuration struct for the Guardpoint platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"guardpoint"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server     ServerConfig
	Database   DatabaseConfig
	AWS        AWSConfig
	Scheduler  SchedulerConfig
	Events     EventsConfig
	Resilience ResilienceConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds connection and pool tuning for the metadata and
// event-history store.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds regional configuration and account identity overrides.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// AccountOverride short-circuits the STS identity lookup when set.
	// Used in local development against LocalStack.
	AccountOverride string `envconfig:"AWS_ACCOUNT_OVERRIDE"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SchedulerConfig holds the managed-scheduler surface: the fixed schedule
// group, the execution role assumed by fired schedules, and the encryption
// key for scheduled payloads.
type SchedulerConfig struct {
	GroupName        string `envconfig:"SCHEDULER_GROUP" default:"guardpoint-compliance"`
	ExecutionRoleARN string `envconfig:"SCHEDULER_ROLE_ARN" validate:"required"`
	KMSKeyARN        string `envconfig:"SCHEDULER_KMS_KEY_ARN"`
}

// EventsConfig holds event-bus and notification plumbing identifiers.
type EventsConfig struct {
	BusName           string `envconfig:"EVENT_BUS_NAME" default:"default"`
	NotificationTopic string `envconfig:"NOTIFICATION_TOPIC" validate:"required"`
	DLQUrl            string `envconfig:"EVENT_DLQ_URL"`
	MetricNamespace   string `envconfig:"METRIC_NAMESPACE" default:"Guardpoint"`
}

// ResilienceConfig tunes the shared circuit-breaker and retry layer.
type ResilienceConfig struct {
	BreakerThreshold       uint32        `envconfig:"BREAKER_THRESHOLD" default:"5"`
	BreakerRecoveryTimeout time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"30s"`
	RetryMaxAttempts       int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay         time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay          time.Duration `envconfig:"RETRY_MAX_DELAY" default:"10s"`
}
