// Package config loads service configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Storage backend: "postgres" or "memory"
	Store string `mapstructure:"store"`

	// Database connection string, required for the postgres store
	DatabaseURL string `mapstructure:"database_url"`

	// HTTP server port for the controller
	HTTPPort int `mapstructure:"http_port"`

	// URL of the controller (e.g., "http://localhost:6161")
	ControllerURL string `mapstructure:"controller_url"`

	// Bearer token guarding tenant provisioning, empty leaves it open
	AdminToken string `mapstructure:"admin_token"`

	// Browser origins allowed to call the API, empty disables CORS
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	WorkerID           string        `mapstructure:"worker_id"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency"`
	WorkerPollInterval time.Duration `mapstructure:"worker_poll_interval"`
	WorkerMaxBackoff   time.Duration `mapstructure:"worker_max_backoff"`
	WorkerBatchSize    int           `mapstructure:"worker_batch_size"`

	// Retry policy shared by execution and resume retries
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`

	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	ClaimTimeout     time.Duration `mapstructure:"claim_timeout"`

	// Maintenance sweeps
	MaintenanceSchedule  string        `mapstructure:"maintenance_schedule"`
	CheckpointTTL        time.Duration `mapstructure:"checkpoint_ttl"`
	EventRetention       time.Duration `mapstructure:"event_retention"` // 0 keeps events forever
	StaleAnswerThreshold time.Duration `mapstructure:"stale_answer_threshold"`

	// Agent graph executor: "http" or "process"
	Executor        string `mapstructure:"executor"`
	ExecutorURL     string `mapstructure:"executor_url"`
	ExecutorAPIKey  string `mapstructure:"executor_api_key"`
	ExecutorCommand string `mapstructure:"executor_command"`

	// OpenTelemetry collector endpoint, empty disables trace export
	OTELEndpoint     string  `mapstructure:"otel_endpoint"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`

	LogLevel string `mapstructure:"log_level"`
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"store":                  "STORE",
	"database_url":           "DATABASE_URL",
	"http_port":              "PORT",
	"controller_url":         "CONTROLLER_URL",
	"admin_token":            "ADMIN_TOKEN",
	"cors_allowed_origins":   "CORS_ALLOWED_ORIGINS",
	"worker_id":              "WORKER_ID",
	"worker_concurrency":     "WORKER_CONCURRENCY",
	"worker_poll_interval":   "WORKER_POLL_INTERVAL",
	"worker_max_backoff":     "WORKER_MAX_BACKOFF",
	"worker_batch_size":      "WORKER_BATCH_SIZE",
	"max_retries":            "MAX_RETRIES",
	"retry_initial_interval": "RETRY_INITIAL_INTERVAL",
	"retry_max_interval":     "RETRY_MAX_INTERVAL",
	"execution_timeout":      "EXECUTION_TIMEOUT",
	"claim_timeout":          "CLAIM_TIMEOUT",
	"maintenance_schedule":   "MAINTENANCE_SCHEDULE",
	"checkpoint_ttl":         "CHECKPOINT_TTL",
	"event_retention":        "EVENT_RETENTION",
	"stale_answer_threshold": "STALE_ANSWER_THRESHOLD",
	"executor":               "EXECUTOR",
	"executor_url":           "EXECUTOR_URL",
	"executor_api_key":       "EXECUTOR_API_KEY",
	"executor_command":       "EXECUTOR_COMMAND",
	"otel_endpoint":          "OTEL_EXPORTER_OTLP_ENDPOINT",
	"trace_sample_ratio":     "TRACE_SAMPLE_RATIO",
	"log_level":              "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", "postgres")
	v.SetDefault("database_url", "")
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("admin_token", "")
	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("worker_id", "")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", 1*time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_batch_size", 0)
	v.SetDefault("max_retries", 5)
	v.SetDefault("retry_initial_interval", 10*time.Second)
	v.SetDefault("retry_max_interval", 10*time.Minute)
	v.SetDefault("execution_timeout", 30*time.Minute)
	v.SetDefault("claim_timeout", 35*time.Minute)
	v.SetDefault("maintenance_schedule", "@every 10m")
	v.SetDefault("checkpoint_ttl", 30*24*time.Hour)
	v.SetDefault("event_retention", time.Duration(0))
	v.SetDefault("stale_answer_threshold", 48*time.Hour)
	v.SetDefault("executor", "http")
	v.SetDefault("executor_url", "")
	v.SetDefault("executor_api_key", "")
	v.SetDefault("executor_command", "")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the YAML file at path (optional) and then
// environment variables, which take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Store = strings.ToLower(c.Store)
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required (env: DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store %q: must be postgres or memory", c.Store)
	}

	c.Executor = strings.ToLower(c.Executor)
	if c.Executor != "http" && c.Executor != "process" {
		return fmt.Errorf("invalid executor %q: must be http or process", c.Executor)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace_sample_ratio must be between 0 and 1, got %v", c.TraceSampleRatio)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	// A claim that expires while its executor call may still be running
	// hands the same work to a second worker.
	if c.ClaimTimeout > 0 && c.ClaimTimeout <= c.ExecutionTimeout {
		return fmt.Errorf("claim_timeout (%s) must be longer than execution_timeout (%s)", c.ClaimTimeout, c.ExecutionTimeout)
	}
	return nil
}

// ValidateExecutor checks the settings the worker needs to reach its executor.
func (c *Config) ValidateExecutor() error {
	switch c.Executor {
	case "http":
		if c.ExecutorURL == "" {
			return fmt.Errorf("executor_url is required for the http executor (env: EXECUTOR_URL)")
		}
	case "process":
		if len(c.ExecutorArgs()) == 0 {
			return fmt.Errorf("executor_command is required for the process executor (env: EXECUTOR_COMMAND)")
		}
	}
	return nil
}

// ExecutorArgs splits ExecutorCommand on whitespace.
func (c *Config) ExecutorArgs() []string {
	return strings.Fields(c.ExecutorCommand)
}
