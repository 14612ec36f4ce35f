package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_MemoryStoreNeedsNoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store != "memory" {
		t.Errorf("expected Store memory, got %s", cfg.Store)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store != "postgres" {
		t.Errorf("expected Store postgres, got %s", cfg.Store)
	}
	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.ControllerURL != "http://localhost:6161" {
		t.Errorf("expected ControllerURL http://localhost:6161, got %s", cfg.ControllerURL)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("expected WorkerConcurrency 1, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != 1*time.Second {
		t.Errorf("expected WorkerPollInterval 1s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxBackoff != 30*time.Second {
		t.Errorf("expected WorkerMaxBackoff 30s, got %v", cfg.WorkerMaxBackoff)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", cfg.MaxRetries)
	}
	if cfg.CheckpointTTL != 720*time.Hour {
		t.Errorf("expected CheckpointTTL 720h, got %v", cfg.CheckpointTTL)
	}
	if cfg.EventRetention != 0 {
		t.Errorf("expected EventRetention 0, got %v", cfg.EventRetention)
	}
	if cfg.MaintenanceSchedule != "@every 10m" {
		t.Errorf("expected MaintenanceSchedule @every 10m, got %s", cfg.MaintenanceSchedule)
	}
	if cfg.ExecutionTimeout != 30*time.Minute {
		t.Errorf("expected ExecutionTimeout 30m, got %v", cfg.ExecutionTimeout)
	}
	if cfg.ClaimTimeout != 35*time.Minute {
		t.Errorf("expected ClaimTimeout 35m, got %v", cfg.ClaimTimeout)
	}
	if cfg.Executor != "http" {
		t.Errorf("expected Executor http, got %s", cfg.Executor)
	}
	if cfg.OTELEndpoint != "" {
		t.Errorf("expected empty OTELEndpoint, got %s", cfg.OTELEndpoint)
	}
	if cfg.TraceSampleRatio != 1 {
		t.Errorf("expected TraceSampleRatio 1, got %v", cfg.TraceSampleRatio)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("WORKER_CONCURRENCY", "5")
	t.Setenv("WORKER_POLL_INTERVAL", "2s")
	t.Setenv("CONTROLLER_URL", "http://custom:8080")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("EVENT_RETENTION", "2160h")
	t.Setenv("EXECUTOR", "process")
	t.Setenv("EXECUTOR_COMMAND", "python3 -m agents.run")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Errorf("expected WorkerConcurrency 5, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != 2*time.Second {
		t.Errorf("expected WorkerPollInterval 2s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.ControllerURL != "http://custom:8080" {
		t.Errorf("expected ControllerURL http://custom:8080, got %s", cfg.ControllerURL)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("expected MaxRetries 7, got %d", cfg.MaxRetries)
	}
	if cfg.EventRetention != 90*24*time.Hour {
		t.Errorf("expected EventRetention 2160h, got %v", cfg.EventRetention)
	}
	if cfg.Executor != "process" {
		t.Errorf("expected Executor process, got %s", cfg.Executor)
	}
	if args := cfg.ExecutorArgs(); len(args) != 3 || args[0] != "python3" {
		t.Errorf("unexpected ExecutorArgs %v", args)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.AdminToken != "s3cret" {
		t.Errorf("expected AdminToken from env, got %s", cfg.AdminToken)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected CORSAllowedOrigins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"store", map[string]string{"STORE": "sqlite"}},
		{"executor", map[string]string{"EXECUTOR": "docker"}},
		{"concurrency", map[string]string{"WORKER_CONCURRENCY": "0"}},
		{"max retries", map[string]string{"MAX_RETRIES": "0"}},
		{"port", map[string]string{"PORT": "not-a-port"}},
		{"duration", map[string]string{"CLAIM_TIMEOUT": "soon"}},
		{"sample ratio", map[string]string{"TRACE_SAMPLE_RATIO": "1.5"}},
		{"claim shorter than execution", map[string]string{"CLAIM_TIMEOUT": "5m"}},
		{"claim equal to execution", map[string]string{"CLAIM_TIMEOUT": "10m", "EXECUTION_TIMEOUT": "10m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_ClaimTimeout(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("EXECUTION_TIMEOUT", "10m")
	t.Setenv("CLAIM_TIMEOUT", "5m")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when claim_timeout is shorter than execution_timeout")
	}
	if want := "claim_timeout (5m0s) must be longer than execution_timeout (10m0s)"; err.Error() != want {
		t.Errorf("got error %q, want %q", err.Error(), want)
	}

	t.Setenv("CLAIM_TIMEOUT", "15m")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClaimTimeout != 15*time.Minute {
		t.Errorf("expected ClaimTimeout 15m, got %v", cfg.ClaimTimeout)
	}

	// Zero turns stale-claim recovery off and is not compared.
	t.Setenv("CLAIM_TIMEOUT", "0s")
	if _, err := Load(""); err != nil {
		t.Errorf("unexpected error for disabled claim timeout: %v", err)
	}
}

func TestValidateExecutor(t *testing.T) {
	cfg := &Config{Executor: "http"}
	if err := cfg.ValidateExecutor(); err == nil {
		t.Error("expected error for http executor without url")
	}
	cfg.ExecutorURL = "http://agents:9000"
	if err := cfg.ValidateExecutor(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg = &Config{Executor: "process", ExecutorCommand: "   "}
	if err := cfg.ValidateExecutor(); err == nil {
		t.Error("expected error for process executor without command")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticketflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
worker_concurrency: 10
checkpoint_ttl: 48h
executor: process
executor_command: ./run-graph
`)

	// Clear env vars that would override
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("EXECUTOR", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("expected WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.CheckpointTTL != 48*time.Hour {
		t.Errorf("expected CheckpointTTL 48h, got %v", cfg.CheckpointTTL)
	}
	if cfg.Executor != "process" {
		t.Errorf("expected Executor process, got %s", cfg.Executor)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
`)

	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
