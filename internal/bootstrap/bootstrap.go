// Package bootstrap builds the store and executor selected by configuration.
// Both the controller and the worker binaries start from here.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"ticketflow/internal/config"
	"ticketflow/internal/retry"
	"ticketflow/internal/store"
	"ticketflow/internal/store/memory"
	"ticketflow/internal/store/postgres"
	"ticketflow/internal/worker/executor"
)

// RetryPolicy is the exponential policy described by the retry settings.
func RetryPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultExponential()
	if cfg.RetryInitialInterval > 0 {
		p.InitialInterval = cfg.RetryInitialInterval
	}
	if cfg.RetryMaxInterval > 0 {
		p.MaxInterval = cfg.RetryMaxInterval
	}
	return p
}

// OpenStore connects the configured store. With migrate set, the Postgres
// schema is brought up to date first.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (store.Store, error) {
	policy := RetryPolicy(cfg)

	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store, state is lost on exit")
		return memory.New(
			memory.WithMaxRetries(cfg.MaxRetries),
			memory.WithBackoff(policy),
			memory.WithClaimTimeout(cfg.ClaimTimeout),
			memory.WithLogger(logger),
		), nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL,
			postgres.WithMaxRetries(cfg.MaxRetries),
			postgres.WithBackoff(policy),
			postgres.WithClaimTimeout(cfg.ClaimTimeout),
			postgres.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		if migrate {
			logger.Info("running database migrations")
			version, err := postgres.Migrate(s.DB())
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("schema up to date", "version", version)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// NewExecutor builds the agent graph executor the worker calls.
func NewExecutor(cfg *config.Config) (executor.Executor, error) {
	if err := cfg.ValidateExecutor(); err != nil {
		return nil, err
	}
	switch cfg.Executor {
	case "process":
		return executor.NewProcessExecutor(cfg.ExecutorArgs(), nil), nil
	default:
		return executor.NewHTTPExecutor(cfg.ExecutorURL, cfg.ExecutorAPIKey), nil
	}
}
