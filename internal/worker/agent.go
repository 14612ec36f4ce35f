// Package worker contains the scheduler that drains the execution queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticketflow/internal/logger"
	"ticketflow/internal/observability"
	"ticketflow/internal/store"
	"ticketflow/internal/worker/executor"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID               string
	Concurrency      int
	PollInterval     time.Duration
	MaxBackoff       time.Duration // Maximum backoff when both queues are empty (default: 30s)
	BatchSize        int           // Max items claimed per poll (default: Concurrency)
	ExecutionTimeout time.Duration // Deadline for one executor call (default: 30m)
	MaxRetries       int           // Attempts before escalation; must match the store (default: 5)
}

const tracerName = "ticketflow/worker"

// Agent is the scheduler. It runs the pull-loop over pending executions and
// resumable suspensions and routes every outcome back into the store.
type Agent struct {
	store    store.Store
	executor executor.Executor
	config   AgentConfig
	logger   *slog.Logger
	metrics  *observability.Instruments
	tracer   trace.Tracer
	pool     *ants.Pool
	wg       sync.WaitGroup
	done     chan struct{}
}

// Option configures an Agent.
type Option func(*Agent)

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithInstruments(m *observability.Instruments) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithTracerProvider replaces the global tracer provider for graph spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Agent) {
		if tp != nil {
			a.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a new worker agent.
func New(s store.Store, ex executor.Executor, config AgentConfig, opts ...Option) (*Agent, error) {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = config.Concurrency
	}
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = 30 * time.Minute
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}

	a := &Agent{
		store:    s,
		executor: ex,
		config:   config,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	pool, err := ants.NewPool(config.Concurrency, ants.WithPanicHandler(func(p any) {
		a.logger.Error("worker goroutine panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	a.pool = pool
	return a, nil
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops claiming new work and lets in-flight items finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "agent_id", a.config.ID, "concurrency", a.config.Concurrency)
	defer close(a.done)

	// Signals that a slot became available (adaptive polling).
	pollNow := make(chan struct{}, 1)

	// Grows while both queues are empty, resets when work is found.
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for in-flight items to finish")
			a.wg.Wait()
			a.pool.Release()
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			free := a.pool.Free()
			if free <= 0 {
				continue
			}

			n, err := a.poll(ctx, free, triggerPoll)
			if err != nil {
				a.logger.Error("poll failed", "error", err)
			}

			if n == 0 {
				currentBackoff *= 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.logger.Debug("claimed work", "items", n)

			if n < free {
				triggerPoll()
			}
		}
	}
}

// RunOnce claims a single batch, processes it and waits for every item.
func (a *Agent) RunOnce(ctx context.Context) (int, error) {
	n, err := a.poll(ctx, a.pool.Free(), nil)
	a.wg.Wait()
	return n, err
}

// Close releases the goroutine pool. Run does this itself on exit.
func (a *Agent) Close() {
	a.pool.Release()
}

// Done returns a channel that is closed when Run has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// poll claims up to free items, executions first, and dispatches them.
func (a *Agent) poll(ctx context.Context, free int, onDone func()) (int, error) {
	limit := free
	if limit > a.config.BatchSize {
		limit = a.config.BatchSize
	}
	if limit <= 0 {
		return 0, nil
	}

	var errs []error

	executions, err := a.store.GetPendingExecutions(ctx, limit)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch pending executions: %w", err))
	}
	for _, req := range executions {
		a.dispatch(ctx, onDone, func(ctx context.Context) { a.processExecution(ctx, req) })
	}

	claimed := len(executions)
	if remaining := limit - claimed; remaining > 0 {
		suspended, err := a.store.GetSuspendedWorkflowsWithEvents(ctx, remaining)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch resumable workflows: %w", err))
		}
		for _, wf := range suspended {
			a.dispatch(ctx, onDone, func(ctx context.Context) { a.processResume(ctx, wf) })
		}
		claimed += len(suspended)
	}

	return claimed, errors.Join(errs...)
}

// dispatch runs fn on the pool. Items outlive the poll context so a shutdown
// drains them instead of abandoning claimed rows.
func (a *Agent) dispatch(ctx context.Context, onDone func(), fn func(context.Context)) {
	itemCtx := context.WithoutCancel(ctx)

	a.wg.Add(1)
	err := a.pool.Submit(func() {
		defer a.wg.Done()
		if onDone != nil {
			defer onDone()
		}
		fn(itemCtx)
	})
	if err != nil {
		// The claim times out and the maintenance sweep hands the item back.
		a.wg.Done()
		a.logger.Error("failed to submit item to pool", "error", err)
	}
}

func (a *Agent) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, a.logger)
}
