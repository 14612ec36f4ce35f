// Package maintenance runs the periodic housekeeping sweeps: checkpoint
// expiry, event retention, stale claim recovery and stale-answer detection.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticketflow/internal/observability"
	"ticketflow/internal/store"
	"ticketflow/internal/workflow"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweeps every ten minutes.
const DefaultSchedule = "@every 10m"

// Store is the subset of the repository the sweeps touch.
type Store interface {
	ExpireOldCheckpoints(ctx context.Context, olderThan time.Duration) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	RequeueStaleExecutions(ctx context.Context, olderThan time.Duration) (store.StaleClaims, error)
	GetStaleAwaitingAnswers(ctx context.Context, threshold time.Duration) ([]*workflow.Ticket, error)
}

type Config struct {
	Schedule             string
	CheckpointTTL        time.Duration // 0 disables checkpoint expiry
	EventRetention       time.Duration // 0 keeps events forever
	ClaimTimeout         time.Duration // 0 disables stale claim recovery
	StaleAnswerThreshold time.Duration // 0 disables stale-answer detection
}

// Report summarizes one run of every sweep.
type Report struct {
	ExpiredCheckpoints int64
	PurgedEvents       int64
	RequeuedExecutions int64
	FailedExecutions   int64 // stale claims that used the last retry
	StaleTickets       []uuid.UUID
}

// Sweeper runs the sweeps on a cron schedule.
type Sweeper struct {
	store   Store
	config  Config
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *observability.Instruments
	now     func() time.Time
}

type Option func(*Sweeper)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithInstruments(m *observability.Instruments) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock replaces the wall clock used for the retention cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New validates the schedule and returns a stopped sweeper.
func New(s Store, config Config, opts ...Option) (*Sweeper, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("maintenance: invalid schedule %q: %w", config.Schedule, err)
	}

	sw := &Sweeper{
		store:  s,
		config: config,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(sw)
	}
	// Overlapping runs would double-count; a slow run simply delays the next one.
	sw.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return sw, nil
}

// Start schedules the sweeps and blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("maintenance run finished with errors", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule sweeps: %w", err)
	}

	s.cron.Start()
	s.logger.Info("maintenance started", "schedule", s.config.Schedule)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance stopped")
	return ctx.Err()
}

// RunOnce runs every enabled sweep. A failing sweep does not stop the others;
// their errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	var errs []error

	if s.config.CheckpointTTL > 0 {
		n, err := s.store.ExpireOldCheckpoints(ctx, s.config.CheckpointTTL)
		s.finish(ctx, "expire_checkpoints", n, err, &errs)
		report.ExpiredCheckpoints = n
	}

	if s.config.EventRetention > 0 {
		cutoff := s.now().Add(-s.config.EventRetention)
		n, err := s.store.DeleteOlderThan(ctx, cutoff)
		s.finish(ctx, "purge_events", n, err, &errs)
		report.PurgedEvents = n
	}

	if s.config.ClaimTimeout > 0 {
		stale, err := s.store.RequeueStaleExecutions(ctx, s.config.ClaimTimeout)
		s.finish(ctx, "requeue_stale", stale.Requeued+stale.Failed, err, &errs)
		report.RequeuedExecutions = stale.Requeued
		report.FailedExecutions = stale.Failed
		if stale.Failed > 0 {
			s.logger.Warn("stale executions ran out of retries, tickets failed", "count", stale.Failed)
		}
	}

	if s.config.StaleAnswerThreshold > 0 {
		tickets, err := s.store.GetStaleAwaitingAnswers(ctx, s.config.StaleAnswerThreshold)
		s.finish(ctx, "stale_answers", int64(len(tickets)), err, &errs)
		if err == nil {
			for _, t := range tickets {
				report.StaleTickets = append(report.StaleTickets, t.ID)
				s.logger.Warn("ticket waiting for answers",
					"ticket_id", t.ID,
					"tenant_id", t.TenantID,
					"key", t.Key,
					"waiting", s.now().Sub(t.UpdatedAt).Round(time.Minute))
			}
			s.metrics.SetStaleTickets(ctx, int64(len(tickets)))
		}
	}

	return report, errors.Join(errs...)
}

func (s *Sweeper) finish(ctx context.Context, sweep string, n int64, err error, errs *[]error) {
	s.metrics.RecordSweep(ctx, sweep, err)
	if err != nil {
		s.logger.Error("sweep failed", "sweep", sweep, "error", err)
		*errs = append(*errs, fmt.Errorf("%s: %w", sweep, err))
		return
	}
	if n > 0 {
		s.logger.Info("sweep finished", "sweep", sweep, "affected", n)
	}
}
