// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticketflow/internal/retry"
	"ticketflow/internal/store"

	"github.com/lib/pq"
)

// Defaults for the queue policy.
const (
	DefaultMaxRetries         = 5
	DefaultCheckpointAttempts = 3

	// DefaultClaimTimeout is how long a claimed suspension stays invisible to
	// other workers. It must outlast the executor deadline.
	DefaultClaimTimeout = 35 * time.Minute
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store provides PostgreSQL-backed implementations of all repositories.
// A Store created by InTx runs every statement on the same transaction.
type Store struct {
	db   *sql.DB
	q    store.DBTransaction
	inTx bool

	maxRetries         int
	checkpointAttempts int
	claimTimeout       time.Duration
	backoff            retry.Policy
	logger             *slog.Logger
	now                func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries sets how many retries an execution or resume gets before it is abandoned.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the retry delay policy.
func WithBackoff(p retry.Policy) Option {
	return func(s *Store) {
		if p != nil {
			s.backoff = p
		}
	}
}

// WithClaimTimeout sets how long a resume claim is held before another
// worker may take the suspension.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithLogger sets the logger used for non-fatal store warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New connects to PostgreSQL and returns a store.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return newStore(db, opts...), nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:                 db,
		q:                  db,
		maxRetries:         DefaultMaxRetries,
		checkpointAttempts: DefaultCheckpointAttempts,
		claimTimeout:       DefaultClaimTimeout,
		backoff:            retry.DefaultExponential(),
		logger:             slog.Default(),
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection pool (for migrations).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InTx runs fn inside a single database transaction.
func (s *Store) InTx(ctx context.Context, fn func(r store.Repository) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

// withTx joins the current transaction if there is one, otherwise it opens
// a new one and commits it when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := *s
	txStore.q = tx
	txStore.inTx = true

	if err := fn(&txStore); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// rowsAffectedOrNotFound converts a zero-row update into store.ErrNotFound.
func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
