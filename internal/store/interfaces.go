package store

import (
	"context"
	"database/sql"
	"time"

	"ticketflow/internal/workflow"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows the SQL repositories to run against either a connection pool or an active transaction.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TenantStore handles retrieving tenant information for authentication.
type TenantStore interface {
	// CreateTenant inserts a new tenant.
	CreateTenant(ctx context.Context, tenant *Tenant, hashedKey string) error

	// GetTenantByID returns a tenant by its ID.
	GetTenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// GetTenantByAPIKeyHash returns a tenant by its API key hash.
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*Tenant, error)
}

// TicketStore persists tickets. SaveTicket is the only way state changes
// reach storage and it flushes the ticket's pending events to the EventLog.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *workflow.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*workflow.Ticket, error)
	GetTicketByKey(ctx context.Context, tenantID uuid.UUID, key string) (*workflow.Ticket, error)

	// SaveTicket writes the ticket if its Version still matches storage,
	// bumps Version and appends the pending events. Returns ErrConcurrentUpdate otherwise.
	SaveTicket(ctx context.Context, ticket *workflow.Ticket) error

	ListTickets(ctx context.Context, filter TicketFilter) ([]*workflow.Ticket, error)

	// GetStaleAwaitingAnswers returns tickets that have waited for answers longer than threshold.
	GetStaleAwaitingAnswers(ctx context.Context, threshold time.Duration) ([]*workflow.Ticket, error)
}

// EventLog is the append-only ticket history.
type EventLog interface {
	AppendEvents(ctx context.Context, events ...workflow.Event) error

	// GetByTicketID returns the full history of a ticket, newest first.
	GetByTicketID(ctx context.Context, ticketID uuid.UUID) ([]workflow.Event, error)

	QueryEvents(ctx context.Context, filter EventFilter) (EventPage, error)
	CountByKind(ctx context.Context, tenantID uuid.UUID) (map[workflow.EventKind]int64, error)

	// DeleteOlderThan is the retention purge and the only destructive operation.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckpointStore keeps graph snapshots of suspended executions.
type CheckpointStore interface {
	// SaveCheckpoint supersedes the Active checkpoint of (ticketID, graphID), if any,
	// and inserts the snapshot as the new Active one.
	SaveCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string, snapshot Snapshot) (*Checkpoint, error)

	// GetLatestCheckpoint returns the Active checkpoint, or nil when there is none.
	GetLatestCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string) (*Checkpoint, error)

	GetCheckpoint(ctx context.Context, id uuid.UUID) (*Checkpoint, error)

	// MarkAsResumed flips Active to Resumed. Calling it on a non-Active checkpoint is a no-op.
	MarkAsResumed(ctx context.Context, id uuid.UUID) error

	ExpireOldCheckpoints(ctx context.Context, olderThan time.Duration) (int64, error)
	GetActiveCheckpointsByTenant(ctx context.Context, tenantID uuid.UUID) ([]Checkpoint, error)
}

// Queue is the execution backlog drained by the worker.
// Both Get* polls claim the rows they return atomically.
type Queue interface {
	EnqueueExecution(ctx context.Context, req *AgentExecutionRequest) error
	GetExecution(ctx context.Context, executionID uuid.UUID) (*AgentExecutionRequest, error)
	ListExecutionsByTicket(ctx context.Context, ticketID uuid.UUID) ([]AgentExecutionRequest, error)

	// GetPendingExecutions claims up to batchSize due Pending requests, oldest first,
	// and marks them Running.
	GetPendingExecutions(ctx context.Context, batchSize int) ([]AgentExecutionRequest, error)
	MarkExecutionCompleted(ctx context.Context, executionID uuid.UUID, result string) error
	MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, errMsg string) error

	// ScheduleRetry puts the request back to Pending with a backoff delay.
	ScheduleRetry(ctx context.Context, execution *AgentExecutionRequest, errMsg string) error

	// RequeueStaleExecutions recovers Running requests whose last attempt
	// started before now-olderThan, i.e. claims lost to a crashed worker. Each
	// one is charged a retry; a request with no retries left is failed along
	// with its ticket.
	RequeueStaleExecutions(ctx context.Context, olderThan time.Duration) (StaleClaims, error)
	CountPendingExecutions(ctx context.Context) (int64, error)

	// SuspendWorkflow creates or replaces the suspension row of a ticket.
	SuspendWorkflow(ctx context.Context, wf *SuspendedWorkflow) error
	GetSuspendedWorkflow(ctx context.Context, ticketID uuid.UUID) (*SuspendedWorkflow, error)

	// SetResumeMessage delivers the external event a suspension waits for.
	SetResumeMessage(ctx context.Context, ticketID uuid.UUID, message string) error

	// GetSuspendedWorkflowsWithEvents claims up to batchSize suspensions that
	// have a resume message, oldest suspension first.
	GetSuspendedWorkflowsWithEvents(ctx context.Context, batchSize int) ([]SuspendedWorkflow, error)
	MarkWorkflowResumed(ctx context.Context, ticketID uuid.UUID, result string) error
	MarkWorkflowResumeFailed(ctx context.Context, ticketID uuid.UUID, errMsg string) error
	ScheduleResumeRetry(ctx context.Context, wf *SuspendedWorkflow, errMsg string) error
	CountResumableWorkflows(ctx context.Context) (int64, error)
}

// Repository is every workflow persistence operation.
type Repository interface {
	TenantStore
	TicketStore
	EventLog
	CheckpointStore
	Queue
}

// Store is a Repository that can run a group of operations in one transaction.
type Store interface {
	Repository

	// InTx runs fn against a transactional view of the store. Writes made
	// through r commit together if fn returns nil and roll back otherwise.
	InTx(ctx context.Context, fn func(r Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}
