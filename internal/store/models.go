// Package store contains the persistence contracts for ticketflow.
package store

import (
	"encoding/json"
	"time"

	"ticketflow/internal/workflow"

	"github.com/google/uuid"
)

// Tenant represents a tenant in the multi-tenant system.
// All operations must be scoped by TenantID.
type Tenant struct {
	ID             uuid.UUID
	Name           string
	RateLimit      float64 // requests per second, 0 means unlimited
	RateLimitBurst int
	CreatedAt      time.Time
}

// CheckpointStatus is the lifecycle of a checkpoint row.
type CheckpointStatus string

const (
	CheckpointActive  CheckpointStatus = "active"
	CheckpointResumed CheckpointStatus = "resumed"
	CheckpointDeleted CheckpointStatus = "deleted"
	CheckpointExpired CheckpointStatus = "expired"
)

// Snapshot is what an executor hands back when a graph suspends.
type Snapshot struct {
	CheckpointID  string          `json:"checkpoint_id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	AgentName     string          `json:"agent_name"`
	NextAgentType string          `json:"next_agent_type,omitempty"`
	StateJSON     json.RawMessage `json:"state"`
}

// Checkpoint is a durable snapshot of one (ticket, graph) execution.
// At most one Active checkpoint exists per (TicketID, GraphID).
type Checkpoint struct {
	ID            uuid.UUID
	CheckpointID  string
	TenantID      uuid.UUID
	TicketID      uuid.UUID
	GraphID       string
	AgentName     string
	NextAgentType string
	StateJSON     json.RawMessage
	Status        CheckpointStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResumedAt     *time.Time
}

// SuspendedWorkflow is a ticket waiting for an external event.
type SuspendedWorkflow struct {
	TicketID           uuid.UUID
	TenantID           uuid.UUID
	GraphID            string
	SuspendedAgentName string
	CheckpointID       uuid.UUID // row id of the Active checkpoint at suspend time
	ResumeMessage      *string
	SuspendedAt        time.Time
	ResumeAttempts     int
	LastResumeError    *string
	NextResumeAt       *time.Time
	ClaimedUntil       *time.Time
	FailedAt           *time.Time
}

// ExecutionStatus represents the state of an execution request.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// AgentExecutionRequest is one scheduled attempt to run a graph to
// completion or suspension.
type AgentExecutionRequest struct {
	ExecutionID    uuid.UUID
	TicketID       uuid.UUID
	TenantID       uuid.UUID
	WorkflowType   string
	InitialMessage json.RawMessage
	Status         ExecutionStatus
	RetryCount     int
	LastError      *string
	Result         *string
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	CompletedAt    *time.Time
}

// StaleClaims counts what RequeueStaleExecutions did with expired claims.
type StaleClaims struct {
	Requeued int64 // back to Pending, charged one retry
	Failed   int64 // out of retries; the ticket was failed as well
}

// TicketFilter constrains ticket list queries.
type TicketFilter struct {
	TenantID uuid.UUID
	State    *workflow.State
	Limit    int // 0 = no limit
	Offset   int
}

// EventFilter constrains event log queries. Zero values mean "any".
type EventFilter struct {
	TenantID uuid.UUID
	TicketID uuid.UUID
	Kinds    []workflow.EventKind
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// EventPage is one page of a filtered event query, newest first.
type EventPage struct {
	Events []workflow.Event
	Total  int64
}
