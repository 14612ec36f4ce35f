// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateTenantRequest is the request body for creating a new tenant.
type CreateTenantRequest struct {
	Name           string  `json:"name"`
	RateLimit      float64 `json:"rate_limit,omitempty"` // requests per second, 0 = unlimited
	RateLimitBurst int     `json:"rate_limit_burst,omitempty"`
}

// CreateTenantResponse is the response body after creating a tenant.
type CreateTenantResponse struct {
	ID     string `json:"tenant_id"`
	Name   string `json:"name"`
	ApiKey string `json:"api_key"`
}

// TriggerRequest is an inbound ticket event. The ticket is created the first
// time its key is seen and a graph execution is enqueued every time.
type TriggerRequest struct {
	Key          string          `json:"key"`
	RepositoryID string          `json:"repository_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	WorkflowType string          `json:"workflow_type"`
	Message      json.RawMessage `json:"message,omitempty"`
}

// TriggerResponse is the response body after a trigger is accepted.
type TriggerResponse struct {
	TicketID    string `json:"ticket_id"`
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
	Created     bool   `json:"created"`
}

// ResumeRequest delivers the external event a suspended workflow waits for.
type ResumeRequest struct {
	Message string `json:"message"`
}

// CancelRequest is the request body for cancelling a ticket.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TicketResponse represents a ticket in API responses.
type TicketResponse struct {
	ID           string     `json:"id"`
	Key          string     `json:"key"`
	RepositoryID string     `json:"repository_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	State        string     `json:"state"`
	RetryCount   int        `json:"retry_count"`
	LastError    *string    `json:"last_error,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// Suspension is set while the ticket waits for a resume message.
	Suspension *SuspensionResponse `json:"suspension,omitempty"`
}

// SuspensionResponse describes a suspended workflow.
type SuspensionResponse struct {
	GraphID          string     `json:"graph_id"`
	AgentName        string     `json:"agent_name,omitempty"`
	SuspendedAt      time.Time  `json:"suspended_at"`
	HasResumeMessage bool       `json:"has_resume_message"`
	ResumeAttempts   int        `json:"resume_attempts"`
	LastResumeError  *string    `json:"last_resume_error,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
}

// ListTicketsResponse is the response body for listing tickets.
type ListTicketsResponse struct {
	Tickets []TicketResponse `json:"tickets"`
}

// ExecutionResponse represents an execution request in API responses.
type ExecutionResponse struct {
	ID            string     `json:"id"`
	TicketID      string     `json:"ticket_id"`
	WorkflowType  string     `json:"workflow_type"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error,omitempty"`
	Result        *string    `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListExecutionsResponse is the response body for a ticket's executions.
type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

// EventResponse represents one event log entry. Payload carries the
// kind-specific fields.
type EventResponse struct {
	ID         string          `json:"id"`
	TicketID   string          `json:"ticket_id"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// EventsResponse is one page of events, newest first.
type EventsResponse struct {
	Events []EventResponse `json:"events"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// StatsResponse summarizes a tenant's event log and the global queue depth.
type StatsResponse struct {
	EventsByKind       map[string]int64 `json:"events_by_kind"`
	PendingExecutions  int64            `json:"pending_executions"`
	ResumableWorkflows int64            `json:"resumable_workflows"`
}

// CheckpointResponse represents an active checkpoint.
type CheckpointResponse struct {
	ID            string    `json:"id"`
	CheckpointID  string    `json:"checkpoint_id"`
	TicketID      string    `json:"ticket_id"`
	GraphID       string    `json:"graph_id"`
	AgentName     string    `json:"agent_name,omitempty"`
	NextAgentType string    `json:"next_agent_type,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListCheckpointsResponse is the response body for listing checkpoints.
type ListCheckpointsResponse struct {
	Checkpoints []CheckpointResponse `json:"checkpoints"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
