// Package executor defines the Agent Graph Executor contract consumed by the
// scheduler, plus HTTP and subprocess implementations.
package executor

import (
	"context"
	"encoding/json"
	"errors"

	"ticketflow/internal/store"
	"ticketflow/internal/workflow"

	"github.com/google/uuid"
)

// Executor runs agent graphs. Implementations must honor ctx cancellation.
type Executor interface {
	// Execute runs workflowType from the start with the trigger message.
	Execute(ctx context.Context, req ExecuteRequest) (Outcome, error)

	// ResumeFromCheckpoint continues a suspended graph with the resume message.
	ResumeFromCheckpoint(ctx context.Context, req ResumeRequest) (Outcome, error)
}

// ExecuteRequest is a first run of a graph.
type ExecuteRequest struct {
	ExecutionID  uuid.UUID       `json:"execution_id"`
	TicketID     uuid.UUID       `json:"ticket_id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	WorkflowType string          `json:"workflow_type"`
	TicketState  workflow.State  `json:"ticket_state"`
	Message      json.RawMessage `json:"message,omitempty"`
	Attempt      int             `json:"attempt"`
}

// ResumeRequest continues a graph from its Active checkpoint.
type ResumeRequest struct {
	TicketID      uuid.UUID      `json:"ticket_id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	GraphID       string         `json:"graph_id"`
	TicketState   workflow.State `json:"ticket_state"`
	Checkpoint    store.Snapshot `json:"checkpoint"`
	ResumeMessage string         `json:"resume_message"`
	Attempt       int            `json:"attempt"`
}

// Status is the kind of outcome a graph run produced.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
)

// Answer pairs a resume answer with the question it belongs to.
type Answer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
}

// PullRequest is the pull request a graph opened.
type PullRequest struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

// Outcome is the result of one graph invocation.
type Outcome struct {
	Status  Status `json:"status"`
	GraphID string `json:"graph_id,omitempty"`

	// Path lists the states the graph moved the ticket through, in order.
	// Every consecutive pair must be an edge of the transition table.
	Path []workflow.State `json:"path,omitempty"`

	// SuspendState is where the ticket waits while suspended.
	SuspendState workflow.State  `json:"suspend_state,omitempty"`
	Snapshot     *store.Snapshot `json:"snapshot,omitempty"`

	Error     string `json:"error,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`

	Questions   []string     `json:"questions,omitempty"`
	Answers     []Answer     `json:"answers,omitempty"`
	PlanBranch  string       `json:"plan_branch,omitempty"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
	Result      string       `json:"result,omitempty"`

	// NextWorkflow, when set on a completed outcome, enqueues the next graph
	// for the same ticket.
	NextWorkflow string          `json:"next_workflow,omitempty"`
	NextMessage  json.RawMessage `json:"next_message,omitempty"`
}

// PermanentError marks a failure that retrying cannot fix, such as invalid input.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or any error it wraps is a *PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
