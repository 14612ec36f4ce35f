package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is matched by every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// InvalidTransitionError reports an edge that is not in the transition table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid workflow transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// Ticket is one unit of work moving through the pipeline.
// State must only be changed through TransitionTo.
type Ticket struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Key          string // external ticket id, e.g. "PROJ-123"
	RepositoryID string
	Title        string
	Description  string
	State        State
	RetryCount   int
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time

	// Version is bumped by the store on every save and guards against lost updates.
	Version int64

	pending []Event
}

// NewTicket returns a ticket in the Triggered state.
func NewTicket(tenantID uuid.UUID, key, repositoryID, title, description string) *Ticket {
	ts := now()
	return &Ticket{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Key:          key,
		RepositoryID: repositoryID,
		Title:        title,
		Description:  description,
		State:        StateTriggered,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
}

// TransitionTo moves the ticket to the given state and records exactly one
// StateChanged event. An edge that is not in the table leaves the ticket
// untouched and returns an *InvalidTransitionError.
func (t *Ticket) TransitionTo(to State, reason string) error {
	from := t.State
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	ts := now()
	t.State = to
	t.UpdatedAt = ts
	if to.IsTerminal() {
		t.CompletedAt = &ts
	}
	t.record(ts, StateChanged{From: from, To: to, Reason: reason})
	return nil
}

// AddQuestion records a clarifying question and returns its id.
func (t *Ticket) AddQuestion(question string) uuid.UUID {
	id := uuid.New()
	t.record(now(), QuestionAdded{QuestionID: id, Question: question})
	return id
}

// AddAnswer records the answer to a previously posted question.
func (t *Ticket) AddAnswer(questionID uuid.UUID, answer string) {
	t.record(now(), AnswerAdded{QuestionID: questionID, AnswerText: answer})
}

// RecordPlan records the branch created for an approved plan.
func (t *Ticket) RecordPlan(branchName string) {
	t.record(now(), PlanCreated{BranchName: branchName})
}

// RecordPullRequest records the pull request opened for the ticket.
func (t *Ticket) RecordPullRequest(url string, number int) {
	t.record(now(), PullRequestCreated{URL: url, Number: number})
}

// Suspend records that graphID halted while the ticket waits in state.
func (t *Ticket) Suspend(graphID string, state State) {
	t.record(now(), WorkflowSuspended{GraphID: graphID, State: state})
}

// Complete moves the ticket to Completed and records the total duration.
func (t *Ticket) Complete(reason string) error {
	if err := t.TransitionTo(StateCompleted, reason); err != nil {
		return err
	}
	t.record(t.UpdatedAt, WorkflowCompleted{Duration: t.UpdatedAt.Sub(t.CreatedAt)})
	return nil
}

// Fail escalates a ticket after an unrecoverable execution error. A ticket
// that was implementing lands in ImplementationFailed, anything else in Failed.
func (t *Ticket) Fail(graphID string, cause string) error {
	target := StateFailed
	if t.State == StateImplementing {
		target = StateImplementationFailed
	}
	if err := t.TransitionTo(target, cause); err != nil {
		return err
	}
	t.LastError = &cause
	t.record(t.UpdatedAt, WorkflowFailed{GraphID: graphID, Error: cause})
	return nil
}

// Cancel moves the ticket to Cancelled.
func (t *Ticket) Cancel(reason string) error {
	if err := t.TransitionTo(StateCancelled, reason); err != nil {
		return err
	}
	t.record(t.UpdatedAt, WorkflowCancelled{})
	return nil
}

// RecordRetry keeps the ticket's view of retry bookkeeping in step with the queue.
func (t *Ticket) RecordRetry(retryCount int, cause string) {
	t.RetryCount = retryCount
	t.LastError = &cause
	t.UpdatedAt = now()
}

// PendingEvents returns events recorded since the last save, oldest first.
func (t *Ticket) PendingEvents() []Event {
	out := make([]Event, len(t.pending))
	copy(out, t.pending)
	return out
}

// ClearPendingEvents is called by the store once pending events are persisted.
func (t *Ticket) ClearPendingEvents() {
	t.pending = nil
}

func (t *Ticket) record(at time.Time, p Payload) {
	t.pending = append(t.pending, Event{
		ID:         uuid.New(),
		TicketID:   t.ID,
		TenantID:   t.TenantID,
		OccurredAt: at,
		Payload:    p,
	})
}
