package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the payload carried by an Event.
type EventKind string

const (
	KindStateChanged       EventKind = "state_changed"
	KindQuestionAdded      EventKind = "question_added"
	KindAnswerAdded        EventKind = "answer_added"
	KindPlanCreated        EventKind = "plan_created"
	KindPullRequestCreated EventKind = "pull_request_created"
	KindWorkflowSuspended  EventKind = "workflow_suspended"
	KindWorkflowCompleted  EventKind = "workflow_completed"
	KindWorkflowFailed     EventKind = "workflow_failed"
	KindWorkflowCancelled  EventKind = "workflow_cancelled"
)

// AllEventKinds lists the closed set of event kinds.
func AllEventKinds() []EventKind {
	return []EventKind{
		KindStateChanged, KindQuestionAdded, KindAnswerAdded, KindPlanCreated,
		KindPullRequestCreated, KindWorkflowSuspended, KindWorkflowCompleted,
		KindWorkflowFailed, KindWorkflowCancelled,
	}
}

// Payload is implemented by the event variants only.
type Payload interface {
	Kind() EventKind
}

// Event is an immutable fact in a ticket's history.
type Event struct {
	ID         uuid.UUID
	TicketID   uuid.UUID
	TenantID   uuid.UUID
	OccurredAt time.Time
	Payload    Payload
}

// Kind returns the discriminator of the event's payload.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

type StateChanged struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type QuestionAdded struct {
	QuestionID uuid.UUID `json:"question_id"`
	Question   string    `json:"question"`
}

type AnswerAdded struct {
	QuestionID uuid.UUID `json:"question_id"`
	AnswerText string    `json:"answer_text"`
}

type PlanCreated struct {
	BranchName string `json:"branch_name"`
}

type PullRequestCreated struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

type WorkflowSuspended struct {
	GraphID string `json:"graph_id"`
	State   State  `json:"state"`
}

// WorkflowCompleted carries the time from ticket creation to completion.
type WorkflowCompleted struct {
	Duration time.Duration `json:"duration"`
}

type WorkflowFailed struct {
	GraphID string `json:"graph_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type WorkflowCancelled struct{}

func (StateChanged) Kind() EventKind       { return KindStateChanged }
func (QuestionAdded) Kind() EventKind      { return KindQuestionAdded }
func (AnswerAdded) Kind() EventKind        { return KindAnswerAdded }
func (PlanCreated) Kind() EventKind        { return KindPlanCreated }
func (PullRequestCreated) Kind() EventKind { return KindPullRequestCreated }
func (WorkflowSuspended) Kind() EventKind  { return KindWorkflowSuspended }
func (WorkflowCompleted) Kind() EventKind  { return KindWorkflowCompleted }
func (WorkflowFailed) Kind() EventKind     { return KindWorkflowFailed }
func (WorkflowCancelled) Kind() EventKind  { return KindWorkflowCancelled }

// EncodePayload serializes a payload for the single-table event log.
func EncodePayload(p Payload) (EventKind, []byte, error) {
	if p == nil {
		return "", nil, fmt.Errorf("encode event payload: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return p.Kind(), data, nil
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	var p Payload
	var err error
	switch kind {
	case KindStateChanged:
		p, err = decodeAs[StateChanged](data)
	case KindQuestionAdded:
		p, err = decodeAs[QuestionAdded](data)
	case KindAnswerAdded:
		p, err = decodeAs[AnswerAdded](data)
	case KindPlanCreated:
		p, err = decodeAs[PlanCreated](data)
	case KindPullRequestCreated:
		p, err = decodeAs[PullRequestCreated](data)
	case KindWorkflowSuspended:
		p, err = decodeAs[WorkflowSuspended](data)
	case KindWorkflowCompleted:
		p, err = decodeAs[WorkflowCompleted](data)
	case KindWorkflowFailed:
		p, err = decodeAs[WorkflowFailed](data)
	case KindWorkflowCancelled:
		p = WorkflowCancelled{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
