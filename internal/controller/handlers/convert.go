package handlers

import (
	"encoding/json"

	"ticketflow/internal/store"
	"ticketflow/internal/workflow"
	"ticketflow/pkg/api"
)

func toTicketResponse(t *workflow.Ticket) api.TicketResponse {
	return api.TicketResponse{
		ID:           t.ID.String(),
		Key:          t.Key,
		RepositoryID: t.RepositoryID,
		Title:        t.Title,
		Description:  t.Description,
		State:        string(t.State),
		RetryCount:   t.RetryCount,
		LastError:    t.LastError,
		Version:      t.Version,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func toSuspensionResponse(wf *store.SuspendedWorkflow) *api.SuspensionResponse {
	return &api.SuspensionResponse{
		GraphID:          wf.GraphID,
		AgentName:        wf.SuspendedAgentName,
		SuspendedAt:      wf.SuspendedAt,
		HasResumeMessage: wf.ResumeMessage != nil,
		ResumeAttempts:   wf.ResumeAttempts,
		LastResumeError:  wf.LastResumeError,
		FailedAt:         wf.FailedAt,
	}
}

func toExecutionResponse(e store.AgentExecutionRequest) api.ExecutionResponse {
	return api.ExecutionResponse{
		ID:            e.ExecutionID.String(),
		TicketID:      e.TicketID.String(),
		WorkflowType:  e.WorkflowType,
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		LastError:     e.LastError,
		Result:        e.Result,
		CreatedAt:     e.CreatedAt,
		LastAttemptAt: e.LastAttemptAt,
		NextRetryAt:   e.NextRetryAt,
		CompletedAt:   e.CompletedAt,
	}
}

func toEventResponse(e workflow.Event) (api.EventResponse, error) {
	kind, payload, err := workflow.EncodePayload(e.Payload)
	if err != nil {
		return api.EventResponse{}, err
	}
	return api.EventResponse{
		ID:         e.ID.String(),
		TicketID:   e.TicketID.String(),
		Kind:       string(kind),
		OccurredAt: e.OccurredAt,
		Payload:    json.RawMessage(payload),
	}, nil
}

func toEventResponses(events []workflow.Event) ([]api.EventResponse, error) {
	out := make([]api.EventResponse, 0, len(events))
	for _, e := range events {
		r, err := toEventResponse(e)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toCheckpointResponse(c store.Checkpoint) api.CheckpointResponse {
	return api.CheckpointResponse{
		ID:            c.ID.String(),
		CheckpointID:  c.CheckpointID,
		TicketID:      c.TicketID.String(),
		GraphID:       c.GraphID,
		AgentName:     c.AgentName,
		NextAgentType: c.NextAgentType,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt,
	}
}
