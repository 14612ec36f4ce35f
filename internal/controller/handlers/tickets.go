package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ticketflow/internal/controller/middleware"
	"ticketflow/internal/logger"
	"ticketflow/internal/store"
	"ticketflow/internal/workflow"
	"ticketflow/pkg/api"
)

var errTicketClosed = errors.New("ticket is closed")

// TriggerTicket handles POST /tickets.
// The ticket is created on the first trigger for its key. Every trigger
// enqueues one execution of the requested workflow.
func (h *Handlers) TriggerTicket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.TriggerRequest
	if err := decode(r, &req, false); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	req.WorkflowType = strings.TrimSpace(req.WorkflowType)
	if req.Key == "" || req.WorkflowType == "" {
		h.httpError(w, "key and workflow_type are required", http.StatusBadRequest)
		return
	}

	var (
		ticket  *workflow.Ticket
		exec    *store.AgentExecutionRequest
		created bool
	)
	err := h.store.InTx(r.Context(), func(tx store.Repository) error {
		var err error
		ticket, err = tx.GetTicketByKey(r.Context(), tenantID, req.Key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			ticket = workflow.NewTicket(tenantID, req.Key, req.RepositoryID, req.Title, req.Description)
			if err := tx.CreateTicket(r.Context(), ticket); err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		case ticket.State.IsTerminal():
			return errTicketClosed
		}

		exec = &store.AgentExecutionRequest{
			TicketID:       ticket.ID,
			TenantID:       tenantID,
			WorkflowType:   req.WorkflowType,
			InitialMessage: req.Message,
		}
		return tx.EnqueueExecution(r.Context(), exec)
	})
	switch {
	case errors.Is(err, errTicketClosed):
		h.httpError(w, "Ticket is already closed", http.StatusConflict)
		return
	case errors.Is(err, store.ErrDuplicateKey):
		// Lost a race with a concurrent first trigger of the same key.
		h.httpError(w, "Ticket is being created, retry", http.StatusConflict)
		return
	case err != nil:
		h.internalError(w, r, "Failed to trigger ticket", err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("ticket triggered",
		"ticket_id", ticket.ID,
		"execution_id", exec.ExecutionID,
		"workflow_type", exec.WorkflowType,
		"created", created)

	h.respondJson(w, http.StatusAccepted, api.TriggerResponse{
		TicketID:    ticket.ID.String(),
		ExecutionID: exec.ExecutionID.String(),
		State:       string(ticket.State),
		Created:     created,
	})
}

// GetTicket handles GET /tickets/{id}.
func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.loadTicket(w, r)
	if !ok {
		return
	}

	resp := toTicketResponse(ticket)
	wf, err := h.store.GetSuspendedWorkflow(r.Context(), ticket.ID)
	switch {
	case err == nil:
		resp.Suspension = toSuspensionResponse(wf)
	case !errors.Is(err, store.ErrNotFound):
		h.internalError(w, r, "Failed to load suspension", err)
		return
	}

	h.respondJson(w, http.StatusOK, resp)
}

// ListTickets handles GET /tickets?state=&limit=&offset=.
func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, offset, err := page(r)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := store.TicketFilter{TenantID: tenantID, Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("state"); s != "" {
		state := workflow.State(s)
		if !state.IsValid() {
			h.httpError(w, "Unknown state: "+s, http.StatusBadRequest)
			return
		}
		filter.State = &state
	}

	tickets, err := h.store.ListTickets(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "Failed to list tickets", err)
		return
	}

	resp := api.ListTicketsResponse{Tickets: make([]api.TicketResponse, 0, len(tickets))}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, toTicketResponse(t))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ResumeTicket handles POST /tickets/{id}/resume.
// It only stores the message; a worker picks the suspension up on its next poll.
func (h *Handlers) ResumeTicket(w http.ResponseWriter, r *http.Request) {
	var req api.ResumeRequest
	if err := decode(r, &req, false); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.httpError(w, "message is required", http.StatusBadRequest)
		return
	}

	ticket, ok := h.loadTicket(w, r)
	if !ok {
		return
	}

	err := h.store.SetResumeMessage(r.Context(), ticket.ID, req.Message)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Ticket has no suspended workflow", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to resume ticket", err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("resume message stored", "ticket_id", ticket.ID)
	h.respondJson(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// CancelTicket handles POST /tickets/{id}/cancel.
func (h *Handlers) CancelTicket(w http.ResponseWriter, r *http.Request) {
	var req api.CancelRequest
	if err := decode(r, &req, true); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by user"
	}

	ticket, ok := h.loadTicket(w, r)
	if !ok {
		return
	}

	err := h.store.InTx(r.Context(), func(tx store.Repository) error {
		return cancel(r.Context(), tx, ticket, reason)
	})
	switch {
	case errors.Is(err, workflow.ErrInvalidTransition):
		h.httpError(w, "Ticket is already closed", http.StatusConflict)
		return
	case errors.Is(err, store.ErrConcurrentUpdate):
		h.httpError(w, "Ticket was modified concurrently, retry", http.StatusConflict)
		return
	case err != nil:
		h.internalError(w, r, "Failed to cancel ticket", err)
		return
	}

	logger.FromContext(r.Context(), h.logger).Info("ticket cancelled", "ticket_id", ticket.ID, "reason", reason)
	h.respondJson(w, http.StatusOK, toTicketResponse(ticket))
}

func cancel(ctx context.Context, tx store.Repository, ticket *workflow.Ticket, reason string) error {
	if err := ticket.Cancel(reason); err != nil {
		return err
	}
	return tx.SaveTicket(ctx, ticket)
}
