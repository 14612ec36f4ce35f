package handlers

import (
	"errors"
	"net/http"

	"ticketflow/internal/controller/middleware"
	"ticketflow/internal/store"
	"ticketflow/pkg/api"
)

// GetExecution handles GET /executions/{id}.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, ok := pathID(r)
	if !ok {
		h.httpError(w, "Invalid execution id", http.StatusBadRequest)
		return
	}

	exec, err := h.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && exec.TenantID != tenantID) {
		h.httpError(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to load execution", err)
		return
	}

	h.respondJson(w, http.StatusOK, toExecutionResponse(*exec))
}

// ListTicketExecutions handles GET /tickets/{id}/executions.
func (h *Handlers) ListTicketExecutions(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.loadTicket(w, r)
	if !ok {
		return
	}

	execs, err := h.store.ListExecutionsByTicket(r.Context(), ticket.ID)
	if err != nil {
		h.internalError(w, r, "Failed to list executions", err)
		return
	}

	resp := api.ListExecutionsResponse{Executions: make([]api.ExecutionResponse, 0, len(execs))}
	for _, e := range execs {
		resp.Executions = append(resp.Executions, toExecutionResponse(e))
	}
	h.respondJson(w, http.StatusOK, resp)
}
