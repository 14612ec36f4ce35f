package handlers

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"ticketflow/internal/controller/middleware"
	"ticketflow/internal/store"
	"ticketflow/internal/workflow"
	"ticketflow/pkg/api"

	"github.com/google/uuid"
)

// GetTicketEvents handles GET /tickets/{id}/events.
// It returns the full history of one ticket, newest first.
func (h *Handlers) GetTicketEvents(w http.ResponseWriter, r *http.Request) {
	ticket, ok := h.loadTicket(w, r)
	if !ok {
		return
	}

	events, err := h.store.GetByTicketID(r.Context(), ticket.ID)
	if err != nil {
		h.internalError(w, r, "Failed to load events", err)
		return
	}

	out, err := toEventResponses(events)
	if err != nil {
		h.internalError(w, r, "Failed to encode events", err)
		return
	}
	h.respondJson(w, http.StatusOK, api.EventsResponse{
		Events: out,
		Total:  int64(len(out)),
		Limit:  len(out),
	})
}

// QueryEvents handles GET /events.
// Supported filters: ticket_id, kind (comma separated), from, to (RFC3339), limit, offset.
func (h *Handlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filter, err := eventFilter(r)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.TenantID = tenantID

	result, err := h.store.QueryEvents(r.Context(), filter)
	if err != nil {
		h.internalError(w, r, "Failed to query events", err)
		return
	}

	out, err := toEventResponses(result.Events)
	if err != nil {
		h.internalError(w, r, "Failed to encode events", err)
		return
	}
	h.respondJson(w, http.StatusOK, api.EventsResponse{
		Events: out,
		Total:  result.Total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

type badQuery string

func (e badQuery) Error() string { return string(e) }

func eventFilter(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()

	limit, offset, err := page(r)
	if err != nil {
		return store.EventFilter{}, err
	}
	filter := store.EventFilter{Limit: limit, Offset: offset}

	if s := q.Get("ticket_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return filter, badQuery("Invalid ticket_id")
		}
		filter.TicketID = id
	}

	if s := q.Get("kind"); s != "" {
		known := workflow.AllEventKinds()
		for _, k := range strings.Split(s, ",") {
			kind := workflow.EventKind(strings.TrimSpace(k))
			if !slices.Contains(known, kind) {
				return filter, badQuery("Unknown event kind: " + string(kind))
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, badQuery(p.name + " must be an RFC3339 timestamp")
		}
		*p.dst = &ts
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, badQuery("to must not be before from")
	}
	return filter, nil
}

// EventStats handles GET /events/stats.
func (h *Handlers) EventStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	counts, err := h.store.CountByKind(r.Context(), tenantID)
	if err != nil {
		h.internalError(w, r, "Failed to count events", err)
		return
	}
	pending, err := h.store.CountPendingExecutions(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to count pending executions", err)
		return
	}
	resumable, err := h.store.CountResumableWorkflows(r.Context())
	if err != nil {
		h.internalError(w, r, "Failed to count resumable workflows", err)
		return
	}

	resp := api.StatsResponse{
		EventsByKind:       make(map[string]int64, len(counts)),
		PendingExecutions:  pending,
		ResumableWorkflows: resumable,
	}
	for k, n := range counts {
		resp.EventsByKind[string(k)] = n
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListCheckpoints handles GET /checkpoints.
func (h *Handlers) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cps, err := h.store.GetActiveCheckpointsByTenant(r.Context(), tenantID)
	if err != nil {
		h.internalError(w, r, "Failed to list checkpoints", err)
		return
	}

	resp := api.ListCheckpointsResponse{Checkpoints: make([]api.CheckpointResponse, 0, len(cps))}
	for _, c := range cps {
		resp.Checkpoints = append(resp.Checkpoints, toCheckpointResponse(c))
	}
	h.respondJson(w, http.StatusOK, resp)
}
