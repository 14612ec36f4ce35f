// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"ticketflow/internal/controller/middleware"
	"ticketflow/internal/logger"
	"ticketflow/internal/store"
	"ticketflow/internal/workflow"
	"ticketflow/pkg/api"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a new Handlers instance with the given store dependency.
func New(s store.Store, l *slog.Logger) *Handlers {
	if l == nil {
		l = slog.Default()
	}
	return &Handlers{store: s, logger: l}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// internalError logs err and answers with a generic 500.
func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	logger.FromContext(r.Context(), h.logger).Error(message, "error", err, "path", r.URL.Path)
	h.httpError(w, message, http.StatusInternalServerError)
}

// decode reads a JSON body. An empty body is accepted when optional is set.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

// loadTicket resolves the {id} path variable to a ticket owned by the
// authenticated tenant. Tickets of other tenants are reported as not found.
func (h *Handlers) loadTicket(w http.ResponseWriter, r *http.Request) (*workflow.Ticket, bool) {
	tenantID, ok := middleware.TenantIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	id, ok := pathID(r)
	if !ok {
		h.httpError(w, "Invalid ticket id", http.StatusBadRequest)
		return nil, false
	}

	ticket, err := h.store.GetTicket(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && ticket.TenantID != tenantID) {
		h.httpError(w, "Ticket not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.internalError(w, r, "Failed to load ticket", err)
		return nil, false
	}
	return ticket, true
}

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
