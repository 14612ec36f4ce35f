package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ticketflow/internal/auth"
	"ticketflow/internal/store"
	"ticketflow/pkg/api"

	"github.com/google/uuid"
)

// CreateTenant handles POST /tenants.
// It generates a new API Key, hashes it for storage, and returns the raw key ONCE.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTenantRequest
	if err := decode(r, &req, false); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.httpError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.RateLimit < 0 || req.RateLimitBurst < 0 {
		h.httpError(w, "rate limits must not be negative", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.GenerateKey()
	if err != nil {
		h.internalError(w, r, "Entropy failure", err)
		return
	}

	tenant := &store.Tenant{
		ID:             uuid.New(),
		Name:           req.Name,
		RateLimit:      req.RateLimit,
		RateLimitBurst: req.RateLimitBurst,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.store.CreateTenant(r.Context(), tenant, auth.HashKey(apiKey)); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			h.httpError(w, "Tenant already exists", http.StatusConflict)
			return
		}
		h.internalError(w, r, "Failed to create tenant", err)
		return
	}

	// Return the Raw Key (This is the only time the user sees it)
	h.respondJson(w, http.StatusCreated, api.CreateTenantResponse{
		ID:     tenant.ID.String(),
		Name:   tenant.Name,
		ApiKey: apiKey,
	})
}
