// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ticketflow/internal/auth"
	"ticketflow/internal/logger"
	"ticketflow/internal/store"
	"ticketflow/pkg/api"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type tenantKey struct{}

// TenantLookup resolves an API key hash to its tenant.
type TenantLookup interface {
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error)
}

// AuthMiddleware authenticates "Authorization: Bearer <api key>" and stores
// the tenant in the request context. Every tenant-scoped route sits behind it.
// Concurrent requests carrying the same key share one store lookup.
func AuthMiddleware(s TenantLookup) func(http.Handler) http.Handler {
	var lookups singleflight.Group

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := bearerToken(r)
			if !ok {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			hash := auth.HashKey(key)
			// The shared lookup must not die with whichever request started it.
			lookupCtx := context.WithoutCancel(r.Context())
			v, err, _ := lookups.Do(hash, func() (interface{}, error) {
				return s.GetTenantByAPIKeyHash(lookupCtx, hash)
			})
			tenant, _ := v.(*store.Tenant)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				logger.FromContext(r.Context(), nil).Error("tenant lookup failed", "error", err)
				writeError(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if tenant == nil {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithTenant(r.Context(), tenant)))
		})
	}
}

// NewContextWithTenant returns a copy of ctx carrying tenant.
func NewContextWithTenant(ctx context.Context, tenant *store.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the authenticated tenant.
func TenantFromContext(ctx context.Context) (*store.Tenant, bool) {
	tenant, ok := ctx.Value(tenantKey{}).(*store.Tenant)
	return tenant, ok && tenant != nil
}

// TenantIDFromContext returns the authenticated tenant's ID.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return tenant.ID, true
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
