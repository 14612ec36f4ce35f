package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ticketflow/internal/auth"
	"ticketflow/internal/store"
	"ticketflow/pkg/api"
)

func TestCreateTenant(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockStore)
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "Success",
			body:           `{"name": "Acme corp", "rate_limit": 5, "rate_limit_burst": 10}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: "api_key",
		},
		{
			name:           "Invalid Request Body",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Name",
			body:           `{"name": "  "}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "name is required",
		},
		{
			name:           "Negative Rate Limit",
			body:           `{"name": "Acme", "rate_limit": -1}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "rate limits",
		},
		{
			name: "Duplicate",
			body: `{"name": "Acme"}`,
			mockSetup: func(m *mockStore) {
				m.createTenantErr = store.ErrDuplicateKey
			},
			expectedStatus: http.StatusConflict,
			expectedInBody: "already exists",
		},
		{
			name: "Database Error",
			body: `{"name": "Crash Corp"}`,
			mockSetup: func(m *mockStore) {
				m.createTenantErr = errors.New("db down")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Failed to create",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockStore()
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}

			h := New(mock, discard)

			req := httptest.NewRequest(http.MethodPost, "/tenants", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			h.CreateTenant(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}

			if tt.expectedInBody != "" && !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %s want substring %s", rr.Body.String(), tt.expectedInBody)
			}

			if tt.expectedStatus == http.StatusCreated {
				var resp api.CreateTenantResponse
				if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}

				if !strings.HasPrefix(resp.ApiKey, auth.KeyPrefix) {
					t.Errorf("api_key must start with %q, got %s", auth.KeyPrefix, resp.ApiKey)
				}

				// The stored hash must resolve back to the tenant.
				tenant, err := mock.GetTenantByAPIKeyHash(req.Context(), auth.HashKey(resp.ApiKey))
				if err != nil {
					t.Fatalf("tenant not stored: %v", err)
				}
				if tenant.RateLimit != 5 || tenant.RateLimitBurst != 10 {
					t.Errorf("rate limits not stored: %+v", tenant)
				}
			}
		})
	}
}
