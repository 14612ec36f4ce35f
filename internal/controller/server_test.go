package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"ticketflow/internal/store/memory"
	"ticketflow/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_TicketLifecycle(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	srv := New(":0", memory.New(memory.WithLogger(discard)),
		WithLogger(discard),
		WithAdminToken("admin"),
		WithMetricsHandler(metrics))
	h := srv.Handler()

	// Tenant bootstrap requires the admin token.
	rr := do(t, h, http.MethodPost, "/tenants", "", api.CreateTenantRequest{Name: "acme"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/tenants", "admin", api.CreateTenantRequest{Name: "acme"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var tenant api.CreateTenantResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&tenant))

	// Tenant routes reject missing credentials.
	rr = do(t, h, http.MethodGet, "/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/tickets", tenant.ApiKey, api.TriggerRequest{
		Key:          "PROJ-7",
		RepositoryID: "repo",
		Title:        "Add login",
		WorkflowType: "refinement",
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	var trig api.TriggerResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&trig))
	assert.True(t, trig.Created)
	assert.Equal(t, "triggered", trig.State)

	rr = do(t, h, http.MethodGet, "/tickets/"+trig.TicketID, tenant.ApiKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"key":"PROJ-7"`)

	rr = do(t, h, http.MethodGet, "/executions/"+trig.ExecutionID, tenant.ApiKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"pending"`)

	rr = do(t, h, http.MethodGet, "/events/stats", tenant.ApiKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"pending_executions":1`)

	rr = do(t, h, http.MethodPost, "/tickets/"+trig.TicketID+"/cancel", tenant.ApiKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/events?kind=workflow_cancelled", tenant.ApiKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":1`)
}

func TestServer_PublicRoutes(t *testing.T) {
	srv := New(":0", memory.New(memory.WithLogger(discard)), WithLogger(discard),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ticketflow_up 1"))
		})))
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)

	rr := do(t, h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ticketflow_up")

	// Without an admin token tenant creation stays open.
	rr = do(t, h, http.MethodPost, "/tenants", "", api.CreateTenantRequest{Name: "open"})
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestServer_CORS(t *testing.T) {
	srv := New(":0", memory.New(memory.WithLogger(discard)), WithLogger(discard),
		WithCORS([]string{"https://board.example.com"}))
	h := srv.Handler()

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/tickets", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight("https://board.example.com")
	assert.Equal(t, "https://board.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = preflight("https://evil.example.com")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://board.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://board.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
