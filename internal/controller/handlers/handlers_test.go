package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"ticketflow/internal/controller/middleware"
	"ticketflow/internal/store"
	"ticketflow/internal/store/memory"
	"ticketflow/internal/workflow"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// mockStore is the in-memory store with error hooks for the failure paths.
type mockStore struct {
	*memory.Store

	pingErr         error
	createTenantErr error
	inTxErr         error
	getTicketErr    error
	countByKindErr  error
	queryEventsErr  error
}

func newMockStore() *mockStore {
	return &mockStore{Store: memory.New(memory.WithLogger(discard))}
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreateTenant(ctx context.Context, tenant *store.Tenant, hashedKey string) error {
	if m.createTenantErr != nil {
		return m.createTenantErr
	}
	return m.Store.CreateTenant(ctx, tenant, hashedKey)
}

func (m *mockStore) InTx(ctx context.Context, fn func(r store.Repository) error) error {
	if m.inTxErr != nil {
		return m.inTxErr
	}
	return m.Store.InTx(ctx, fn)
}

func (m *mockStore) GetTicket(ctx context.Context, id uuid.UUID) (*workflow.Ticket, error) {
	if m.getTicketErr != nil {
		return nil, m.getTicketErr
	}
	return m.Store.GetTicket(ctx, id)
}

func (m *mockStore) CountByKind(ctx context.Context, tenantID uuid.UUID) (map[workflow.EventKind]int64, error) {
	if m.countByKindErr != nil {
		return nil, m.countByKindErr
	}
	return m.Store.CountByKind(ctx, tenantID)
}

func (m *mockStore) QueryEvents(ctx context.Context, filter store.EventFilter) (store.EventPage, error) {
	if m.queryEventsErr != nil {
		return store.EventPage{}, m.queryEventsErr
	}
	return m.Store.QueryEvents(ctx, filter)
}

func seedTenant(t *testing.T, m *mockStore) *store.Tenant {
	t.Helper()
	tenant := &store.Tenant{ID: uuid.New(), Name: "acme", CreatedAt: time.Now().UTC()}
	if err := m.Store.CreateTenant(context.Background(), tenant, uuid.NewString()); err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	return tenant
}

func seedTicket(t *testing.T, m *mockStore, tenant *store.Tenant, key string) *workflow.Ticket {
	t.Helper()
	ticket := workflow.NewTicket(tenant.ID, key, "repo-1", "Add login", "")
	if err := m.Store.CreateTicket(context.Background(), ticket); err != nil {
		t.Fatalf("failed to seed ticket: %v", err)
	}
	return ticket
}

// asTenant authenticates req the way AuthMiddleware would.
func asTenant(req *http.Request, tenant *store.Tenant) *http.Request {
	return req.WithContext(middleware.NewContextWithTenant(req.Context(), tenant))
}

func withID(req *http.Request, id string) *http.Request {
	return mux.SetURLVars(req, map[string]string{"id": id})
}
