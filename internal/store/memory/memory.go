// Package memory is an in-process implementation of store.Store. It backs
// the STORE=memory development mode and the worker tests, and follows the
// same claim and versioning rules as the postgres store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ticketflow/internal/retry"
	"ticketflow/internal/store"
	"ticketflow/internal/workflow"

	"github.com/google/uuid"
)

const (
	defaultMaxRetries   = 5
	defaultClaimTimeout = 35 * time.Minute
)

type data struct {
	tenants     map[uuid.UUID]store.Tenant
	keyHashes   map[string]uuid.UUID
	tickets     map[uuid.UUID]workflow.Ticket
	events      []workflow.Event
	checkpoints map[uuid.UUID]store.Checkpoint
	suspended   map[uuid.UUID]store.SuspendedWorkflow
	executions  map[uuid.UUID]store.AgentExecutionRequest
	seq         map[uuid.UUID]int64 // execution insertion order
	nextSeq     int64
}

func newData() *data {
	return &data{
		tenants:     make(map[uuid.UUID]store.Tenant),
		keyHashes:   make(map[string]uuid.UUID),
		tickets:     make(map[uuid.UUID]workflow.Ticket),
		checkpoints: make(map[uuid.UUID]store.Checkpoint),
		suspended:   make(map[uuid.UUID]store.SuspendedWorkflow),
		executions:  make(map[uuid.UUID]store.AgentExecutionRequest),
		seq:         make(map[uuid.UUID]int64),
	}
}

func (d *data) clone() *data {
	c := &data{
		tenants:     make(map[uuid.UUID]store.Tenant, len(d.tenants)),
		keyHashes:   make(map[string]uuid.UUID, len(d.keyHashes)),
		tickets:     make(map[uuid.UUID]workflow.Ticket, len(d.tickets)),
		events:      append([]workflow.Event(nil), d.events...),
		checkpoints: make(map[uuid.UUID]store.Checkpoint, len(d.checkpoints)),
		suspended:   make(map[uuid.UUID]store.SuspendedWorkflow, len(d.suspended)),
		executions:  make(map[uuid.UUID]store.AgentExecutionRequest, len(d.executions)),
		seq:         make(map[uuid.UUID]int64, len(d.seq)),
		nextSeq:     d.nextSeq,
	}
	for k, v := range d.tenants {
		c.tenants[k] = v
	}
	for k, v := range d.keyHashes {
		c.keyHashes[k] = v
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	for k, v := range d.checkpoints {
		c.checkpoints[k] = v
	}
	for k, v := range d.suspended {
		c.suspended[k] = v
	}
	for k, v := range d.executions {
		c.executions[k] = v
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	return c
}

// Store keeps all state in maps guarded by one mutex.
type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool

	maxRetries   int
	claimTimeout time.Duration
	backoff      retry.Policy
	logger       *slog.Logger
	now          func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithBackoff(p retry.Policy) Option {
	return func(s *Store) {
		if p != nil {
			s.backoff = p
		}
	}
}

// WithClaimTimeout sets how long a resume claim hides a suspension from other polls.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		mu:           &sync.Mutex{},
		d:            newData(),
		maxRetries:   defaultMaxRetries,
		claimTimeout: defaultClaimTimeout,
		backoff:      retry.DefaultExponential(),
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// InTx runs fn with the store locked and restores the previous state if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(r store.Repository) error) error {
	return s.withTx(func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTx(fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := *s
	tx.inTx = true
	if err := fn(&tx); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

// Tenants

func (s *Store) CreateTenant(ctx context.Context, tenant *store.Tenant, hashedKey string) error {
	defer s.lock()()
	if _, ok := s.d.keyHashes[hashedKey]; ok {
		return store.ErrDuplicateKey
	}
	if _, ok := s.d.tenants[tenant.ID]; ok {
		return store.ErrDuplicateKey
	}
	s.d.tenants[tenant.ID] = *tenant
	s.d.keyHashes[hashedKey] = tenant.ID
	return nil
}

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	defer s.lock()()
	t, ok := s.d.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error) {
	defer s.lock()()
	id, ok := s.d.keyHashes[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	t := s.d.tenants[id]
	return &t, nil
}

// Tickets

func (s *Store) CreateTicket(ctx context.Context, t *workflow.Ticket) error {
	defer s.lock()()
	if _, ok := s.d.tickets[t.ID]; ok {
		return store.ErrDuplicateKey
	}
	for _, existing := range s.d.tickets {
		if existing.TenantID == t.TenantID && existing.Key == t.Key {
			return store.ErrDuplicateKey
		}
	}
	if t.Version == 0 {
		t.Version = 1
	}
	s.d.events = append(s.d.events, t.PendingEvents()...)
	t.ClearPendingEvents()
	s.d.tickets[t.ID] = *t
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (*workflow.Ticket, error) {
	defer s.lock()()
	t, ok := s.d.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetTicketByKey(ctx context.Context, tenantID uuid.UUID, key string) (*workflow.Ticket, error) {
	defer s.lock()()
	for _, t := range s.d.tickets {
		if t.TenantID == tenantID && t.Key == key {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaveTicket(ctx context.Context, t *workflow.Ticket) error {
	defer s.lock()()
	current, ok := s.d.tickets[t.ID]
	if !ok || current.Version != t.Version {
		return fmt.Errorf("ticket %s version %d: %w", t.ID, t.Version, store.ErrConcurrentUpdate)
	}
	s.d.events = append(s.d.events, t.PendingEvents()...)
	t.Version++
	t.ClearPendingEvents()
	s.d.tickets[t.ID] = *t
	return nil
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]*workflow.Ticket, error) {
	defer s.lock()()
	var out []*workflow.Ticket
	for _, t := range s.d.tickets {
		if filter.TenantID != uuid.Nil && t.TenantID != filter.TenantID {
			continue
		}
		if filter.State != nil && t.State != *filter.State {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *Store) GetStaleAwaitingAnswers(ctx context.Context, threshold time.Duration) ([]*workflow.Ticket, error) {
	defer s.lock()()
	cutoff := s.now().Add(-threshold)
	var out []*workflow.Ticket
	for _, t := range s.d.tickets {
		if t.State == workflow.StateAwaitingAnswers && t.UpdatedAt.Before(cutoff) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// Events

func (s *Store) AppendEvents(ctx context.Context, events ...workflow.Event) error {
	defer s.lock()()
	s.d.events = append(s.d.events, events...)
	return nil
}

func (s *Store) GetByTicketID(ctx context.Context, ticketID uuid.UUID) ([]workflow.Event, error) {
	defer s.lock()()
	var out []workflow.Event
	for i := len(s.d.events) - 1; i >= 0; i-- {
		if s.d.events[i].TicketID == ticketID {
			out = append(out, s.d.events[i])
		}
	}
	return out, nil
}

func (s *Store) QueryEvents(ctx context.Context, filter store.EventFilter) (store.EventPage, error) {
	defer s.lock()()

	kinds := make(map[workflow.EventKind]bool, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds[k] = true
	}

	var matched []workflow.Event
	for i := len(s.d.events) - 1; i >= 0; i-- {
		e := s.d.events[i]
		switch {
		case filter.TenantID != uuid.Nil && e.TenantID != filter.TenantID:
		case filter.TicketID != uuid.Nil && e.TicketID != filter.TicketID:
		case len(kinds) > 0 && !kinds[e.Kind()]:
		case filter.From != nil && e.OccurredAt.Before(*filter.From):
		case filter.To != nil && !e.OccurredAt.Before(*filter.To):
		default:
			matched = append(matched, e)
		}
	}
	// Newest first; ties keep reverse insertion order.
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	return store.EventPage{
		Events: paginate(matched, limit, filter.Offset),
		Total:  int64(len(matched)),
	}, nil
}

func (s *Store) CountByKind(ctx context.Context, tenantID uuid.UUID) (map[workflow.EventKind]int64, error) {
	defer s.lock()()
	counts := make(map[workflow.EventKind]int64)
	for _, e := range s.d.events {
		if tenantID != uuid.Nil && e.TenantID != tenantID {
			continue
		}
		counts[e.Kind()]++
	}
	return counts, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.lock()()
	kept := s.d.events[:0]
	var deleted int64
	for _, e := range s.d.events {
		if e.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.d.events = kept
	return deleted, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
