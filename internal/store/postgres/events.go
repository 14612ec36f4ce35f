package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticketflow/internal/store"
	"ticketflow/internal/workflow"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const eventColumns = `id, ticket_id, tenant_id, kind, payload, occurred_at`

// AppendEvents inserts events in the given order; seq preserves that order.
func (s *Store) AppendEvents(ctx context.Context, events ...workflow.Event) error {
	for _, e := range events {
		kind, payload, err := workflow.EncodePayload(e.Payload)
		if err != nil {
			return err
		}
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO workflow_events (`+eventColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.ID, e.TicketID, e.TenantID, kind, payload, e.OccurredAt)
		if err != nil {
			return fmt.Errorf("failed to append %s event for ticket %s: %w", kind, e.TicketID, err)
		}
	}
	return nil
}

func (s *Store) GetByTicketID(ctx context.Context, ticketID uuid.UUID) ([]workflow.Event, error) {
	query := "SELECT " + eventColumns + " FROM workflow_events WHERE ticket_id = $1 ORDER BY seq DESC"
	return s.queryEvents(ctx, query, ticketID)
}

// QueryEvents returns one page of events matching filter, newest first, and
// the total number of matches.
func (s *Store) QueryEvents(ctx context.Context, filter store.EventFilter) (store.EventPage, error) {
	var where []string
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TenantID != uuid.Nil {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.TicketID != uuid.Nil {
		add("ticket_id = $%d", filter.TicketID)
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		add("kind = ANY($%d)", pq.Array(kinds))
	}
	if filter.From != nil {
		add("occurred_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at < $%d", *filter.To)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var page store.EventPage
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_events"+whereClause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("failed to count events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM workflow_events%s ORDER BY occurred_at DESC, seq DESC LIMIT $%d OFFSET $%d",
		eventColumns, whereClause, len(args)-1, len(args))

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return page, err
	}
	page.Events = events
	return page, nil
}

// CountByKind aggregates events per kind. A nil tenant counts across all tenants.
func (s *Store) CountByKind(ctx context.Context, tenantID uuid.UUID) (map[workflow.EventKind]int64, error) {
	query := "SELECT kind, COUNT(*) FROM workflow_events"
	var args []any
	if tenantID != uuid.Nil {
		query += " WHERE tenant_id = $1"
		args = append(args, tenantID)
	}
	query += " GROUP BY kind"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[workflow.EventKind]int64)
	for rows.Next() {
		var kind workflow.EventKind
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM workflow_events WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]workflow.Event, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		var e workflow.Event
		var kind workflow.EventKind
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TicketID, &e.TenantID, &kind, &payload, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload, err = workflow.DecodePayload(kind, payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
