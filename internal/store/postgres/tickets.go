package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticketflow/internal/store"
	"ticketflow/internal/workflow"

	"github.com/google/uuid"
)

const ticketColumns = `id, tenant_id, key, repository_id, title, description, state, retry_count, last_error, version, created_at, updated_at, completed_at`

// CreateTicket inserts a new ticket and any events it recorded before its first save.
func (s *Store) CreateTicket(ctx context.Context, t *workflow.Ticket) error {
	if t.Version == 0 {
		t.Version = 1
	}

	err := s.withTx(ctx, func(tx *Store) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			t.ID, t.TenantID, t.Key, t.RepositoryID, t.Title, t.Description,
			t.State, t.RetryCount, t.LastError, t.Version,
			t.CreatedAt, t.UpdatedAt, t.CompletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateKey
			}
			return fmt.Errorf("failed to insert ticket %s: %w", t.ID, err)
		}
		return tx.AppendEvents(ctx, t.PendingEvents()...)
	})
	if err != nil {
		return err
	}

	t.ClearPendingEvents()
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (*workflow.Ticket, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE id = $1", id)
	return scanTicketRow(row)
}

func (s *Store) GetTicketByKey(ctx context.Context, tenantID uuid.UUID, key string) (*workflow.Ticket, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets WHERE tenant_id = $1 AND key = $2", tenantID, key)
	return scanTicketRow(row)
}

// SaveTicket writes the ticket under an optimistic version check and flushes
// its pending events in the same transaction.
func (s *Store) SaveTicket(ctx context.Context, t *workflow.Ticket) error {
	err := s.withTx(ctx, func(tx *Store) error {
		res, err := tx.q.ExecContext(ctx, `
			UPDATE tickets
			SET state = $1, retry_count = $2, last_error = $3, title = $4, description = $5,
				updated_at = $6, completed_at = $7, version = version + 1
			WHERE id = $8 AND version = $9
		`,
			t.State, t.RetryCount, t.LastError, t.Title, t.Description,
			t.UpdatedAt, t.CompletedAt, t.ID, t.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update ticket %s: %w", t.ID, err)
		}
		if err := rowsAffectedOrNotFound(res); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("ticket %s version %d: %w", t.ID, t.Version, store.ErrConcurrentUpdate)
			}
			return err
		}
		return tx.AppendEvents(ctx, t.PendingEvents()...)
	})
	if err != nil {
		return err
	}

	t.Version++
	t.ClearPendingEvents()
	return nil
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]*workflow.Ticket, error) {
	var where []string
	var args []any

	if filter.TenantID != uuid.Nil {
		args = append(args, filter.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if filter.State != nil {
		args = append(args, *filter.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	query := "SELECT " + ticketColumns + " FROM tickets"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	return s.queryTickets(ctx, query, args...)
}

func (s *Store) GetStaleAwaitingAnswers(ctx context.Context, threshold time.Duration) ([]*workflow.Ticket, error) {
	query := "SELECT " + ticketColumns + " FROM tickets WHERE state = $1 AND updated_at < $2 ORDER BY updated_at ASC"
	return s.queryTickets(ctx, query, workflow.StateAwaitingAnswers, s.now().Add(-threshold))
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]*workflow.Ticket, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*workflow.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func scanTicketRow(row *sql.Row) (*workflow.Ticket, error) {
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}
	return t, nil
}

func scanTicket(row scannable) (*workflow.Ticket, error) {
	var t workflow.Ticket
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Key, &t.RepositoryID, &t.Title, &t.Description,
		&t.State, &t.RetryCount, &t.LastError, &t.Version,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
