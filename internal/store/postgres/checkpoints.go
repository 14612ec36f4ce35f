package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketflow/internal/store"

	"github.com/google/uuid"
)

const checkpointColumns = `id, checkpoint_id, tenant_id, ticket_id, graph_id, agent_name, next_agent_type, state_json, status, created_at, updated_at, resumed_at`

// SaveCheckpoint supersedes the Active checkpoint of (ticketID, graphID) and
// inserts the snapshot as the new Active row, in one transaction. The partial
// unique index rejects a concurrent second Active row; the pair is retried
// when this store owns the transaction.
func (s *Store) SaveCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string, snapshot store.Snapshot) (*store.Checkpoint, error) {
	for attempt := 1; ; attempt++ {
		var cp *store.Checkpoint
		err := s.withTx(ctx, func(tx *Store) error {
			var err error
			cp, err = tx.saveCheckpoint(ctx, ticketID, graphID, snapshot)
			return err
		})
		if err == nil {
			return cp, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		if s.inTx || attempt >= s.checkpointAttempts {
			return nil, fmt.Errorf("save checkpoint for ticket %s graph %s: %w", ticketID, graphID, store.ErrCheckpointConflict)
		}
		s.logger.Warn("checkpoint save raced with another writer, retrying",
			"ticket_id", ticketID, "graph_id", graphID, "attempt", attempt)
	}
}

func (s *Store) saveCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string, snapshot store.Snapshot) (*store.Checkpoint, error) {
	ts := s.now()

	// Row locks taken here serialize writers on an existing Active checkpoint.
	_, err := s.q.ExecContext(ctx, `
		UPDATE checkpoints
		SET status = $1, updated_at = $2
		WHERE ticket_id = $3 AND graph_id = $4 AND status = $5
	`, store.CheckpointDeleted, ts, ticketID, graphID, store.CheckpointActive)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede checkpoint: %w", err)
	}

	state := []byte(snapshot.StateJSON)
	if len(state) == 0 {
		state = []byte("{}")
	}

	cp := &store.Checkpoint{
		ID:            uuid.New(),
		CheckpointID:  snapshot.CheckpointID,
		TenantID:      snapshot.TenantID,
		TicketID:      ticketID,
		GraphID:       graphID,
		AgentName:     snapshot.AgentName,
		NextAgentType: snapshot.NextAgentType,
		StateJSON:     state,
		Status:        store.CheckpointActive,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if cp.CheckpointID == "" {
		cp.CheckpointID = cp.ID.String()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO checkpoints (`+checkpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		cp.ID, cp.CheckpointID, cp.TenantID, cp.TicketID, cp.GraphID, cp.AgentName,
		cp.NextAgentType, state, cp.Status, cp.CreatedAt, cp.UpdatedAt, cp.ResumedAt,
	)
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// GetLatestCheckpoint returns the Active checkpoint or nil.
func (s *Store) GetLatestCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string) (*store.Checkpoint, error) {
	query := "SELECT " + checkpointColumns + ` FROM checkpoints
		WHERE ticket_id = $1 AND graph_id = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`

	cp, err := scanCheckpoint(s.q.QueryRowContext(ctx, query, ticketID, graphID, store.CheckpointActive))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id uuid.UUID) (*store.Checkpoint, error) {
	cp, err := scanCheckpoint(s.q.QueryRowContext(ctx, "SELECT "+checkpointColumns+" FROM checkpoints WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// MarkAsResumed flips an Active checkpoint to Resumed. A checkpoint that is
// no longer Active is left alone.
func (s *Store) MarkAsResumed(ctx context.Context, id uuid.UUID) error {
	ts := s.now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE checkpoints
		SET status = $1, resumed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`, store.CheckpointResumed, ts, id, store.CheckpointActive)
	if err != nil {
		return fmt.Errorf("failed to mark checkpoint %s resumed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn("checkpoint is not active, skipping resume mark", "checkpoint_id", id)
	}
	return nil
}

func (s *Store) ExpireOldCheckpoints(ctx context.Context, olderThan time.Duration) (int64, error) {
	ts := s.now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE checkpoints
		SET status = $1, updated_at = $2
		WHERE status = $3 AND created_at < $4
	`, store.CheckpointExpired, ts, store.CheckpointActive, ts.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to expire checkpoints: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) GetActiveCheckpointsByTenant(ctx context.Context, tenantID uuid.UUID) ([]store.Checkpoint, error) {
	query := "SELECT " + checkpointColumns + " FROM checkpoints WHERE tenant_id = $1 AND status = $2 ORDER BY created_at DESC"

	rows, err := s.q.QueryContext(ctx, query, tenantID, store.CheckpointActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}

func scanCheckpoint(row scannable) (*store.Checkpoint, error) {
	var cp store.Checkpoint
	var state []byte
	err := row.Scan(
		&cp.ID, &cp.CheckpointID, &cp.TenantID, &cp.TicketID, &cp.GraphID, &cp.AgentName,
		&cp.NextAgentType, &state, &cp.Status, &cp.CreatedAt, &cp.UpdatedAt, &cp.ResumedAt,
	)
	if err != nil {
		return nil, err
	}
	cp.StateJSON = state
	return &cp, nil
}
