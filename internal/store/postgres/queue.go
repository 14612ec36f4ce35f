package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketflow/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const executionColumns = `execution_id, ticket_id, tenant_id, workflow_type, initial_message, status, retry_count, last_error, result, created_at, last_attempt_at, next_retry_at, completed_at`

// EnqueueExecution inserts a new Pending request.
func (s *Store) EnqueueExecution(ctx context.Context, req *store.AgentExecutionRequest) error {
	if req.ExecutionID == uuid.Nil {
		req.ExecutionID = uuid.New()
	}
	if req.Status == "" {
		req.Status = store.ExecutionStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	msg := []byte(req.InitialMessage)
	if len(msg) == 0 {
		msg = []byte("{}")
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO agent_execution_requests (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		req.ExecutionID, req.TicketID, req.TenantID, req.WorkflowType, msg, req.Status,
		req.RetryCount, req.LastError, req.Result, req.CreatedAt, req.LastAttemptAt,
		req.NextRetryAt, req.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue execution for ticket %s: %w", req.TicketID, err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, executionID uuid.UUID) (*store.AgentExecutionRequest, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM agent_execution_requests WHERE execution_id = $1", executionID)
	req, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return req, nil
}

func (s *Store) ListExecutionsByTicket(ctx context.Context, ticketID uuid.UUID) ([]store.AgentExecutionRequest, error) {
	query := "SELECT " + executionColumns + " FROM agent_execution_requests WHERE ticket_id = $1 ORDER BY created_at DESC"
	return s.queryExecutions(ctx, query, ticketID)
}

// errLostClaim aborts a claim that collided with another worker's on the
// running-execution index.
var errLostClaim = errors.New("claim lost to another worker")

// GetPendingExecutions claims up to batchSize due requests atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. At most one request per ticket is
// claimed, and none for a ticket that has a Running request or a claimed
// resume.
func (s *Store) GetPendingExecutions(ctx context.Context, batchSize int) ([]store.AgentExecutionRequest, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	var claimed []store.AgentExecutionRequest
	err := s.withTx(ctx, func(tx *Store) error {
		ts := tx.now()

		candidates, err := tx.queryExecutions(ctx, `
			SELECT `+executionColumns+`
			FROM agent_execution_requests e
			WHERE e.status = $1
				AND (e.next_retry_at IS NULL OR e.next_retry_at <= $2)
				AND e.retry_count < $3
				AND NOT EXISTS (
					SELECT 1 FROM agent_execution_requests r
					WHERE r.ticket_id = e.ticket_id AND r.status = $4
				)
				AND NOT EXISTS (
					SELECT 1 FROM suspended_workflows w
					WHERE w.ticket_id = e.ticket_id AND w.claimed_until > $2
				)
			ORDER BY e.created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		`, store.ExecutionStatusPending, ts, tx.maxRetries, store.ExecutionStatusRunning, batchSize)
		if err != nil {
			return fmt.Errorf("pending executions query failed: %w", err)
		}

		candidates = onePerTicket(candidates)
		if len(candidates) == 0 {
			return nil
		}

		ticketIDs := make([]uuid.UUID, len(candidates))
		for i := range candidates {
			ticketIDs[i] = candidates[i].TicketID
		}
		idle, err := tx.lockIdleTickets(ctx, ticketIDs, ts)
		if err != nil {
			return err
		}

		var ids []uuid.UUID
		for _, req := range candidates {
			if !idle[req.TicketID] {
				continue
			}
			req.Status = store.ExecutionStatusRunning
			req.LastAttemptAt = &ts
			claimed = append(claimed, req)
			ids = append(ids, req.ExecutionID)
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.q.ExecContext(ctx, `
			UPDATE agent_execution_requests
			SET status = $1, last_attempt_at = $2
			WHERE execution_id = ANY($3)
		`, store.ExecutionStatusRunning, ts, pq.Array(ids))
		if err != nil {
			if isUniqueViolation(err) {
				return errLostClaim
			}
			return fmt.Errorf("claim update failed: %w", err)
		}
		return nil
	})
	if errors.Is(err, errLostClaim) {
		s.logger.Debug("pending executions claimed by another worker, retrying on next poll")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// lockIdleTickets locks the rows of the given tickets that no other worker
// is claiming or saving and returns those with neither a Running execution nor a live
// resume claim. The check runs as its own statement after the locks are
// taken, so it sees whatever the previous lock holder committed.
func (s *Store) lockIdleTickets(ctx context.Context, ticketIDs []uuid.UUID, now time.Time) (map[uuid.UUID]bool, error) {
	locked, err := s.queryIDs(ctx, `
		SELECT id FROM tickets
		WHERE id = ANY($1)
		FOR NO KEY UPDATE SKIP LOCKED
	`, pq.Array(ticketIDs))
	if err != nil {
		return nil, fmt.Errorf("ticket lock failed: %w", err)
	}
	if len(locked) == 0 {
		return nil, nil
	}

	busy, err := s.queryIDs(ctx, `
		SELECT ticket_id FROM agent_execution_requests
		WHERE ticket_id = ANY($1) AND status = $2
		UNION
		SELECT ticket_id FROM suspended_workflows
		WHERE ticket_id = ANY($1) AND claimed_until > $3
	`, pq.Array(locked), store.ExecutionStatusRunning, now)
	if err != nil {
		return nil, fmt.Errorf("busy tickets query failed: %w", err)
	}

	idle := make(map[uuid.UUID]bool, len(locked))
	for _, id := range locked {
		idle[id] = true
	}
	for _, id := range busy {
		delete(idle, id)
	}
	return idle, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func onePerTicket(reqs []store.AgentExecutionRequest) []store.AgentExecutionRequest {
	seen := make(map[uuid.UUID]bool, len(reqs))
	out := reqs[:0]
	for _, r := range reqs {
		if seen[r.TicketID] {
			continue
		}
		seen[r.TicketID] = true
		out = append(out, r)
	}
	return out
}

func (s *Store) MarkExecutionCompleted(ctx context.Context, executionID uuid.UUID, result string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE agent_execution_requests
		SET status = $1, result = $2, completed_at = $3
		WHERE execution_id = $4
	`, store.ExecutionStatusCompleted, result, s.now(), executionID)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", executionID, err)
	}
	return rowsAffectedOrNotFound(res)
}

func (s *Store) MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, errMsg string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE agent_execution_requests
		SET status = $1, last_error = $2, completed_at = $3
		WHERE execution_id = $4
	`, store.ExecutionStatusFailed, errMsg, s.now(), executionID)
	if err != nil {
		return fmt.Errorf("failed to fail execution %s: %w", executionID, err)
	}
	return rowsAffectedOrNotFound(res)
}

// ScheduleRetry returns the request to Pending, visible again after the backoff delay.
func (s *Store) ScheduleRetry(ctx context.Context, execution *store.AgentExecutionRequest, errMsg string) error {
	retryCount := execution.RetryCount + 1
	nextRetryAt := s.now().Add(s.backoff.Backoff(retryCount))

	res, err := s.q.ExecContext(ctx, `
		UPDATE agent_execution_requests
		SET status = $1, retry_count = $2, last_error = $3, next_retry_at = $4
		WHERE execution_id = $5
	`, store.ExecutionStatusPending, retryCount, errMsg, nextRetryAt, execution.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", execution.ExecutionID, err)
	}
	if err := rowsAffectedOrNotFound(res); err != nil {
		return err
	}

	execution.Status = store.ExecutionStatusPending
	execution.RetryCount = retryCount
	execution.LastError = &errMsg
	execution.NextRetryAt = &nextRetryAt
	return nil
}

// RequeueStaleExecutions charges every expired claim a retry in one
// transaction. Rows still locked by a live worker are skipped.
func (s *Store) RequeueStaleExecutions(ctx context.Context, olderThan time.Duration) (store.StaleClaims, error) {
	var out store.StaleClaims
	err := s.withTx(ctx, func(tx *Store) error {
		stale, err := tx.queryExecutions(ctx, `
			SELECT `+executionColumns+`
			FROM agent_execution_requests
			WHERE status = $1 AND last_attempt_at < $2
			ORDER BY last_attempt_at ASC
			FOR UPDATE SKIP LOCKED
		`, store.ExecutionStatusRunning, tx.now().Add(-olderThan))
		if err != nil {
			return fmt.Errorf("stale executions query failed: %w", err)
		}

		for i := range stale {
			failed, err := store.ExpireClaim(ctx, tx, &stale[i], tx.maxRetries)
			if err != nil {
				return fmt.Errorf("failed to expire claim on %s: %w", stale[i].ExecutionID, err)
			}
			if failed {
				out.Failed++
			} else {
				out.Requeued++
			}
		}
		return nil
	})
	if err != nil {
		return store.StaleClaims{}, err
	}
	return out, nil
}

func (s *Store) CountPendingExecutions(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM agent_execution_requests WHERE status = $1", store.ExecutionStatusPending).Scan(&count)
	return count, err
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]store.AgentExecutionRequest, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []store.AgentExecutionRequest
	for rows.Next() {
		req, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanExecution(row scannable) (*store.AgentExecutionRequest, error) {
	var req store.AgentExecutionRequest
	var msg []byte
	err := row.Scan(
		&req.ExecutionID, &req.TicketID, &req.TenantID, &req.WorkflowType, &msg, &req.Status,
		&req.RetryCount, &req.LastError, &req.Result, &req.CreatedAt, &req.LastAttemptAt,
		&req.NextRetryAt, &req.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	req.InitialMessage = msg
	return &req, nil
}
