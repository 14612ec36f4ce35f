package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketflow/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const suspendedColumns = `ticket_id, tenant_id, graph_id, suspended_agent_name, checkpoint_id, resume_message, suspended_at, resume_attempts, last_resume_error, next_resume_at, claimed_until, failed_at`

// SuspendWorkflow creates the suspension row for a ticket, replacing any
// previous one.
func (s *Store) SuspendWorkflow(ctx context.Context, wf *store.SuspendedWorkflow) error {
	if wf.SuspendedAt.IsZero() {
		wf.SuspendedAt = s.now()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO suspended_workflows (`+suspendedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ticket_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			graph_id = excluded.graph_id,
			suspended_agent_name = excluded.suspended_agent_name,
			checkpoint_id = excluded.checkpoint_id,
			resume_message = excluded.resume_message,
			suspended_at = excluded.suspended_at,
			resume_attempts = excluded.resume_attempts,
			last_resume_error = excluded.last_resume_error,
			next_resume_at = excluded.next_resume_at,
			claimed_until = excluded.claimed_until,
			failed_at = excluded.failed_at
	`,
		wf.TicketID, wf.TenantID, wf.GraphID, wf.SuspendedAgentName, wf.CheckpointID,
		wf.ResumeMessage, wf.SuspendedAt, wf.ResumeAttempts, wf.LastResumeError,
		wf.NextResumeAt, wf.ClaimedUntil, wf.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to suspend workflow for ticket %s: %w", wf.TicketID, err)
	}
	return nil
}

func (s *Store) GetSuspendedWorkflow(ctx context.Context, ticketID uuid.UUID) (*store.SuspendedWorkflow, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+suspendedColumns+" FROM suspended_workflows WHERE ticket_id = $1", ticketID)
	wf, err := scanSuspended(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load suspended workflow %s: %w", ticketID, err)
	}
	return wf, nil
}

// SetResumeMessage stores the answer a suspension is waiting for.
func (s *Store) SetResumeMessage(ctx context.Context, ticketID uuid.UUID, message string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE suspended_workflows
		SET resume_message = $1, next_resume_at = NULL
		WHERE ticket_id = $2 AND failed_at IS NULL
	`, message, ticketID)
	if err != nil {
		return fmt.Errorf("failed to set resume message for %s: %w", ticketID, err)
	}
	return rowsAffectedOrNotFound(res)
}

// GetSuspendedWorkflowsWithEvents claims resumable suspensions by pushing
// their claimed_until into the future in the same transaction as the read.
// Tickets with a Running execution are left alone.
func (s *Store) GetSuspendedWorkflowsWithEvents(ctx context.Context, batchSize int) ([]store.SuspendedWorkflow, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	var claimed []store.SuspendedWorkflow
	err := s.withTx(ctx, func(tx *Store) error {
		ts := tx.now()

		rows, err := tx.q.QueryContext(ctx, `
			SELECT `+suspendedColumns+`
			FROM suspended_workflows w
			WHERE w.resume_message IS NOT NULL
				AND w.failed_at IS NULL
				AND w.resume_attempts < $1
				AND (w.next_resume_at IS NULL OR w.next_resume_at <= $2)
				AND (w.claimed_until IS NULL OR w.claimed_until <= $2)
				AND NOT EXISTS (
					SELECT 1 FROM agent_execution_requests r
					WHERE r.ticket_id = w.ticket_id AND r.status = $3
				)
			ORDER BY w.suspended_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		`, tx.maxRetries, ts, store.ExecutionStatusRunning, batchSize)
		if err != nil {
			return fmt.Errorf("resumable workflows query failed: %w", err)
		}
		defer rows.Close()

		var candidates []store.SuspendedWorkflow
		for rows.Next() {
			wf, err := scanSuspended(rows)
			if err != nil {
				return fmt.Errorf("failed to scan suspended workflow: %w", err)
			}
			candidates = append(candidates, *wf)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
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

		until := ts.Add(tx.claimTimeout)
		var ids []uuid.UUID
		for _, wf := range candidates {
			if !idle[wf.TicketID] {
				continue
			}
			wf.ClaimedUntil = &until
			claimed = append(claimed, wf)
			ids = append(ids, wf.TicketID)
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.q.ExecContext(ctx, `
			UPDATE suspended_workflows
			SET claimed_until = $1
			WHERE ticket_id = ANY($2)
		`, until, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("claim update failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkWorkflowResumed removes the suspension once the workflow resumed.
func (s *Store) MarkWorkflowResumed(ctx context.Context, ticketID uuid.UUID, result string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM suspended_workflows WHERE ticket_id = $1", ticketID)
	if err != nil {
		return fmt.Errorf("failed to remove suspended workflow %s: %w", ticketID, err)
	}
	if err := rowsAffectedOrNotFound(res); err != nil {
		return err
	}
	s.logger.Debug("suspended workflow resumed", "ticket_id", ticketID, "result", result)
	return nil
}

// MarkWorkflowResumeFailed records a terminal resume failure. The row stays
// for audit but is no longer polled.
func (s *Store) MarkWorkflowResumeFailed(ctx context.Context, ticketID uuid.UUID, errMsg string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE suspended_workflows
		SET resume_attempts = resume_attempts + 1, last_resume_error = $1, failed_at = $2, claimed_until = NULL
		WHERE ticket_id = $3
	`, errMsg, s.now(), ticketID)
	if err != nil {
		return fmt.Errorf("failed to record resume failure for %s: %w", ticketID, err)
	}
	return rowsAffectedOrNotFound(res)
}

// ScheduleResumeRetry releases the claim and delays the next resume attempt.
func (s *Store) ScheduleResumeRetry(ctx context.Context, wf *store.SuspendedWorkflow, errMsg string) error {
	attempts := wf.ResumeAttempts + 1
	next := s.now().Add(s.backoff.Backoff(attempts))

	res, err := s.q.ExecContext(ctx, `
		UPDATE suspended_workflows
		SET resume_attempts = $1, last_resume_error = $2, next_resume_at = $3, claimed_until = NULL
		WHERE ticket_id = $4
	`, attempts, errMsg, next, wf.TicketID)
	if err != nil {
		return fmt.Errorf("failed to schedule resume retry for %s: %w", wf.TicketID, err)
	}
	if err := rowsAffectedOrNotFound(res); err != nil {
		return err
	}

	wf.ResumeAttempts = attempts
	wf.LastResumeError = &errMsg
	wf.NextResumeAt = &next
	wf.ClaimedUntil = nil
	return nil
}

func (s *Store) CountResumableWorkflows(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM suspended_workflows
		WHERE resume_message IS NOT NULL AND failed_at IS NULL
	`).Scan(&count)
	return count, err
}

func scanSuspended(row scannable) (*store.SuspendedWorkflow, error) {
	var wf store.SuspendedWorkflow
	err := row.Scan(
		&wf.TicketID, &wf.TenantID, &wf.GraphID, &wf.SuspendedAgentName, &wf.CheckpointID,
		&wf.ResumeMessage, &wf.SuspendedAt, &wf.ResumeAttempts, &wf.LastResumeError,
		&wf.NextResumeAt, &wf.ClaimedUntil, &wf.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}
