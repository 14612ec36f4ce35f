package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ticketflow/internal/store"

	"github.com/google/uuid"
)

// Checkpoints

func (s *Store) SaveCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string, snapshot store.Snapshot) (*store.Checkpoint, error) {
	defer s.lock()()
	ts := s.now()

	for id, cp := range s.d.checkpoints {
		if cp.TicketID == ticketID && cp.GraphID == graphID && cp.Status == store.CheckpointActive {
			cp.Status = store.CheckpointDeleted
			cp.UpdatedAt = ts
			s.d.checkpoints[id] = cp
		}
	}

	state := append([]byte(nil), snapshot.StateJSON...)
	if len(state) == 0 {
		state = []byte("{}")
	}
	cp := store.Checkpoint{
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
	s.d.checkpoints[cp.ID] = cp
	return &cp, nil
}

func (s *Store) GetLatestCheckpoint(ctx context.Context, ticketID uuid.UUID, graphID string) (*store.Checkpoint, error) {
	defer s.lock()()
	for _, cp := range s.d.checkpoints {
		if cp.TicketID == ticketID && cp.GraphID == graphID && cp.Status == store.CheckpointActive {
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) GetCheckpoint(ctx context.Context, id uuid.UUID) (*store.Checkpoint, error) {
	defer s.lock()()
	cp, ok := s.d.checkpoints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cp, nil
}

func (s *Store) MarkAsResumed(ctx context.Context, id uuid.UUID) error {
	defer s.lock()()
	cp, ok := s.d.checkpoints[id]
	if !ok || cp.Status != store.CheckpointActive {
		s.logger.Warn("checkpoint is not active, skipping resume mark", "checkpoint_id", id)
		return nil
	}
	ts := s.now()
	cp.Status = store.CheckpointResumed
	cp.ResumedAt = &ts
	cp.UpdatedAt = ts
	s.d.checkpoints[id] = cp
	return nil
}

func (s *Store) ExpireOldCheckpoints(ctx context.Context, olderThan time.Duration) (int64, error) {
	defer s.lock()()
	ts := s.now()
	cutoff := ts.Add(-olderThan)
	var n int64
	for id, cp := range s.d.checkpoints {
		if cp.Status == store.CheckpointActive && cp.CreatedAt.Before(cutoff) {
			cp.Status = store.CheckpointExpired
			cp.UpdatedAt = ts
			s.d.checkpoints[id] = cp
			n++
		}
	}
	return n, nil
}

func (s *Store) GetActiveCheckpointsByTenant(ctx context.Context, tenantID uuid.UUID) ([]store.Checkpoint, error) {
	defer s.lock()()
	var out []store.Checkpoint
	for _, cp := range s.d.checkpoints {
		if cp.TenantID == tenantID && cp.Status == store.CheckpointActive {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Executions

func (s *Store) EnqueueExecution(ctx context.Context, req *store.AgentExecutionRequest) error {
	defer s.lock()()
	if req.ExecutionID == uuid.Nil {
		req.ExecutionID = uuid.New()
	}
	if req.Status == "" {
		req.Status = store.ExecutionStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	if _, ok := s.d.executions[req.ExecutionID]; ok {
		return store.ErrDuplicateKey
	}
	s.d.nextSeq++
	s.d.seq[req.ExecutionID] = s.d.nextSeq
	s.d.executions[req.ExecutionID] = *req
	return nil
}

func (s *Store) GetExecution(ctx context.Context, executionID uuid.UUID) (*store.AgentExecutionRequest, error) {
	defer s.lock()()
	req, ok := s.d.executions[executionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &req, nil
}

func (s *Store) ListExecutionsByTicket(ctx context.Context, ticketID uuid.UUID) ([]store.AgentExecutionRequest, error) {
	defer s.lock()()
	var out []store.AgentExecutionRequest
	for _, req := range s.d.executions {
		if req.TicketID == ticketID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.d.seq[out[i].ExecutionID] > s.d.seq[out[j].ExecutionID] })
	return out, nil
}

// GetPendingExecutions claims due requests, oldest first, at most one per
// ticket and none for a ticket that already has a Running request or a
// claimed resume.
func (s *Store) GetPendingExecutions(ctx context.Context, batchSize int) ([]store.AgentExecutionRequest, error) {
	defer s.lock()()
	if batchSize <= 0 {
		batchSize = 1
	}
	ts := s.now()

	busy := make(map[uuid.UUID]bool)
	for id, wf := range s.d.suspended {
		if resumeClaimed(wf, ts) {
			busy[id] = true
		}
	}
	var candidates []store.AgentExecutionRequest
	for _, req := range s.d.executions {
		if req.Status == store.ExecutionStatusRunning {
			busy[req.TicketID] = true
			continue
		}
		if req.Status != store.ExecutionStatusPending || req.RetryCount >= s.maxRetries {
			continue
		}
		if req.NextRetryAt != nil && req.NextRetryAt.After(ts) {
			continue
		}
		candidates = append(candidates, req)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return s.d.seq[a.ExecutionID] < s.d.seq[b.ExecutionID]
	})

	var claimed []store.AgentExecutionRequest
	for _, req := range candidates {
		if len(claimed) == batchSize {
			break
		}
		if busy[req.TicketID] {
			continue
		}
		busy[req.TicketID] = true
		req.Status = store.ExecutionStatusRunning
		req.LastAttemptAt = &ts
		s.d.executions[req.ExecutionID] = req
		claimed = append(claimed, req)
	}
	return claimed, nil
}

func (s *Store) MarkExecutionCompleted(ctx context.Context, executionID uuid.UUID, result string) error {
	return s.updateExecution(executionID, func(req *store.AgentExecutionRequest, ts time.Time) {
		req.Status = store.ExecutionStatusCompleted
		req.Result = &result
		req.CompletedAt = &ts
	})
}

func (s *Store) MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, errMsg string) error {
	return s.updateExecution(executionID, func(req *store.AgentExecutionRequest, ts time.Time) {
		req.Status = store.ExecutionStatusFailed
		req.LastError = &errMsg
		req.CompletedAt = &ts
	})
}

func (s *Store) ScheduleRetry(ctx context.Context, execution *store.AgentExecutionRequest, errMsg string) error {
	retryCount := execution.RetryCount + 1
	var next time.Time
	err := s.updateExecution(execution.ExecutionID, func(req *store.AgentExecutionRequest, ts time.Time) {
		next = ts.Add(s.backoff.Backoff(retryCount))
		req.Status = store.ExecutionStatusPending
		req.RetryCount = retryCount
		req.LastError = &errMsg
		req.NextRetryAt = &next
	})
	if err != nil {
		return err
	}
	execution.Status = store.ExecutionStatusPending
	execution.RetryCount = retryCount
	execution.LastError = &errMsg
	execution.NextRetryAt = &next
	return nil
}

func (s *Store) RequeueStaleExecutions(ctx context.Context, olderThan time.Duration) (store.StaleClaims, error) {
	var out store.StaleClaims
	err := s.withTx(func(tx *Store) error {
		cutoff := tx.now().Add(-olderThan)
		var stale []store.AgentExecutionRequest
		for _, req := range tx.d.executions {
			if req.Status == store.ExecutionStatusRunning && req.LastAttemptAt != nil && req.LastAttemptAt.Before(cutoff) {
				stale = append(stale, req)
			}
		}
		sort.Slice(stale, func(i, j int) bool { return tx.d.seq[stale[i].ExecutionID] < tx.d.seq[stale[j].ExecutionID] })

		for i := range stale {
			failed, err := store.ExpireClaim(ctx, tx, &stale[i], tx.maxRetries)
			if err != nil {
				return fmt.Errorf("expire claim on %s: %w", stale[i].ExecutionID, err)
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
	defer s.lock()()
	var n int64
	for _, req := range s.d.executions {
		if req.Status == store.ExecutionStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) updateExecution(id uuid.UUID, fn func(req *store.AgentExecutionRequest, ts time.Time)) error {
	defer s.lock()()
	req, ok := s.d.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&req, s.now())
	s.d.executions[id] = req
	return nil
}

// Suspensions

func (s *Store) SuspendWorkflow(ctx context.Context, wf *store.SuspendedWorkflow) error {
	defer s.lock()()
	if wf.SuspendedAt.IsZero() {
		wf.SuspendedAt = s.now()
	}
	s.d.suspended[wf.TicketID] = *wf
	return nil
}

func (s *Store) GetSuspendedWorkflow(ctx context.Context, ticketID uuid.UUID) (*store.SuspendedWorkflow, error) {
	defer s.lock()()
	wf, ok := s.d.suspended[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &wf, nil
}

func (s *Store) SetResumeMessage(ctx context.Context, ticketID uuid.UUID, message string) error {
	return s.updateSuspended(ticketID, func(wf *store.SuspendedWorkflow, _ time.Time) error {
		if wf.FailedAt != nil {
			return store.ErrNotFound
		}
		wf.ResumeMessage = &message
		wf.NextResumeAt = nil
		return nil
	})
}

// GetSuspendedWorkflowsWithEvents leaves out tickets that have a Running
// execution, so a ticket never runs an execution and a resume at once.
func (s *Store) GetSuspendedWorkflowsWithEvents(ctx context.Context, batchSize int) ([]store.SuspendedWorkflow, error) {
	defer s.lock()()
	if batchSize <= 0 {
		batchSize = 1
	}
	ts := s.now()

	running := make(map[uuid.UUID]bool)
	for _, req := range s.d.executions {
		if req.Status == store.ExecutionStatusRunning {
			running[req.TicketID] = true
		}
	}

	var candidates []store.SuspendedWorkflow
	for _, wf := range s.d.suspended {
		if !running[wf.TicketID] && s.resumable(wf, ts) {
			candidates = append(candidates, wf)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].SuspendedAt.Before(candidates[j].SuspendedAt) })
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	until := ts.Add(s.claimTimeout)
	for i := range candidates {
		candidates[i].ClaimedUntil = &until
		s.d.suspended[candidates[i].TicketID] = candidates[i]
	}
	return candidates, nil
}

func (s *Store) resumable(wf store.SuspendedWorkflow, ts time.Time) bool {
	switch {
	case wf.ResumeMessage == nil, wf.FailedAt != nil:
		return false
	case wf.ResumeAttempts >= s.maxRetries:
		return false
	case wf.NextResumeAt != nil && wf.NextResumeAt.After(ts):
		return false
	case resumeClaimed(wf, ts):
		return false
	}
	return true
}

// resumeClaimed reports whether a resume of wf is in flight.
func resumeClaimed(wf store.SuspendedWorkflow, ts time.Time) bool {
	return wf.ClaimedUntil != nil && wf.ClaimedUntil.After(ts)
}

func (s *Store) MarkWorkflowResumed(ctx context.Context, ticketID uuid.UUID, result string) error {
	defer s.lock()()
	if _, ok := s.d.suspended[ticketID]; !ok {
		return store.ErrNotFound
	}
	delete(s.d.suspended, ticketID)
	return nil
}

func (s *Store) MarkWorkflowResumeFailed(ctx context.Context, ticketID uuid.UUID, errMsg string) error {
	return s.updateSuspended(ticketID, func(wf *store.SuspendedWorkflow, ts time.Time) error {
		wf.ResumeAttempts++
		wf.LastResumeError = &errMsg
		wf.FailedAt = &ts
		wf.ClaimedUntil = nil
		return nil
	})
}

func (s *Store) ScheduleResumeRetry(ctx context.Context, wf *store.SuspendedWorkflow, errMsg string) error {
	attempts := wf.ResumeAttempts + 1
	var next time.Time
	err := s.updateSuspended(wf.TicketID, func(row *store.SuspendedWorkflow, ts time.Time) error {
		next = ts.Add(s.backoff.Backoff(attempts))
		row.ResumeAttempts = attempts
		row.LastResumeError = &errMsg
		row.NextResumeAt = &next
		row.ClaimedUntil = nil
		return nil
	})
	if err != nil {
		return err
	}
	wf.ResumeAttempts = attempts
	wf.LastResumeError = &errMsg
	wf.NextResumeAt = &next
	wf.ClaimedUntil = nil
	return nil
}

func (s *Store) CountResumableWorkflows(ctx context.Context) (int64, error) {
	defer s.lock()()
	var n int64
	for _, wf := range s.d.suspended {
		if wf.ResumeMessage != nil && wf.FailedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) updateSuspended(ticketID uuid.UUID, fn func(wf *store.SuspendedWorkflow, ts time.Time) error) error {
	defer s.lock()()
	wf, ok := s.d.suspended[ticketID]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(&wf, s.now()); err != nil {
		return err
	}
	s.d.suspended[ticketID] = wf
	return nil
}
