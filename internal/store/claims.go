package store

import (
	"context"
	"errors"
	"fmt"
)

// ClaimExpired is the error recorded on a request whose worker stopped
// reporting before the claim timeout.
const ClaimExpired = "claim expired"

// ExpireClaim charges a stale Running request one retry. When that was its
// last one, the request is failed and its ticket escalates through
// Ticket.Fail. It reports whether the request was failed.
//
// Both stores call it inside the transaction that selected the request.
func ExpireClaim(ctx context.Context, r Repository, req *AgentExecutionRequest, maxRetries int) (bool, error) {
	if req.RetryCount+1 < maxRetries {
		return false, r.ScheduleRetry(ctx, req, ClaimExpired)
	}

	cause := fmt.Sprintf("%s after %d attempts", ClaimExpired, req.RetryCount+1)
	if err := r.MarkExecutionFailed(ctx, req.ExecutionID, cause); err != nil {
		return false, err
	}

	t, err := r.GetTicket(ctx, req.TicketID)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if t.State.IsTerminal() {
		return true, nil
	}
	if err := t.Fail(req.WorkflowType, cause); err != nil {
		return false, err
	}
	return true, r.SaveTicket(ctx, t)
}
