package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"ticketflow/internal/logger"
	"ticketflow/internal/store"
	"ticketflow/internal/worker/executor"
	"ticketflow/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	resultDiscarded = "discarded"
	resultRetry     = "retry"
	resultFailed    = "failed"

	// applyAttempts bounds how often an outcome is re-applied after losing a
	// version or checkpoint race.
	applyAttempts = 3
)

func (a *Agent) processExecution(ctx context.Context, req store.AgentExecutionRequest) {
	start := time.Now()
	ctx = logger.WithTicketID(ctx, req.TicketID.String())
	log := a.log(ctx).With("execution_id", req.ExecutionID, "workflow_type", req.WorkflowType)

	ctx, span := a.tracer.Start(ctx, "execute_graph",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("execution.id", req.ExecutionID.String()),
			attribute.String("ticket.id", req.TicketID.String()),
			attribute.String("tenant.id", req.TenantID.String()),
			attribute.String("workflow.type", req.WorkflowType),
			attribute.Int("execution.attempt", req.RetryCount+1),
		),
	)
	defer span.End()

	result := "error"
	defer func() { a.metrics.RecordExecution(ctx, "execute", result, time.Since(start)) }()

	// A panicking executor is routed like any other failure so the request
	// does not stay Running.
	defer func() {
		if p := recover(); p != nil {
			log.Error("execution panicked", "panic", p, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			out := executor.Outcome{Status: executor.StatusFailed, Error: fmt.Sprintf("panic: %v", p)}
			var err error
			if result, err = a.applyExecution(ctx, req, out); err != nil {
				log.Error("failed to record panicked execution", "error", err)
			}
		}
	}()

	ticket, err := a.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error("ticket for execution not found")
			if err := a.store.MarkExecutionFailed(ctx, req.ExecutionID, "ticket not found"); err != nil {
				log.Error("failed to mark execution failed", "error", err)
			}
			result = resultFailed
			return
		}
		// Left Running: the stale-claim sweep hands it back.
		log.Error("failed to load ticket", "error", err)
		span.RecordError(err)
		return
	}

	if ticket.State.IsTerminal() {
		if err := a.store.MarkExecutionCompleted(ctx, req.ExecutionID, resultDiscarded); err != nil {
			log.Error("failed to discard execution", "error", err)
			return
		}
		log.Info("discarded execution for terminal ticket", "state", ticket.State)
		result = resultDiscarded
		return
	}

	log.Info("executing graph", "attempt", req.RetryCount+1, "state", ticket.State)

	out := a.invoke(ctx, func(ctx context.Context) (executor.Outcome, error) {
		return a.executor.Execute(ctx, executor.ExecuteRequest{
			ExecutionID:  req.ExecutionID,
			TicketID:     req.TicketID,
			TenantID:     req.TenantID,
			WorkflowType: req.WorkflowType,
			TicketState:  ticket.State,
			Message:      req.InitialMessage,
			Attempt:      req.RetryCount + 1,
		})
	})

	result, err = a.applyExecution(ctx, req, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("failed to apply execution outcome", "error", err, "status", out.Status)
		result = "error"
		return
	}
	if out.Status == executor.StatusFailed {
		span.SetStatus(codes.Error, out.Error)
	}
	log.Info("execution finished", "status", out.Status, "result", result)
}

func (a *Agent) processResume(ctx context.Context, wf store.SuspendedWorkflow) {
	start := time.Now()
	ctx = logger.WithTicketID(ctx, wf.TicketID.String())
	log := a.log(ctx).With("graph_id", wf.GraphID)

	ctx, span := a.tracer.Start(ctx, "resume_graph",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("ticket.id", wf.TicketID.String()),
			attribute.String("tenant.id", wf.TenantID.String()),
			attribute.String("graph.id", wf.GraphID),
			attribute.Int("resume.attempt", wf.ResumeAttempts+1),
		),
	)
	defer span.End()

	result := "error"
	defer func() { a.metrics.RecordExecution(ctx, "resume", result, time.Since(start)) }()

	var cp *store.Checkpoint
	defer func() {
		if p := recover(); p != nil {
			log.Error("resume panicked", "panic", p, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			out := executor.Outcome{Status: executor.StatusFailed, Error: fmt.Sprintf("panic: %v", p)}
			var err error
			if result, err = a.applyResume(ctx, wf, cp, out); err != nil {
				log.Error("failed to record panicked resume", "error", err)
			}
		}
	}()

	ticket, err := a.store.GetTicket(ctx, wf.TicketID)
	if err != nil {
		// The claim expires and the suspension is picked up again.
		log.Error("failed to load ticket", "error", err)
		span.RecordError(err)
		return
	}

	if ticket.State.IsTerminal() {
		err := a.store.InTx(ctx, func(r store.Repository) error { return discardSuspension(ctx, r, wf) })
		if err != nil {
			log.Error("failed to discard suspension", "error", err)
			return
		}
		log.Info("discarded suspension for terminal ticket", "state", ticket.State)
		result = resultDiscarded
		return
	}

	cp, err = a.store.GetLatestCheckpoint(ctx, wf.TicketID, wf.GraphID)
	if err != nil {
		log.Error("failed to load checkpoint", "error", err)
		span.RecordError(err)
		return
	}

	var out executor.Outcome
	if cp == nil {
		out = executor.Outcome{
			Status:    executor.StatusFailed,
			Error:     fmt.Sprintf("no active checkpoint for graph %s", wf.GraphID),
			Permanent: true,
		}
	} else {
		message := ""
		if wf.ResumeMessage != nil {
			message = *wf.ResumeMessage
		}

		log.Info("resuming graph", "attempt", wf.ResumeAttempts+1, "checkpoint", cp.ID)

		snap := snapshotOf(cp)
		out = a.invoke(ctx, func(ctx context.Context) (executor.Outcome, error) {
			return a.executor.ResumeFromCheckpoint(ctx, executor.ResumeRequest{
				TicketID:      wf.TicketID,
				TenantID:      wf.TenantID,
				GraphID:       wf.GraphID,
				TicketState:   ticket.State,
				Checkpoint:    snap,
				ResumeMessage: message,
				Attempt:       wf.ResumeAttempts + 1,
			})
		})
	}

	result, err = a.applyResume(ctx, wf, cp, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("failed to apply resume outcome", "error", err, "status", out.Status)
		result = "error"
		return
	}
	if out.Status == executor.StatusFailed {
		span.SetStatus(codes.Error, out.Error)
	}
	log.Info("resume finished", "status", out.Status, "result", result)
}

// applyExecution routes an execution outcome to the queue, checkpoint store
// and ticket in a single transaction.
func (a *Agent) applyExecution(ctx context.Context, req store.AgentExecutionRequest, out executor.Outcome) (string, error) {
	var result string
	var changed []workflow.State

	err := a.inTx(ctx, func(r store.Repository) error {
		ticket, err := r.GetTicket(ctx, req.TicketID)
		if err != nil {
			return err
		}
		if ticket.State.IsTerminal() {
			result = resultDiscarded
			return r.MarkExecutionCompleted(ctx, req.ExecutionID, resultDiscarded)
		}

		graphID := out.GraphID
		if graphID == "" {
			graphID = req.WorkflowType
		}

		o := rejectInvalidPath(ticket.State, out)
		switch o.Status {
		case executor.StatusCompleted:
			result = string(o.Status)
			err = a.complete(ctx, r, ticket, graphID, o)
			if err == nil {
				err = r.MarkExecutionCompleted(ctx, req.ExecutionID, completionResult(o))
			}
		case executor.StatusSuspended:
			result = string(o.Status)
			err = a.suspend(ctx, r, ticket, graphID, o)
			if err == nil {
				err = r.MarkExecutionCompleted(ctx, req.ExecutionID, string(executor.StatusSuspended))
			}
		default:
			msg := failureMessage(o)
			if o.Permanent || req.RetryCount+1 >= a.config.MaxRetries {
				result = resultFailed
				if err = r.MarkExecutionFailed(ctx, req.ExecutionID, msg); err == nil {
					err = ticket.Fail(graphID, msg)
				}
			} else {
				result = resultRetry
				// ScheduleRetry mutates its argument; keep req intact for a re-apply.
				next := req
				if err = r.ScheduleRetry(ctx, &next, msg); err == nil {
					ticket.RecordRetry(next.RetryCount, msg)
				}
			}
		}
		if err != nil {
			return err
		}

		changed = stateChanges(ticket)
		return r.SaveTicket(ctx, ticket)
	})
	if err != nil {
		return "", err
	}

	for _, s := range changed {
		a.metrics.RecordTransition(ctx, string(s))
	}
	return result, nil
}

// applyResume routes a resume outcome. cp may be nil only for failures.
func (a *Agent) applyResume(ctx context.Context, wf store.SuspendedWorkflow, cp *store.Checkpoint, out executor.Outcome) (string, error) {
	var result string
	var changed []workflow.State

	err := a.inTx(ctx, func(r store.Repository) error {
		ticket, err := r.GetTicket(ctx, wf.TicketID)
		if err != nil {
			return err
		}
		if ticket.State.IsTerminal() {
			result = resultDiscarded
			return discardSuspension(ctx, r, wf)
		}

		o := out
		if o.Status == executor.StatusCompleted && len(o.Path) == 0 && ticket.State == workflow.StateAwaitingAnswers {
			o.Path = []workflow.State{workflow.StateAnswersReceived}
		}
		o = rejectInvalidPath(ticket.State, o)
		if o.Status != executor.StatusFailed && cp == nil {
			o = executor.Outcome{Status: executor.StatusFailed, Error: "resume outcome without checkpoint", Permanent: true}
		}

		graphID := o.GraphID
		if graphID == "" {
			graphID = wf.GraphID
		}

		switch o.Status {
		case executor.StatusCompleted:
			result = string(o.Status)
			if err := r.MarkAsResumed(ctx, cp.ID); err != nil {
				return err
			}
			if err := a.complete(ctx, r, ticket, graphID, o); err != nil {
				return err
			}
			if err := r.MarkWorkflowResumed(ctx, wf.TicketID, completionResult(o)); err != nil {
				return err
			}
		case executor.StatusSuspended:
			result = string(o.Status)
			if err := r.MarkAsResumed(ctx, cp.ID); err != nil {
				return err
			}
			if err := a.suspend(ctx, r, ticket, graphID, o); err != nil {
				return err
			}
		default:
			msg := failureMessage(o)
			if !o.Permanent && wf.ResumeAttempts+1 < a.config.MaxRetries {
				result = resultRetry
				next := wf
				return r.ScheduleResumeRetry(ctx, &next, msg)
			}
			result = resultFailed
			// The checkpoint stays Active so the graph can be inspected.
			if err := r.MarkWorkflowResumeFailed(ctx, wf.TicketID, msg); err != nil {
				return err
			}
			if err := ticket.Fail(wf.GraphID, msg); err != nil {
				return err
			}
		}

		changed = stateChanges(ticket)
		return r.SaveTicket(ctx, ticket)
	})
	if err != nil {
		return "", err
	}

	for _, s := range changed {
		a.metrics.RecordTransition(ctx, string(s))
	}
	return result, nil
}

// discardSuspension drops the suspension of a ticket that ended while it
// waited, and retires its checkpoint so it no longer lists as Active.
func discardSuspension(ctx context.Context, r store.Repository, wf store.SuspendedWorkflow) error {
	if err := r.MarkAsResumed(ctx, wf.CheckpointID); err != nil {
		return err
	}
	return r.MarkWorkflowResumed(ctx, wf.TicketID, resultDiscarded)
}

// complete records the facts and transitions of a graph that ran to its end
// and enqueues the follow-up graph, if any.
func (a *Agent) complete(ctx context.Context, r store.Repository, t *workflow.Ticket, graphID string, out executor.Outcome) error {
	recordFacts(t, out)
	if err := advance(t, out.Path, "graph "+graphID+" completed"); err != nil {
		return err
	}
	if out.NextWorkflow == "" || t.State.IsTerminal() {
		return nil
	}
	return r.EnqueueExecution(ctx, &store.AgentExecutionRequest{
		TicketID:       t.ID,
		TenantID:       t.TenantID,
		WorkflowType:   out.NextWorkflow,
		InitialMessage: out.NextMessage,
	})
}

// suspend checkpoints a halted graph and parks the ticket until a resume
// message arrives.
func (a *Agent) suspend(ctx context.Context, r store.Repository, t *workflow.Ticket, graphID string, out executor.Outcome) error {
	recordFacts(t, out)
	if err := advance(t, suspendPath(out), "graph "+graphID+" suspended"); err != nil {
		return err
	}

	var snap store.Snapshot
	if out.Snapshot != nil {
		snap = *out.Snapshot
	}
	snap.TenantID = t.TenantID

	cp, err := r.SaveCheckpoint(ctx, t.ID, graphID, snap)
	if err != nil {
		return err
	}
	if err := r.SuspendWorkflow(ctx, &store.SuspendedWorkflow{
		TicketID:           t.ID,
		TenantID:           t.TenantID,
		GraphID:            graphID,
		SuspendedAgentName: snap.AgentName,
		CheckpointID:       cp.ID,
	}); err != nil {
		return err
	}

	t.Suspend(graphID, t.State)
	return nil
}

// inTx runs fn in a transaction, re-running it when a concurrent writer won
// the ticket version or the Active checkpoint slot.
func (a *Agent) inTx(ctx context.Context, fn func(r store.Repository) error) error {
	var err error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		err = a.store.InTx(ctx, fn)
		if !errors.Is(err, store.ErrConcurrentUpdate) && !errors.Is(err, store.ErrCheckpointConflict) {
			return err
		}
		a.log(ctx).Warn("outcome lost a write race, reapplying", "attempt", attempt, "error", err)
	}
	return err
}

// invoke runs one executor call under the execution deadline.
func (a *Agent) invoke(ctx context.Context, call func(context.Context) (executor.Outcome, error)) executor.Outcome {
	execCtx, cancel := context.WithTimeout(ctx, a.config.ExecutionTimeout)
	defer cancel()
	out, err := call(execCtx)
	return normalizeOutcome(execCtx, out, err, a.config.ExecutionTimeout)
}

// normalizeOutcome folds an executor error into a failed outcome.
func normalizeOutcome(ctx context.Context, out executor.Outcome, err error, timeout time.Duration) executor.Outcome {
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("execution timed out after %s", timeout)
		}
		return executor.Outcome{Status: executor.StatusFailed, Error: msg, Permanent: executor.IsPermanent(err)}
	}

	switch out.Status {
	case executor.StatusCompleted, executor.StatusSuspended, executor.StatusFailed:
		return out
	default:
		return executor.Outcome{
			Status:    executor.StatusFailed,
			Error:     fmt.Sprintf("executor returned unknown status %q", out.Status),
			Permanent: true,
		}
	}
}

// rejectInvalidPath turns an outcome whose path is not a walk of the
// transition table into a permanent failure. Nothing is mutated on rejection.
func rejectInvalidPath(from workflow.State, out executor.Outcome) executor.Outcome {
	var path []workflow.State
	switch out.Status {
	case executor.StatusCompleted:
		path = out.Path
	case executor.StatusSuspended:
		path = suspendPath(out)
	default:
		return out
	}

	cur := from
	for _, s := range path {
		if s == cur {
			continue
		}
		if !workflow.CanTransition(cur, s) {
			err := &workflow.InvalidTransitionError{From: cur, To: s}
			return executor.Outcome{
				Status:    executor.StatusFailed,
				GraphID:   out.GraphID,
				Error:     "executor returned invalid path: " + err.Error(),
				Permanent: true,
			}
		}
		cur = s
	}
	return out
}

func suspendPath(out executor.Outcome) []workflow.State {
	if out.SuspendState == "" {
		return out.Path
	}
	path := make([]workflow.State, 0, len(out.Path)+1)
	path = append(path, out.Path...)
	return append(path, out.SuspendState)
}

// advance walks the ticket along path. Steps equal to the current state are skipped.
func advance(t *workflow.Ticket, path []workflow.State, reason string) error {
	for _, s := range path {
		if s == t.State {
			continue
		}
		var err error
		if s == workflow.StateCompleted {
			err = t.Complete(reason)
		} else {
			err = t.TransitionTo(s, reason)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func recordFacts(t *workflow.Ticket, out executor.Outcome) {
	for _, q := range out.Questions {
		t.AddQuestion(q)
	}
	for _, ans := range out.Answers {
		t.AddAnswer(ans.QuestionID, ans.Text)
	}
	if out.PlanBranch != "" {
		t.RecordPlan(out.PlanBranch)
	}
	if out.PullRequest != nil {
		t.RecordPullRequest(out.PullRequest.URL, out.PullRequest.Number)
	}
}

func stateChanges(t *workflow.Ticket) []workflow.State {
	var states []workflow.State
	for _, ev := range t.PendingEvents() {
		if sc, ok := ev.Payload.(workflow.StateChanged); ok {
			states = append(states, sc.To)
		}
	}
	return states
}

func snapshotOf(cp *store.Checkpoint) store.Snapshot {
	return store.Snapshot{
		CheckpointID:  cp.CheckpointID,
		TenantID:      cp.TenantID,
		AgentName:     cp.AgentName,
		NextAgentType: cp.NextAgentType,
		StateJSON:     cp.StateJSON,
	}
}

func completionResult(out executor.Outcome) string {
	if out.Result != "" {
		return out.Result
	}
	return string(executor.StatusCompleted)
}

func failureMessage(out executor.Outcome) string {
	if out.Error != "" {
		return out.Error
	}
	return "graph execution failed"
}
