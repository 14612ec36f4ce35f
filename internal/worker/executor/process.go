package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ProcessExecutor runs the agent graph as a local subprocess. The request is
// written to stdin as JSON and the Outcome is read from stdout. The first
// extra argument is "execute" or "resume". This is mostly used for development.
type ProcessExecutor struct {
	Command []string
	Env     map[string]string
}

// NewProcessExecutor creates an executor that runs command.
func NewProcessExecutor(command []string, env map[string]string) *ProcessExecutor {
	return &ProcessExecutor{Command: command, Env: env}
}

func (p *ProcessExecutor) Execute(ctx context.Context, req ExecuteRequest) (Outcome, error) {
	return p.run(ctx, "execute", req, map[string]string{
		"TICKETFLOW_EXECUTION_ID": req.ExecutionID.String(),
		"TICKETFLOW_TICKET_ID":    req.TicketID.String(),
	})
}

func (p *ProcessExecutor) ResumeFromCheckpoint(ctx context.Context, req ResumeRequest) (Outcome, error) {
	return p.run(ctx, "resume", req, map[string]string{
		"TICKETFLOW_TICKET_ID": req.TicketID.String(),
		"TICKETFLOW_GRAPH_ID":  req.GraphID,
	})
}

func (p *ProcessExecutor) run(ctx context.Context, mode string, req any, extraEnv map[string]string) (Outcome, error) {
	if len(p.Command) == 0 {
		return Outcome{}, Permanent(errors.New("command is required"))
	}

	input, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	args := append(append([]string{}, p.Command[1:]...), mode)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = os.Environ()
	for k, v := range p.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, fmt.Errorf("executor process: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Outcome{}, fmt.Errorf("executor process exited with code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		// Binary missing or not executable.
		return Outcome{}, Permanent(fmt.Errorf("failed to start executor process: %w", err))
	}

	var out Outcome
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode executor outcome: %w", err)
	}
	return out, nil
}
