package worker

import (
	"context"
	"testing"

	"ticketflow/internal/worker/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func tracedHarness(t *testing.T) (*harness, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, AgentConfig{Concurrency: 1})
	agent, err := New(h.store, h.exec, AgentConfig{Concurrency: 1, MaxRetries: 3},
		WithLogger(discard), WithTracerProvider(tp))
	require.NoError(t, err)
	t.Cleanup(agent.Close)
	h.agent = agent
	return h, exp
}

func spanAttr(span tracetest.SpanStub, key attribute.Key) string {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestRunOnce_ExecutionSpan(t *testing.T) {
	h, exp := tracedHarness(t)
	ticket := h.ticketAt(t)
	req := h.enqueue(t, ticket, "refinement")

	h.runOnce(t, 1)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "execute_graph", span.Name)
	assert.Equal(t, trace.SpanKindConsumer, span.SpanKind)
	assert.Equal(t, req.ExecutionID.String(), spanAttr(span, "execution.id"))
	assert.Equal(t, ticket.ID.String(), spanAttr(span, "ticket.id"))
	assert.Equal(t, "refinement", spanAttr(span, "workflow.type"))
	assert.NotEqual(t, codes.Error, span.Status.Code)
}

func TestRunOnce_FailedExecutionMarksSpan(t *testing.T) {
	h, exp := tracedHarness(t)
	ticket := h.ticketAt(t)
	h.enqueue(t, ticket, "refinement")

	h.exec.ExecuteFunc = func(ctx context.Context, r executor.ExecuteRequest) (executor.Outcome, error) {
		return executor.Outcome{Status: executor.StatusFailed, Error: "graph crashed"}, nil
	}

	h.runOnce(t, 1)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}
