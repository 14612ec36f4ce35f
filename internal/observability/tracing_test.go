package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestInitTracer_UnreachableCollector(t *testing.T) {
	// gRPC dials lazily, so an unreachable endpoint still initializes.
	shutdown, err := InitTracer(context.Background(), "ticketflow-test", "collector.invalid:4317",
		WithSampleRatio(0.5), WithInstanceID("worker-1"))
	if err != nil {
		t.Logf("InitTracer failed in this environment: %v", err)
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = shutdown(shutdownCtx)
}

func TestInitTracer_NoCollectorInstallsPropagator(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "ticketflow-test", "")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}

	fields := strings.Join(otel.GetTextMapPropagator().Fields(), ",")
	if !strings.Contains(fields, "traceparent") {
		t.Errorf("expected W3C trace context propagator, got fields %s", fields)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := sampler(tt.ratio).Description()
		if !strings.HasPrefix(got, "ParentBased{root:"+tt.want) {
			t.Errorf("sampler(%v) = %s, want root %s", tt.ratio, got, tt.want)
		}
	}
}

func TestNewResource_InstanceID(t *testing.T) {
	res, err := newResource(context.Background(), "ticketflow-worker", "worker-7")
	if err != nil {
		t.Fatalf("newResource failed: %v", err)
	}

	var name, instance string
	for _, kv := range res.Attributes() {
		switch kv.Key {
		case semconv.ServiceNameKey:
			name = kv.Value.AsString()
		case semconv.ServiceInstanceIDKey:
			instance = kv.Value.AsString()
		}
	}
	if name != "ticketflow-worker" || instance != "worker-7" {
		t.Errorf("unexpected resource attributes service.name=%q service.instance.id=%q", name, instance)
	}
}
