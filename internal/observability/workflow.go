package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ticketflow"

// Instruments are the workflow metrics shared by the worker, the maintenance
// sweeps and the controller.
type Instruments struct {
	executions   metric.Int64Counter
	duration     metric.Float64Histogram
	transitions  metric.Int64Counter
	sweeps       metric.Int64Counter
	staleTickets metric.Int64Gauge
}

// NewInstruments creates the instruments on the global meter provider.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(meterName)

	executions, err := meter.Int64Counter("ticketflow.executions",
		metric.WithDescription("Graph invocations by kind and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("ticketflow.execution.duration",
		metric.WithDescription("Graph invocation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("ticketflow.transitions",
		metric.WithDescription("Ticket state transitions by target state"))
	if err != nil {
		return nil, err
	}
	sweeps, err := meter.Int64Counter("ticketflow.maintenance.sweeps",
		metric.WithDescription("Maintenance sweep runs by sweep and result"))
	if err != nil {
		return nil, err
	}
	stale, err := meter.Int64Gauge("ticketflow.stale_tickets",
		metric.WithDescription("Tickets waiting for answers longer than the threshold"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		executions:   executions,
		duration:     duration,
		transitions:  transitions,
		sweeps:       sweeps,
		staleTickets: stale,
	}, nil
}

// RecordExecution counts one graph invocation. kind is "execute" or "resume".
func (i *Instruments) RecordExecution(ctx context.Context, kind, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome))
	i.executions.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (i *Instruments) RecordTransition(ctx context.Context, to string) {
	if i == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

func (i *Instruments) RecordSweep(ctx context.Context, sweep string, err error) {
	if i == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	i.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("sweep", sweep), attribute.String("result", result)))
}

func (i *Instruments) SetStaleTickets(ctx context.Context, n int64) {
	if i == nil {
		return
	}
	i.staleTickets.Record(ctx, n)
}

// QueueDepthFunc reports the current pending executions and resumable suspensions.
type QueueDepthFunc func(ctx context.Context) (pending, resumable int64, err error)

// RegisterQueueDepth exposes queue depth as observable gauges read at scrape time.
func RegisterQueueDepth(fn QueueDepthFunc) error {
	meter := otel.Meter(meterName)

	pending, err := meter.Int64ObservableGauge("ticketflow.queue.pending",
		metric.WithDescription("Pending execution requests"))
	if err != nil {
		return err
	}
	resumable, err := meter.Int64ObservableGauge("ticketflow.queue.resumable",
		metric.WithDescription("Suspended workflows with a resume message"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		p, r, err := fn(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(pending, p)
		o.ObserveInt64(resumable, r)
		return nil
	}, pending, resumable)
	return err
}
