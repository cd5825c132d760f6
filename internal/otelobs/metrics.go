package otelobs

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds all KuiX metrics instruments, plus the tracer spans are
// started from. Bundling the two together means every call site that
// already threads *Metrics through (internal/core, internal/host,
// internal/ipc) gets tracing for free instead of needing a second
// constructor parameter everywhere.
type Metrics struct {
	Tracer trace.Tracer

	BlockingCallDuration metric.Float64Histogram
	MessagesSent         metric.Int64Counter
	MessagesReceived     metric.Int64Counter
	UnknownRid           metric.Int64Counter
	WorkerStartDuration  metric.Float64Histogram
	WorkerStopDuration   metric.Float64Histogram
	WorkersActive        metric.Int64UpDownCounter
	HostsConnected       metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter and
// attaches tracer for span-producing call sites.
func NewMetrics(tracer trace.Tracer, meter metric.Meter) (*Metrics, error) {
	m := &Metrics{Tracer: tracer}
	var err error

	m.BlockingCallDuration, err = meter.Float64Histogram("kuix.ipc.blocking.duration",
		metric.WithDescription("Round trip duration of blocking IPC requests, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesSent, err = meter.Int64Counter("kuix.ipc.messages.sent",
		metric.WithDescription("Total IPC messages sent"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesReceived, err = meter.Int64Counter("kuix.ipc.messages.received",
		metric.WithDescription("Total IPC messages received"),
	)
	if err != nil {
		return nil, err
	}

	m.UnknownRid, err = meter.Int64Counter("kuix.ipc.unknown_rid",
		metric.WithDescription("Responses received for a request id with no pending waiter"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkerStartDuration, err = meter.Float64Histogram("kuix.worker.start.duration",
		metric.WithDescription("Time spent in a worker's __start__ call, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkerStopDuration, err = meter.Float64Histogram("kuix.worker.stop.duration",
		metric.WithDescription("Time spent in a worker's __stop__ call, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkersActive, err = meter.Int64UpDownCounter("kuix.worker.active",
		metric.WithDescription("Number of workers currently running"),
	)
	if err != nil {
		return nil, err
	}

	m.HostsConnected, err = meter.Int64UpDownCounter("kuix.host.connected",
		metric.WithDescription("Number of Worker-Host processes currently connected to the Core"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
