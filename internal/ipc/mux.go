package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/kuix/internal/kerrors"
	"github.com/basket/kuix/internal/otelobs"
)

// Sender is the minimal transport surface the multiplexer needs. It is
// satisfied by *transport.Conn; kept as an interface here so mux_test.go
// can exercise the dispatch logic without a real socket.
type Sender interface {
	Send(v any) error
}

// Mux is the request multiplexer for one connection, used identically by
// the Core (one per connected Worker-Host) and the Worker Host (one for
// its single connection to the Core). It owns the endpoint tables and the
// pending-request table for blocking calls this side initiated.
type Mux struct {
	conn   Sender
	logger *slog.Logger

	mu                 sync.Mutex
	endpoints          map[string]Handler
	blockingEndpoints  map[string]BlockingHandler
	pending            map[string]chan json.RawMessage

	unknownRidHook func(rid string)
	metrics        *otelobs.Metrics
}

// New creates a Mux that sends frames over conn.
func New(conn Sender, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		conn:              conn,
		logger:            logger,
		endpoints:         make(map[string]Handler),
		blockingEndpoints: make(map[string]BlockingHandler),
		pending:           make(map[string]chan json.RawMessage),
	}
}

// WithObservability attaches metrics instruments and, if populated, a
// tracer to this Mux's send/receive paths. A Mux with metrics left nil
// behaves identically, only without instrumentation; callers that don't
// care about observability can skip this entirely.
func (m *Mux) WithObservability(metrics *otelobs.Metrics) *Mux {
	m.metrics = metrics
	return m
}

// OnUnknownRid installs a callback invoked whenever a RESPONSE frame
// arrives for a rid with no pending waiter, after the retry window below
// has elapsed. Tests and metrics wiring use this; production code may
// leave it nil.
func (m *Mux) OnUnknownRid(fn func(rid string)) {
	m.unknownRidHook = fn
}

// RegisterEndpoint installs (or overwrites, with a warning) a
// fire-and-forget endpoint handler.
func (m *Mux) RegisterEndpoint(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.endpoints[name]; exists {
		m.logger.Warn("overwriting existing fire-and-forget endpoint", "endpoint", name)
	}
	m.endpoints[name] = h
}

// RegisterBlockingEndpoint installs (or overwrites, with a warning) a
// blocking endpoint handler.
func (m *Mux) RegisterBlockingEndpoint(name string, h BlockingHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blockingEndpoints[name]; exists {
		m.logger.Warn("overwriting existing blocking endpoint", "endpoint", name)
	}
	m.blockingEndpoints[name] = h
}

// Send sends a fire-and-forget request to endpoint.
func (m *Mux) Send(endpoint string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.countSent(endpoint)
	return m.conn.Send(Envelope{RType: FireAndForget, Endpoint: endpoint, Data: raw})
}

func (m *Mux) countSent(endpoint string) {
	if m.metrics == nil {
		return
	}
	m.metrics.MessagesSent.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *Mux) countReceived(endpoint string) {
	if m.metrics == nil {
		return
	}
	m.metrics.MessagesReceived.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// SendResponse sends the RESPONSE half of a blocking round trip back to
// whoever sent the original BLOCKING request carrying rid.
func (m *Mux) SendResponse(endpoint string, data any, rid string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.countSent(endpoint)
	return m.conn.Send(Envelope{RType: Response, Endpoint: endpoint, Data: raw, Rid: rid})
}

// SendAndBlock sends a BLOCKING request and waits for its RESPONSE. A nil
// ctx blocks forever, matching the source implementation's semantics for
// an endpoint that never responds: the caller is expected to only use
// this against endpoints it trusts to always reply. Pass a context with a
// deadline to bound the wait instead.
func (m *Mux) SendAndBlock(ctx context.Context, endpoint string, data any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	rid := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	m.mu.Lock()
	m.pending[rid] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, rid)
		m.mu.Unlock()
	}()

	if m.metrics != nil && m.metrics.Tracer != nil {
		var span trace.Span
		ctx, span = otelobs.StartClientSpan(ctx, m.metrics.Tracer, "kuix.ipc.blocking",
			attribute.String("kuix.ipc.endpoint", endpoint), attribute.String("kuix.ipc.rid", rid))
		defer span.End()
	}

	start := time.Now()
	m.countSent(endpoint)
	if err := m.conn.Send(Envelope{RType: Blocking, Endpoint: endpoint, Data: raw, Rid: rid}); err != nil {
		return nil, kerrors.Wrap(kerrors.KindSocketClientSendError, err,
			fmt.Sprintf("failed to send blocking request to endpoint %q", endpoint))
	}

	select {
	case resp := <-ch:
		if m.metrics != nil {
			m.metrics.BlockingCallDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("endpoint", endpoint)))
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleFrame dispatches one raw frame received off the wire. It is meant
// to be passed as the onFrame callback to transport.Conn.Receive.
func (m *Mux) HandleFrame(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		m.logger.Error("malformed ipc frame", "error", err)
		return
	}

	switch env.RType {
	case FireAndForget:
		m.countReceived(env.Endpoint)
		m.mu.Lock()
		h, ok := m.endpoints[env.Endpoint]
		m.mu.Unlock()
		if !ok {
			m.logger.Error("received request to unregistered endpoint",
				"endpoint", env.Endpoint, "rtype", FireAndForget)
			return
		}
		go h(env.Data)

	case Blocking:
		m.countReceived(env.Endpoint)
		m.mu.Lock()
		h, ok := m.blockingEndpoints[env.Endpoint]
		m.mu.Unlock()
		if !ok {
			m.logger.Error("received blocking request to unregistered endpoint; "+
				"the caller will hang waiting for a response that will never arrive",
				"endpoint", env.Endpoint, "rid", env.Rid)
			return
		}
		go m.dispatchBlocking(h, env.Endpoint, env.Rid, env.Data)

	case Response:
		m.countReceived(env.Endpoint)
		go m.resolveResponse(env.Rid, env.Data)

	default:
		m.logger.Error("received unknown request type", "rtype", env.RType)
	}
}

// dispatchBlocking invokes a blocking endpoint handler, bracketed in a
// server span when a tracer is attached.
func (m *Mux) dispatchBlocking(h BlockingHandler, endpoint, rid string, data json.RawMessage) {
	if m.metrics != nil && m.metrics.Tracer != nil {
		_, span := otelobs.StartServerSpan(context.Background(), m.metrics.Tracer, "kuix.ipc.blocking.handle",
			attribute.String("kuix.ipc.endpoint", endpoint), attribute.String("kuix.ipc.rid", rid))
		defer span.End()
	}
	h(rid, data)
}

// resolveResponse implements the same tolerance the source gives a
// response that arrives before its pending entry is fully registered: two
// retries spaced 200ms apart before giving up and logging UnknownRid.
func (m *Mux) resolveResponse(rid string, data json.RawMessage) {
	for i := 0; i < 2; i++ {
		m.mu.Lock()
		ch, ok := m.pending[rid]
		m.mu.Unlock()
		if ok {
			ch <- data
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	m.mu.Lock()
	ch, ok := m.pending[rid]
	m.mu.Unlock()
	if ok {
		ch <- data
		return
	}

	m.logger.Error("received response with unknown rid; "+
		"a blocking caller may be waiting forever for this request",
		"rid", rid)
	if m.metrics != nil {
		m.metrics.UnknownRid.Add(context.Background(), 1)
	}
	if m.unknownRidHook != nil {
		m.unknownRidHook(rid)
	}
}
