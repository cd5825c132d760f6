package host

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/basket/kuix/internal/ipc"
	"github.com/basket/kuix/internal/strategyload"
	"github.com/basket/kuix/internal/transport"
	"github.com/basket/kuix/internal/worker"
)

// fakeStrategy is a minimal worker.Strategy used across tests: Run returns
// immediately on the first CheckStatus that reports false, and both
// strategy hooks just record they were called.
type fakeStrategy struct {
	worker.BaseStrategy
	failOpen bool
}

func (s *fakeStrategy) Run(rt *worker.Runtime) {
	for rt.CheckStatus() {
		time.Sleep(time.Millisecond)
	}
}

func (s *fakeStrategy) Open() error {
	if s.failOpen {
		return &openError{}
	}
	return nil
}
func (s *fakeStrategy) Start() error { return nil }
func (s *fakeStrategy) Stop() error  { return nil }
func (s *fakeStrategy) Close() error { return nil }

type openError struct{}

func (e *openError) Error() string { return "open failed" }

var _ worker.Strategy = (*fakeStrategy)(nil)
var _ worker.Component = (*fakeStrategy)(nil)

func newTestHost(t *testing.T) (*Host, net.Conn) {
	server, client := net.Pipe()
	conn := transport.NewConn(server, 0)

	registry := strategyload.NewIsolatedRegistry()
	registry.RegisterOn("Debug", func(identifier string, config []byte) (worker.Strategy, error) {
		return &fakeStrategy{}, nil
	})
	registry.RegisterOn("FailsOpen", func(identifier string, config []byte) (worker.Strategy, error) {
		return &fakeStrategy{failOpen: true}, nil
	})
	components := strategyload.NewIsolatedComponentRegistry()

	h := New("H1", conn, registry, components, nil, nil, nil, nil)
	t.Cleanup(func() { _ = conn.Close(); _ = client.Close() })
	return h, client
}

// readEnvelope reads one EOT-terminated frame off client and decodes it as
// an ipc.Envelope. It must run on a separate goroutine from the call that
// triggers the response, since net.Pipe is unbuffered.
func readEnvelope(t *testing.T, client net.Conn) ipc.Envelope {
	t.Helper()
	var buf bytes.Buffer
	b := make([]byte, 1)
	for {
		n, err := client.Read(b)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if n == 0 {
			continue
		}
		if b[0] == transport.EOT {
			break
		}
		buf.WriteByte(b[0])
	}
	var env ipc.Envelope
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v, raw=%s", err, buf.String())
	}
	return env
}

func call(t *testing.T, client net.Conn, fn func(rid string, data json.RawMessage), payload any) ipc.Result {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	resultCh := make(chan ipc.Envelope, 1)
	go func() { resultCh <- readEnvelope(t, client) }()

	fn("rid-1", raw)

	select {
	case env := <-resultCh:
		var result ipc.Result
		if err := json.Unmarshal(env.Data, &result); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return ipc.Result{}
	}
}

func TestRegisterStrategyAndCreateWorker(t *testing.T) {
	h, client := newTestHost(t)

	res := call(t, client, h.handleRegisterStrategy, registerStrategyRequest{Name: "Debug", ImportPath: "Debug"})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("register_strategy: expected success, got %+v", res)
	}

	res = call(t, client, h.handleCreateWorker, createWorkerRequest{StrategyName: "Debug", Identifier: "W1", Config: json.RawMessage(`{}`)})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("create_worker: expected success, got %+v", res)
	}

	if _, ok := h.lookupWorker("W1"); !ok {
		t.Fatal("expected worker W1 to be recorded")
	}
}

func TestCreateWorkerUnknownStrategy(t *testing.T) {
	h, client := newTestHost(t)

	res := call(t, client, h.handleCreateWorker, createWorkerRequest{StrategyName: "Missing", Identifier: "W1"})
	if res.Status != ipc.StatusError {
		t.Fatalf("expected error, got %+v", res)
	}
}

func TestCreateWorkerDuplicateIdentifier(t *testing.T) {
	h, client := newTestHost(t)

	call(t, client, h.handleRegisterStrategy, registerStrategyRequest{Name: "Debug", ImportPath: "Debug"})
	call(t, client, h.handleCreateWorker, createWorkerRequest{StrategyName: "Debug", Identifier: "W1", Config: json.RawMessage(`{}`)})

	res := call(t, client, h.handleCreateWorker, createWorkerRequest{StrategyName: "Debug", Identifier: "W1", Config: json.RawMessage(`{}`)})
	if res.Status != ipc.StatusError {
		t.Fatalf("expected duplicate create_worker to fail, got %+v", res)
	}
}

func TestFullWorkerLifecycle(t *testing.T) {
	h, client := newTestHost(t)

	call(t, client, h.handleRegisterStrategy, registerStrategyRequest{Name: "Debug", ImportPath: "Debug"})
	call(t, client, h.handleCreateWorker, createWorkerRequest{StrategyName: "Debug", Identifier: "W1", Config: json.RawMessage(`{}`)})

	res := call(t, client, h.handleStartWorker, workerIDRequest{Identifier: "W1"})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("start_worker: expected success, got %+v", res)
	}

	res = call(t, client, h.handleStopWorker, workerIDRequest{Identifier: "W1"})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("stop_worker: expected success, got %+v", res)
	}

	res = call(t, client, h.handleCloseWorker, workerIDRequest{Identifier: "W1"})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("close_worker: expected success, got %+v", res)
	}

	if _, ok := h.lookupWorker("W1"); ok {
		t.Fatal("expected worker record to be removed after close")
	}

	res = call(t, client, h.handleStartWorker, workerIDRequest{Identifier: "W1"})
	if res.Status != ipc.StatusError {
		t.Fatalf("expected start_worker on closed identifier to fail, got %+v", res)
	}
}

func TestCreateWorkerOpenFailurePropagates(t *testing.T) {
	h, client := newTestHost(t)

	call(t, client, h.handleRegisterStrategy, registerStrategyRequest{Name: "FailsOpen", ImportPath: "FailsOpen"})
	res := call(t, client, h.handleCreateWorker, createWorkerRequest{StrategyName: "FailsOpen", Identifier: "W1", Config: json.RawMessage(`{}`)})
	if res.Status != ipc.StatusError {
		t.Fatalf("expected create_worker to fail when Open fails, got %+v", res)
	}
	if _, ok := h.lookupWorker("W1"); ok {
		t.Fatal("expected no worker record when Open fails")
	}
}

func TestAddComponentIsIdempotent(t *testing.T) {
	h, client := newTestHost(t)

	calls := 0
	h.componentLoader.RegisterOn("Metrics", func(config []byte) (worker.Component, error) {
		calls++
		return worker.NopComponent{}, nil
	})

	res := call(t, client, h.handleAddComponent, addComponentRequest{Name: "Metrics", ImportPath: "Metrics"})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("add_component: expected success, got %+v", res)
	}
	res = call(t, client, h.handleAddComponent, addComponentRequest{Name: "Metrics", ImportPath: "Metrics"})
	if res.Status != ipc.StatusSuccess {
		t.Fatalf("add_component (repeat): expected success, got %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected component factory invoked once, got %d", calls)
	}
}
