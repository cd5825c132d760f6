package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/basket/kuix/internal/config"
	"github.com/basket/kuix/internal/ipc"
	"github.com/basket/kuix/internal/transport"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Config{IPCHost: "127.0.0.1", IPCPort: 0, AuthKey: "test-key"}
	c, err := New(cfg, t.TempDir(), "", slog.Default(), nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go c.Serve()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *Core) testAddr() (string, int) {
	tcpAddr := c.server.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

// fakeHost dials Core, authenticates as identifier, and installs blocking
// endpoint handlers that always respond "success" unless a handler is
// overridden via On.
type fakeHost struct {
	conn *transport.Conn
	mux  *ipc.Mux

	receivedCh chan struct {
		endpoint string
		data     json.RawMessage
	}
}

func dialFakeHost(t *testing.T, c *Core, identifier string) *fakeHost {
	t.Helper()
	ip, port := c.testAddr()
	conn, err := transport.Dial(identifier, c.cfg.AuthKey, ip, port, 0)
	if err != nil {
		t.Fatalf("dial fake host %q: %v", identifier, err)
	}
	fh := &fakeHost{
		conn: conn,
		mux:  ipc.New(conn, slog.Default()),
		receivedCh: make(chan struct {
			endpoint string
			data     json.RawMessage
		}, 16),
	}
	for _, name := range []string{"register_strategy", "add_component", "create_worker", "start_worker", "stop_worker", "close_worker", "close_process"} {
		endpoint := name
		fh.mux.RegisterBlockingEndpoint(endpoint, func(rid string, data json.RawMessage) {
			fh.receivedCh <- struct {
				endpoint string
				data     json.RawMessage
			}{endpoint, data}
			_ = fh.mux.SendResponse(endpoint, ipc.Result{Status: ipc.StatusSuccess, Return: "ok"}, rid)
		})
	}
	go conn.Receive(fh.mux.HandleFrame, func(bool) {})
	t.Cleanup(func() { _ = conn.Close() })
	return fh
}

func waitConnected(t *testing.T, c *Core, identifier string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.hostRecord(identifier); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("host %q never appeared in host table", identifier)
}

func TestRegisterStrategyReachesConnectedHost(t *testing.T) {
	c := newTestCore(t)
	fh := dialFakeHost(t, c, "H1")
	waitConnected(t, c, "H1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.RegisterStrategy(ctx, "Debug", "Debug", nil); err != nil {
		t.Fatalf("RegisterStrategy: %v", err)
	}

	select {
	case recv := <-fh.receivedCh:
		if recv.endpoint != "register_strategy" {
			t.Fatalf("expected register_strategy, got %s", recv.endpoint)
		}
	case <-time.After(time.Second):
		t.Fatal("fake host never received register_strategy")
	}
}

func TestRegisterStrategyDuplicateRejected(t *testing.T) {
	c := newTestCore(t)
	dialFakeHost(t, c, "H1")
	waitConnected(t, c, "H1")

	ctx := context.Background()
	if err := c.RegisterStrategy(ctx, "Debug", "Debug", nil); err != nil {
		t.Fatalf("first RegisterStrategy: %v", err)
	}
	err := c.RegisterStrategy(ctx, "Debug", "Debug", nil)
	if err == nil {
		t.Fatal("expected duplicate register_strategy to fail")
	}
}

func TestRegisterStrategyBroadcastToLateJoiner(t *testing.T) {
	c := newTestCore(t)

	ctx := context.Background()
	// No host connected yet: the descriptor is still recorded.
	if err := c.RegisterStrategy(ctx, "Debug", "Debug", nil); err != nil {
		t.Fatalf("RegisterStrategy: %v", err)
	}

	fh := dialFakeHost(t, c, "H2")
	waitConnected(t, c, "H2")

	select {
	case recv := <-fh.receivedCh:
		if recv.endpoint != "register_strategy" {
			t.Fatalf("expected register_strategy broadcast to late joiner, got %s", recv.endpoint)
		}
	case <-time.After(time.Second):
		t.Fatal("late-joining host never received the already-registered strategy")
	}
}

func TestCreateWorkerUnknownHostFails(t *testing.T) {
	c := newTestCore(t)
	err := c.CreateWorker(context.Background(), "ghost", "Debug", "W1", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected CreateWorker against unknown host to fail")
	}
}

func TestCreateWorkerUnknownStrategyFails(t *testing.T) {
	c := newTestCore(t)
	dialFakeHost(t, c, "H1")
	waitConnected(t, c, "H1")

	err := c.CreateWorker(context.Background(), "H1", "Missing", "W1", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected CreateWorker against unregistered strategy to fail")
	}
}

func TestWorkerLifecycleDispatch(t *testing.T) {
	c := newTestCore(t)
	fh := dialFakeHost(t, c, "H1")
	waitConnected(t, c, "H1")

	ctx := context.Background()
	if err := c.RegisterStrategy(ctx, "Debug", "Debug", nil); err != nil {
		t.Fatalf("RegisterStrategy: %v", err)
	}
	<-fh.receivedCh // drain the register_strategy broadcast

	if err := c.CreateWorker(ctx, "H1", "Debug", "W1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	<-fh.receivedCh

	if err := c.StartWorker(ctx, "H1", "W1"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	<-fh.receivedCh

	if err := c.StopWorker(ctx, "H1", "W1"); err != nil {
		t.Fatalf("StopWorker: %v", err)
	}
	<-fh.receivedCh

	if err := c.CloseWorker(ctx, "H1", "W1"); err != nil {
		t.Fatalf("CloseWorker: %v", err)
	}
	<-fh.receivedCh
}

func TestDuplicateIdentifierSecondConnectionClosed(t *testing.T) {
	c := newTestCore(t)
	dialFakeHost(t, c, "H1")
	waitConnected(t, c, "H1")

	ip, port := c.testAddr()
	conn2, err := transport.Dial("H1", c.cfg.AuthKey, ip, port, 0)
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	defer conn2.Close()

	// Core closes the duplicate connection; a subsequent Send should
	// eventually fail once the close propagates.
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		lastErr = conn2.Send(map[string]any{"rtype": "FIRE_AND_FORGET", "endpoint": "noop", "data": map[string]any{}})
		if lastErr != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if lastErr == nil {
		t.Fatal("expected the duplicate-identifier connection to be closed by Core")
	}
}
