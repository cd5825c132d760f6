package transport

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestHandshakeAndFrameRoundTrip(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0, "s3cr3t", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var accepted *Conn
	srv.OnAccepted = func(identifier string, conn *Conn) {
		if identifier != "host-1" {
			t.Errorf("identifier = %q, want host-1", identifier)
		}
		accepted = conn
		wg.Done()
	}

	go srv.Serve()

	addr := srv.Addr()
	host, portStr, err := splitHostPort(addr.String())
	if err != nil {
		t.Fatalf("splitHostPort: %v", err)
	}

	client, err := Dial("host-1", "s3cr3t", host, portStr, time.Millisecond)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	wg.Wait()
	if accepted == nil {
		t.Fatal("server never accepted the connection")
	}

	received := make(chan map[string]any, 1)
	go accepted.Receive(func(frame []byte) {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Errorf("unmarshal frame: %v", err)
			return
		}
		received <- m
	}, func(bool) {})

	if err := client.Send(map[string]any{"rtype": "FIRE_AND_FORGET", "endpoint": "ping", "data": map[string]any{}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case m := <-received:
		if m["endpoint"] != "ping" {
			t.Fatalf("endpoint = %v, want ping", m["endpoint"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestDialRejectsBadKey(t *testing.T) {
	srv, err := Listen("127.0.0.1", 0, "s3cr3t", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	addr := srv.Addr()
	host, port, err := splitHostPort(addr.String())
	if err != nil {
		t.Fatalf("splitHostPort: %v", err)
	}

	_, err = Dial("host-1", "wrong-key", host, port, time.Millisecond)
	if err == nil {
		t.Fatal("expected Dial with wrong key to fail")
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
