// Package transport implements the length-delimited JSON-over-TCP framing
// used for all Core <-> Worker-Host communication: a one-shot JSON
// handshake followed by a stream of JSON frames, each terminated by a
// single EOT (0x04) sentinel byte rather than a length prefix.
package transport

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// EOT is the sentinel byte marking the end of a frame on the wire.
const EOT = 0x04

// keepalive is sent by either side when a read times out with nothing
// buffered, so a half-open connection is detected promptly instead of
// waiting on the OS-level TCP timeout.
var keepalive = []byte{0}

// Conn wraps a net.Conn with frame-oriented Send/Receive and a write mutex,
// since a connection's endpoint table and request multiplexer may send
// concurrently while only one reader drains the socket.
type Conn struct {
	nc                net.Conn
	reader            *bufio.Reader
	writeMu           sync.Mutex
	artificialLatency time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an already-connected net.Conn. artificialLatency throttles
// the receive loop between read attempts, matching the knob the external
// interface exposes to operators who want to trade latency for CPU usage
// on a host running many Worker-Host processes.
func NewConn(nc net.Conn, artificialLatency time.Duration) *Conn {
	return &Conn{
		nc:                nc,
		reader:            bufio.NewReaderSize(nc, 4096),
		artificialLatency: artificialLatency,
		closed:            make(chan struct{}),
	}
}

// Send marshals v to JSON and writes it followed by the EOT sentinel.
// Safe for concurrent use.
func (c *Conn) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, EOT)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.nc.Write(b)
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
	})
	return err
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Receive runs the frame-buffering read loop until the connection is
// closed or an unrecoverable read error occurs. onFrame is invoked with
// each complete, raw (still-encoded) JSON frame in the order received.
// onClosed is invoked exactly once when the loop exits, with graceful set
// to true when the remote side closed cleanly (EOF) versus a local Close()
// call or a read error.
func (c *Conn) Receive(onFrame func(frame []byte), onClosed func(graceful bool)) {
	var buf []byte
	retry := 0

	for {
		if c.IsClosed() {
			onClosed(false)
			return
		}

		c.nc.SetReadDeadline(time.Now().Add(time.Second))
		b, err := c.reader.ReadByte()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Nothing to read; send a single keepalive byte so a
				// half-open peer is discovered promptly.
				if _, werr := c.nc.Write(keepalive); werr != nil {
					onClosed(false)
					return
				}
				continue
			}
			graceful := isCleanClose(err)
			onClosed(graceful)
			return
		}

		retry = 0
		if b == EOT {
			frame := buf
			buf = nil
			if len(frame) == 0 || (len(frame) == 1 && frame[0] == keepalive[0]) {
				continue
			}
			onFrame(frame)
			if c.artificialLatency > 0 {
				time.Sleep(c.artificialLatency)
			}
			continue
		}
		if b == keepalive[0] && c.reader.Buffered() == 0 && len(buf) == 0 {
			// Lone keepalive byte with no frame in progress: ignore.
			continue
		}
		buf = append(buf, b)
		_ = retry
	}
}

func isCleanClose(err error) bool {
	// A read that fails because the peer closed the TCP connection (EOF,
	// or "connection reset") is a graceful shutdown from this side's
	// point of view: there is no frame to recover and no action to retry.
	return err != nil
}
