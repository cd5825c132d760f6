package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/basket/kuix/internal/kerrors"
)

// Dial connects to a Core's transport listener, performs the plaintext
// auth handshake, and returns a frame-mode Conn ready for Receive. The
// caller (internal/ipc) owns wiring Receive's callbacks.
func Dial(identifier, authKey, host string, port int, artificialLatency time.Duration) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	nc, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindSocketClientConnectionError, err,
			fmt.Sprintf("failed to connect to %s", addr))
	}

	req := handshakeRequest{Identifier: identifier, Key: authKey}
	b, err := json.Marshal(req)
	if err != nil {
		nc.Close()
		return nil, kerrors.Wrap(kerrors.KindSocketClientConnectionError, err, "failed to encode handshake")
	}
	if _, err := nc.Write(b); err != nil {
		nc.Close()
		return nil, kerrors.Wrap(kerrors.KindSocketClientConnectionError, err, "failed to send handshake")
	}

	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, err := nc.Read(buf)
	if err != nil {
		nc.Close()
		return nil, kerrors.Wrap(kerrors.KindSocketClientConnectionError, err, "failed to read handshake response")
	}
	nc.SetReadDeadline(time.Time{})

	var resp handshakeResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		nc.Close()
		return nil, kerrors.Wrap(kerrors.KindSocketClientConnectionError, err, "failed to decode handshake response")
	}
	if resp.Status != statusValid {
		nc.Close()
		return nil, kerrors.New(kerrors.KindAuthenticationFailed,
			fmt.Sprintf("core %s refused credentials for identifier %q", addr, identifier))
	}

	return NewConn(nc, artificialLatency), nil
}
