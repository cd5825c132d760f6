package transport

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/basket/kuix/internal/kerrors"
)

// handshakeRequest is the one-shot plaintext authentication payload a
// Worker-Host sends immediately after dialing, before any framed traffic.
type handshakeRequest struct {
	Identifier string `json:"identifier"`
	Key        string `json:"key"`
}

type handshakeResponse struct {
	Status string `json:"status"`
}

const (
	statusValid   = "valid"
	statusInvalid = "invalid"
)

// Server accepts Worker-Host connections, authenticates them, and hands
// validated connections to OnAccepted. It is the listening half of the
// frame transport; the Core's request multiplexer is layered on top of it.
type Server struct {
	authKey           string
	artificialLatency time.Duration
	logger            *slog.Logger

	ln net.Listener

	mu          sync.Mutex
	accepting   bool
	connections map[string]*Conn

	// Event hooks, each optional. They mirror the source's
	// on_connection_accepted/refused/closed callback arrays, collapsed to
	// a single callback per event since Go composition doesn't need a
	// list of subscribers here.
	OnAccepted func(identifier string, conn *Conn)
	OnRefused  func(identifier string)
	OnClosed   func(identifier string, graceful bool)
}

// Listen binds host:port and returns a Server ready to Serve.
func Listen(host string, port int, authKey string, artificialLatency time.Duration, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindCoreSetupError, err, fmt.Sprintf("failed to listen on %s:%d", host, port))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authKey:           authKey,
		artificialLatency: artificialLatency,
		logger:            logger,
		ln:                ln,
		connections:       make(map[string]*Conn),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until Close is called. It never returns nil;
// when the listener is closed it returns the listener's close error.
func (s *Server) Serve() error {
	s.mu.Lock()
	s.accepting = true
	s.mu.Unlock()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(nc)
	}
}

func (s *Server) handle(nc net.Conn) {
	identifier, ok, err := s.handshake(nc)
	if err != nil {
		s.logger.Warn("handshake failed", "error", err)
		nc.Close()
		return
	}
	if !ok {
		if s.OnRefused != nil {
			s.OnRefused(identifier)
		}
		nc.Close()
		return
	}

	conn := NewConn(nc, s.artificialLatency)
	s.mu.Lock()
	s.connections[identifier] = conn
	s.mu.Unlock()

	if s.OnAccepted != nil {
		s.OnAccepted(identifier, conn)
	}

	conn.Receive(func([]byte) {}, func(graceful bool) {
		s.mu.Lock()
		delete(s.connections, identifier)
		s.mu.Unlock()
		if s.OnClosed != nil {
			s.OnClosed(identifier, graceful)
		}
	})
}

// handshake reads the plaintext auth payload and replies with a status.
// It deliberately predates frame-mode: both sides exchange a single raw
// JSON document with no EOT terminator, since the connection isn't
// authenticated yet and shouldn't be trusted to speak the full protocol.
func (s *Server) handshake(nc net.Conn) (identifier string, valid bool, err error) {
	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 4096)
	n, err := nc.Read(buf)
	if err != nil {
		return "", false, err
	}
	nc.SetReadDeadline(time.Time{})

	var req handshakeRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		return "", false, err
	}

	valid = subtle.ConstantTimeCompare([]byte(req.Key), []byte(s.authKey)) == 1
	status := statusInvalid
	if valid {
		status = statusValid
	}
	resp, err := json.Marshal(handshakeResponse{Status: status})
	if err != nil {
		return req.Identifier, false, err
	}
	if _, err := nc.Write(resp); err != nil {
		return req.Identifier, false, err
	}
	return req.Identifier, valid, nil
}

// Connection returns the live connection for identifier, if any.
func (s *Server) Connection(identifier string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[identifier]
	return c, ok
}

// Connected reports whether identifier currently has a live connection.
func (s *Server) Connected(identifier string) bool {
	_, ok := s.Connection(identifier)
	return ok
}

// Close stops accepting connections and closes the listener. Existing
// connections are left for their owners to close explicitly.
func (s *Server) Close() error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()
	return s.ln.Close()
}
