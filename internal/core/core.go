// Package core implements the Core Orchestrator: the listen socket, the
// host table, the registered-strategy table, and the public API user code
// drives (register_strategy, create_process, create_worker, and friends).
// Grounded on original_source/src/core/core.py.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/basket/kuix/internal/audit"
	"github.com/basket/kuix/internal/bus"
	"github.com/basket/kuix/internal/config"
	"github.com/basket/kuix/internal/ipc"
	"github.com/basket/kuix/internal/kerrors"
	"github.com/basket/kuix/internal/otelobs"
	"github.com/basket/kuix/internal/transport"
)

// processWaitTimeout is create_process_and_wait's polling ceiling.
const processWaitTimeout = 30 * time.Second

// processPollInterval is how often create_process_and_wait checks the
// host table while waiting for a spawned process to connect.
const processPollInterval = 100 * time.Millisecond

// StrategyDescriptor is the Core-side record of a registered strategy:
// the name every Host will look the class up by, and the import path
// passed straight through to the Host's loader.
type StrategyDescriptor struct {
	Name       string
	ImportPath string
	Schema     json.RawMessage
}

// hostRecord is one connected Worker-Host: its live connection, request
// multiplexer, and the set of strategies pushed to it so far.
type hostRecord struct {
	identifier string
	conn       *transport.Conn
	mux        *ipc.Mux
}

// Core owns the listen socket, the host table, and the strategies table.
type Core struct {
	cfg    config.Config
	root   string
	logger *slog.Logger

	server   *transport.Server
	auditLog *audit.Log
	events   *bus.Bus
	metrics  *otelobs.Metrics

	hostBinaryPath string // path to the Worker-Host executable create_process spawns

	mu         sync.Mutex
	hosts      map[string]*hostRecord
	strategies map[string]StrategyDescriptor
	processes  map[string]*exec.Cmd
}

// New sets up the working directories, binds the listen socket, and
// installs the connection-accepted hook that builds the host table. It
// does not start accepting connections; call Serve for that.
func New(cfg config.Config, root, hostBinaryPath string, logger *slog.Logger, auditLog *audit.Log, events *bus.Bus, metrics *otelobs.Metrics) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := setupDirs(root); err != nil {
		return nil, kerrors.Wrap(kerrors.KindCoreSetupError, err, "failed to create working directories")
	}

	latency := time.Duration(cfg.ArtificialLatency * float64(time.Second))
	server, err := transport.Listen(cfg.IPCHost, cfg.IPCPort, cfg.AuthKey, latency, logger)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:            cfg,
		root:           root,
		logger:         logger,
		server:         server,
		auditLog:       auditLog,
		events:         events,
		metrics:        metrics,
		hostBinaryPath: hostBinaryPath,
		hosts:          make(map[string]*hostRecord),
		strategies:     make(map[string]StrategyDescriptor),
		processes:      make(map[string]*exec.Cmd),
	}

	server.OnAccepted = c.onAccepted
	server.OnRefused = c.onRefused
	server.OnClosed = c.onClosed
	return c, nil
}

func setupDirs(root string) error {
	for _, sub := range []string{"Logs", "Strategies", "Components"} {
		if err := os.MkdirAll(filepath.Join(root, "kuiX", sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs the accept loop until Close is called.
func (c *Core) Serve() error {
	return c.server.Serve()
}

// Close stops accepting new connections.
func (c *Core) Close() error {
	return c.server.Close()
}

// AuthKey returns the resolved auth key new Worker-Host processes must
// present, so cmd/kuixcore can hand it to create_process's spawned args.
func (c *Core) AuthKey() string { return c.cfg.AuthKey }

// onAccepted enforces invariant I1 (a unique process identifier inside
// Core at all times): the source notes "Core records only the first;
// collisions are logged" rather than rejecting the TCP connection itself,
// since transport.Server has already accepted it by this point.
func (c *Core) onAccepted(identifier string, conn *transport.Conn) {
	c.mu.Lock()
	if _, exists := c.hosts[identifier]; exists {
		c.mu.Unlock()
		c.logger.Error("duplicate process identifier connected; ignoring", "identifier", identifier)
		c.recordAudit(audit.DecisionError, "host_connect", identifier, fmt.Errorf("duplicate identifier"))
		_ = conn.Close()
		return
	}

	rec := &hostRecord{identifier: identifier, conn: conn, mux: ipc.New(conn, c.logger).WithObservability(c.metrics)}
	c.hosts[identifier] = rec
	known := make([]StrategyDescriptor, 0, len(c.strategies))
	for _, d := range c.strategies {
		known = append(known, d)
	}
	c.mu.Unlock()

	c.logger.Info("worker host connected", "identifier", identifier)
	if c.events != nil {
		c.events.Publish(bus.TopicHostConnected, bus.HostConnectedEvent{Identifier: identifier})
	}
	if c.metrics != nil {
		c.metrics.HostsConnected.Add(context.Background(), 1)
	}
	c.recordAudit(audit.DecisionAllow, "host_connect", identifier, nil)

	// Push every strategy already known to Core to the newly-connected
	// host, fully implementing the broadcast the source left as a TODO
	// (spec invariant I5).
	for _, d := range known {
		if err := c.broadcastStrategyTo(rec, d); err != nil {
			c.logger.Error("failed to push registered strategy to newly connected host",
				"identifier", identifier, "strategy", d.Name, "error", err)
		}
	}
}

func (c *Core) onRefused(identifier string) {
	c.logger.Warn("worker host handshake refused", "identifier", identifier)
	if c.events != nil {
		c.events.Publish(bus.TopicHostRefused, bus.HostRefusedEvent{Identifier: identifier})
	}
}

func (c *Core) onClosed(identifier string, graceful bool) {
	c.mu.Lock()
	delete(c.hosts, identifier)
	c.mu.Unlock()

	c.logger.Info("worker host disconnected", "identifier", identifier, "graceful", graceful)
	if c.events != nil {
		c.events.Publish(bus.TopicHostDisconnected, bus.HostDisconnectedEvent{Identifier: identifier, Graceful: graceful})
	}
	if c.metrics != nil {
		c.metrics.HostsConnected.Add(context.Background(), -1)
	}
}

func (c *Core) recordAudit(decision, operation, subject string, err error) {
	if c.auditLog == nil {
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.auditLog.Record(decision, operation, subject, detail)
}

func (c *Core) hostRecord(identifier string) (*hostRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.hosts[identifier]
	return rec, ok
}

// --- Multiplexer surface, exposed Core-side --------------------------------

// RegisterEndpoint installs a fire-and-forget endpoint on every currently
// connected host's multiplexer and on every host that connects hereafter
// is expected to install it too (cmd/kuixcore registers worker-authored
// endpoints once at startup, before any host connects).
func (c *Core) RegisterEndpoint(identifier, name string, h ipc.Handler) error {
	rec, ok := c.hostRecord(identifier)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", identifier))
	}
	rec.mux.RegisterEndpoint(name, h)
	return nil
}

// RegisterBlockingEndpoint installs a blocking endpoint on identifier's
// multiplexer, the Core-side half of a Host -> Core call.
func (c *Core) RegisterBlockingEndpoint(identifier, name string, h ipc.BlockingHandler) error {
	rec, ok := c.hostRecord(identifier)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", identifier))
	}
	rec.mux.RegisterBlockingEndpoint(name, h)
	return nil
}

// Send sends a fire-and-forget message to identifier's endpoint.
func (c *Core) Send(identifier, endpoint string, data any) error {
	rec, ok := c.hostRecord(identifier)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", identifier))
	}
	return rec.mux.Send(endpoint, data)
}

// SendAndBlock sends a blocking request to identifier's endpoint and waits
// for its response.
func (c *Core) SendAndBlock(ctx context.Context, identifier, endpoint string, data any) (json.RawMessage, error) {
	rec, ok := c.hostRecord(identifier)
	if !ok {
		return nil, kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", identifier))
	}
	return rec.mux.SendAndBlock(ctx, endpoint, data)
}

// SendResponse completes the Core side of a Host -> Core blocking call.
func (c *Core) SendResponse(identifier, endpoint string, data any, rid string) error {
	rec, ok := c.hostRecord(identifier)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", identifier))
	}
	return rec.mux.SendResponse(endpoint, data, rid)
}

// --- create_process / create_process_and_wait -------------------------------

// CreateProcess spawns a Worker-Host child process with the positional
// args (identifier, auth_key, host, port, artificial_latency) and returns
// immediately without waiting for it to connect.
func (c *Core) CreateProcess(identifier string) error {
	c.mu.Lock()
	if _, exists := c.processes[identifier]; exists {
		c.mu.Unlock()
		return kerrors.New(kerrors.KindProcessAlreadyExists, fmt.Sprintf("process %q already exists", identifier))
	}
	c.mu.Unlock()

	cmd := exec.Command(c.hostBinaryPath,
		identifier,
		c.cfg.AuthKey,
		c.cfg.IPCHost,
		strconv.Itoa(c.cfg.IPCPort),
		strconv.FormatFloat(c.cfg.ArtificialLatency, 'f', -1, 64),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return kerrors.Wrap(kerrors.KindProcessLaunchError, err, fmt.Sprintf("failed to launch worker host %q", identifier))
	}

	c.mu.Lock()
	c.processes[identifier] = cmd
	c.mu.Unlock()

	if c.events != nil {
		c.events.Publish(bus.TopicProcessSpawned, bus.ProcessSpawnedEvent{Identifier: identifier})
	}
	return nil
}

// CreateProcessAndWait calls CreateProcess and then polls the host table
// for identifier for up to 30s, matching the source's timeout.
func (c *Core) CreateProcessAndWait(identifier string) error {
	if err := c.CreateProcess(identifier); err != nil {
		return err
	}

	deadline := time.Now().Add(processWaitTimeout)
	for time.Now().Before(deadline) {
		if _, ok := c.hostRecord(identifier); ok {
			return nil
		}
		time.Sleep(processPollInterval)
	}
	return kerrors.New(kerrors.KindProcessLaunchError,
		fmt.Sprintf("worker host %q did not connect within %s", identifier, processWaitTimeout))
}

// CloseProcess sends the blocking close_process request and lets the host
// self-terminate after acknowledging.
func (c *Core) CloseProcess(ctx context.Context, identifier string) error {
	rec, ok := c.hostRecord(identifier)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("process %q not found", identifier))
	}
	_, err := rec.mux.SendAndBlock(ctx, "close_process", map[string]any{})
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.processes, identifier)
	c.mu.Unlock()

	if c.events != nil {
		c.events.Publish(bus.TopicProcessClosed, bus.ProcessClosedEvent{Identifier: identifier})
	}
	c.recordAudit(audit.DecisionAllow, "close_process", identifier, nil)
	return nil
}
