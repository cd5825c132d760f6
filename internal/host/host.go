// Package host implements the Worker Host (a.k.a. KxProcess): the child
// process that connects to Core, loads strategy and process-component
// modules on demand, and owns the workers running on this process.
// Grounded on original_source/src/core/process/KxProcess.py.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/kuix/internal/audit"
	"github.com/basket/kuix/internal/bus"
	"github.com/basket/kuix/internal/ipc"
	"github.com/basket/kuix/internal/kerrors"
	"github.com/basket/kuix/internal/otelobs"
	"github.com/basket/kuix/internal/schema"
	"github.com/basket/kuix/internal/strategyload"
	"github.com/basket/kuix/internal/transport"
	"github.com/basket/kuix/internal/worker"
)

// Host is one Worker-Host connection to Core. Every native endpoint in
// spec.md §4.4's table is registered on Construction; Serve then runs the
// connection's receive loop until Core closes it or close_process fires.
type Host struct {
	Identifier string

	conn             *transport.Conn
	mux              *ipc.Mux
	logger           *slog.Logger
	strategyLoader   strategyload.Loader
	componentLoader  *strategyload.ComponentRegistry
	auditLog         *audit.Log
	events           *bus.Bus
	metrics          *otelobs.Metrics

	mu         sync.Mutex
	strategies map[string]strategyFactory
	workers    map[string]*worker.Runtime
	components map[string]worker.Component
}

type strategyFactory struct {
	factory   strategyload.Factory
	validator *schema.Validator // nil when the strategy registered no config schema
}

// New wires a Host around an already-authenticated connection. strategyLoader
// resolves register_strategy's import_path; componentLoader resolves
// add_component's. auditLog and eventBus may be nil, in which case audit
// records and bus events are simply skipped.
func New(identifier string, conn *transport.Conn, strategyLoader strategyload.Loader, componentLoader *strategyload.ComponentRegistry, logger *slog.Logger, auditLog *audit.Log, eventBus *bus.Bus, metrics *otelobs.Metrics) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		Identifier:      identifier,
		conn:            conn,
		logger:          logger,
		strategyLoader:  strategyLoader,
		componentLoader: componentLoader,
		auditLog:        auditLog,
		events:          eventBus,
		metrics:         metrics,
		strategies:      make(map[string]strategyFactory),
		workers:         make(map[string]*worker.Runtime),
		components:      make(map[string]worker.Component),
	}
	h.mux = ipc.New(conn, logger).WithObservability(metrics)
	h.registerEndpoints()
	return h
}

// Serve runs the connection's receive loop until Core closes it. It
// returns once the loop exits, which close_process triggers deliberately
// via os.Exit before this call would otherwise return.
func (h *Host) Serve() {
	h.conn.Receive(h.mux.HandleFrame, func(graceful bool) {
		h.logger.Info("worker host connection closed", "identifier", h.Identifier, "graceful", graceful)
	})
}

func (h *Host) registerEndpoints() {
	h.mux.RegisterBlockingEndpoint("register_strategy", h.handleRegisterStrategy)
	h.mux.RegisterBlockingEndpoint("add_component", h.handleAddComponent)
	h.mux.RegisterBlockingEndpoint("create_worker", h.handleCreateWorker)
	h.mux.RegisterBlockingEndpoint("start_worker", h.handleStartWorker)
	h.mux.RegisterBlockingEndpoint("stop_worker", h.handleStopWorker)
	h.mux.RegisterBlockingEndpoint("close_worker", h.handleCloseWorker)
	h.mux.RegisterBlockingEndpoint("close_process", h.handleCloseProcess)
}

func (h *Host) respondSuccess(endpoint, rid string, result any) {
	_ = h.mux.SendResponse(endpoint, ipc.Result{Status: ipc.StatusSuccess, Return: result}, rid)
}

func (h *Host) respondError(endpoint, rid string, err error) {
	_ = h.mux.SendResponse(endpoint, ipc.Result{Status: ipc.StatusError, Return: kerrors.Serialize(err)}, rid)
}

func (h *Host) recordAudit(decision, operation, subject string, err error) {
	if h.auditLog == nil {
		return
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	h.auditLog.Record(decision, operation, subject, detail)
}

// --- register_strategy ------------------------------------------------

type registerStrategyRequest struct {
	Name       string          `json:"name"`
	ImportPath string          `json:"import_path"`
	Schema     json.RawMessage `json:"schema,omitempty"`
}

func (h *Host) handleRegisterStrategy(rid string, data json.RawMessage) {
	var req registerStrategyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		err = kerrors.Wrap(kerrors.KindStrategyImportError, err, "malformed register_strategy payload")
		h.recordAudit(audit.DecisionError, "register_strategy", req.Name, err)
		h.respondError("register_strategy", rid, err)
		return
	}

	factory, err := h.strategyLoader.Load(req.Name, req.ImportPath)
	if err != nil {
		err = kerrors.AddCtx(err, fmt.Sprintf("KxProcess %s register_strategy: failed to import strategy %q", h.Identifier, req.Name))
		h.recordAudit(audit.DecisionError, "register_strategy", req.Name, err)
		h.respondError("register_strategy", rid, err)
		return
	}

	var validator *schema.Validator
	if len(req.Schema) > 0 {
		validator, err = schema.Compile(req.Schema)
		if err != nil {
			err = kerrors.AddCtx(err, fmt.Sprintf("KxProcess %s register_strategy: invalid config schema for %q", h.Identifier, req.Name))
			h.recordAudit(audit.DecisionError, "register_strategy", req.Name, err)
			h.respondError("register_strategy", rid, err)
			return
		}
	}

	h.mu.Lock()
	h.strategies[req.Name] = strategyFactory{factory: factory, validator: validator}
	h.mu.Unlock()

	h.recordAudit(audit.DecisionAllow, "register_strategy", req.Name, nil)
	h.respondSuccess("register_strategy", rid, "registered")
}

// --- add_component ------------------------------------------------------

type addComponentRequest struct {
	Name       string          `json:"name"`
	ImportPath string          `json:"import_path"`
	Config     json.RawMessage `json:"config"`
}

func (h *Host) handleAddComponent(rid string, data json.RawMessage) {
	var req addComponentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		err = kerrors.Wrap(kerrors.KindComponentImportError, err, "malformed add_component payload")
		h.respondError("add_component", rid, err)
		return
	}

	h.mu.Lock()
	_, exists := h.components[req.Name]
	h.mu.Unlock()
	if exists {
		// Idempotent: already instantiated, nothing more to do.
		h.respondSuccess("add_component", rid, "added")
		return
	}

	factory, err := h.componentLoader.Load(req.Name, req.ImportPath)
	if err != nil {
		err = kerrors.AddCtx(err, fmt.Sprintf("KxProcess %s add_component: failed to import component %q", h.Identifier, req.Name))
		h.recordAudit(audit.DecisionError, "add_component", req.Name, err)
		h.respondError("add_component", rid, err)
		return
	}

	component, err := factory(req.Config)
	if err != nil {
		err = kerrors.Wrap(kerrors.KindComponentInitError, err,
			fmt.Sprintf("KxProcess %s add_component: component %q failed to initialize", h.Identifier, req.Name))
		h.recordAudit(audit.DecisionError, "add_component", req.Name, err)
		h.respondError("add_component", rid, err)
		return
	}

	h.mu.Lock()
	h.components[req.Name] = component
	h.mu.Unlock()

	if h.events != nil {
		h.events.Publish(bus.TopicComponentRegistered, bus.ComponentRegisteredEvent{Name: req.Name})
	}
	h.recordAudit(audit.DecisionAllow, "add_component", req.Name, nil)
	h.respondSuccess("add_component", rid, "added")
}

// --- create_worker -------------------------------------------------------

type createWorkerRequest struct {
	StrategyName string          `json:"strategy_name"`
	Identifier   string          `json:"identifier"`
	Config       json.RawMessage `json:"config"`
}

func (h *Host) handleCreateWorker(rid string, data json.RawMessage) {
	var req createWorkerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		err = kerrors.Wrap(kerrors.KindWorkerInitError, err, "malformed create_worker payload")
		h.respondError("create_worker", rid, err)
		return
	}

	h.mu.Lock()
	sf, known := h.strategies[req.StrategyName]
	_, dup := h.workers[req.Identifier]
	h.mu.Unlock()

	if !known {
		err := kerrors.New(kerrors.KindStrategyNotFound,
			fmt.Sprintf("KxProcess %s create_worker: strategy %q is not registered", h.Identifier, req.StrategyName))
		h.recordAudit(audit.DecisionError, "create_worker", req.Identifier, err)
		h.respondError("create_worker", rid, err)
		return
	}
	if dup {
		err := kerrors.New(kerrors.KindWorkerAlreadyExists,
			fmt.Sprintf("KxProcess %s create_worker: worker %q already exists", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "create_worker", req.Identifier, err)
		h.respondError("create_worker", rid, err)
		return
	}

	if sf.validator != nil {
		if err := sf.validator.Validate(req.Config); err != nil {
			err = kerrors.AddCtx(err, fmt.Sprintf("KxProcess %s create_worker: worker %q config failed schema validation", h.Identifier, req.Identifier))
			wrapped := kerrors.Wrap(kerrors.KindWorkerInitError, err, "worker config did not satisfy the registered schema")
			h.recordAudit(audit.DecisionError, "create_worker", req.Identifier, wrapped)
			h.respondError("create_worker", rid, wrapped)
			return
		}
	}

	strategy, err := sf.factory(req.Identifier, req.Config)
	if err != nil {
		err = kerrors.Wrap(kerrors.KindWorkerInitError, err,
			fmt.Sprintf("KxProcess %s create_worker: worker %q failed to initialize", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "create_worker", req.Identifier, err)
		h.respondError("create_worker", rid, err)
		return
	}

	rt := worker.NewRuntime(req.Identifier, req.StrategyName, strategy, h.logger)
	if comp, ok := strategy.(worker.Component); ok {
		rt.AddComponent("__strategy__", comp)
	}
	if h.events != nil {
		rt.OnStatusChange = func(old, new worker.Status) {
			h.events.Publish(bus.TopicWorkerStatusChanged, bus.WorkerStatusChangedEvent{
				ProcessID: h.Identifier, WorkerID: req.Identifier, OldStatus: string(old), NewStatus: string(new),
			})
		}
	}

	if err := rt.Open(); err != nil {
		err = kerrors.AddCtx(err, fmt.Sprintf("KxProcess %s create_worker: worker %q failed to open", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "create_worker", req.Identifier, err)
		h.respondError("create_worker", rid, err)
		return
	}

	h.mu.Lock()
	h.workers[req.Identifier] = rt
	h.mu.Unlock()

	if h.events != nil {
		h.events.Publish(bus.TopicWorkerCreated, bus.WorkerCreatedEvent{
			ProcessID: h.Identifier, WorkerID: req.Identifier, Strategy: req.StrategyName,
		})
	}
	h.recordAudit(audit.DecisionAllow, "create_worker", req.Identifier, nil)
	h.respondSuccess("create_worker", rid, "created")
}

// --- start/stop/close_worker --------------------------------------------

type workerIDRequest struct {
	Identifier string `json:"identifier"`
}

func (h *Host) lookupWorker(identifier string) (*worker.Runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt, ok := h.workers[identifier]
	return rt, ok
}

func (h *Host) handleStartWorker(rid string, data json.RawMessage) {
	var req workerIDRequest
	_ = json.Unmarshal(data, &req)

	rt, ok := h.lookupWorker(req.Identifier)
	if !ok {
		err := kerrors.New(kerrors.KindWorkerNotFound,
			fmt.Sprintf("KxProcess %s start_worker: worker %q not found", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "start_worker", req.Identifier, err)
		h.respondError("start_worker", rid, err)
		return
	}

	started := time.Now()
	err := rt.Start()
	if h.metrics != nil {
		h.metrics.WorkerStartDuration.Record(context.Background(), time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("strategy", rt.StrategyName)))
	}
	if err != nil {
		err = kerrors.Wrap(kerrors.KindWorkerMethodCallError, err,
			fmt.Sprintf("KxProcess %s _start_worker: worker %q failed to start.", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "start_worker", req.Identifier, err)
		h.respondError("start_worker", rid, err)
		return
	}

	if h.metrics != nil {
		h.metrics.WorkersActive.Add(context.Background(), 1)
	}
	h.recordAudit(audit.DecisionAllow, "start_worker", req.Identifier, nil)
	h.respondSuccess("start_worker", rid, "started")
}

func (h *Host) handleStopWorker(rid string, data json.RawMessage) {
	var req workerIDRequest
	_ = json.Unmarshal(data, &req)

	rt, ok := h.lookupWorker(req.Identifier)
	if !ok {
		err := kerrors.New(kerrors.KindWorkerNotFound,
			fmt.Sprintf("KxProcess %s stop_worker: worker %q not found", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "stop_worker", req.Identifier, err)
		h.respondError("stop_worker", rid, err)
		return
	}

	stopped := time.Now()
	err := rt.Stop()
	if h.metrics != nil {
		h.metrics.WorkerStopDuration.Record(context.Background(), time.Since(stopped).Seconds(),
			metric.WithAttributes(attribute.String("strategy", rt.StrategyName)))
	}
	if err != nil {
		err = kerrors.Wrap(kerrors.KindWorkerMethodCallError, err,
			fmt.Sprintf("KxProcess %s _stop_worker: worker %q failed to stop.", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "stop_worker", req.Identifier, err)
		h.respondError("stop_worker", rid, err)
		return
	}

	if h.metrics != nil {
		h.metrics.WorkersActive.Add(context.Background(), -1)
	}
	h.recordAudit(audit.DecisionAllow, "stop_worker", req.Identifier, nil)
	h.respondSuccess("stop_worker", rid, "stopped")
}

func (h *Host) handleCloseWorker(rid string, data json.RawMessage) {
	var req workerIDRequest
	_ = json.Unmarshal(data, &req)

	rt, ok := h.lookupWorker(req.Identifier)
	if !ok {
		err := kerrors.New(kerrors.KindWorkerNotFound,
			fmt.Sprintf("KxProcess %s close_worker: worker %q not found", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "close_worker", req.Identifier, err)
		h.respondError("close_worker", rid, err)
		return
	}

	wasRunning := rt.Status() == worker.Running

	if err := rt.Close(); err != nil {
		err = kerrors.Wrap(kerrors.KindWorkerMethodCallError, err,
			fmt.Sprintf("KxProcess %s _close_worker: worker %q failed to close.", h.Identifier, req.Identifier))
		h.recordAudit(audit.DecisionError, "close_worker", req.Identifier, err)
		h.respondError("close_worker", rid, err)
		return
	}

	// rt.Close stops the worker internally if it was still running, so the
	// active gauge needs reconciling here too, not just in handleStopWorker.
	if wasRunning && h.metrics != nil {
		h.metrics.WorkersActive.Add(context.Background(), -1)
	}

	h.mu.Lock()
	delete(h.workers, req.Identifier)
	h.mu.Unlock()

	if h.events != nil {
		h.events.Publish(bus.TopicWorkerClosed, bus.WorkerClosedEvent{ProcessID: h.Identifier, WorkerID: req.Identifier})
	}
	h.recordAudit(audit.DecisionAllow, "close_worker", req.Identifier, nil)
	h.respondSuccess("close_worker", rid, "closed")
}

// --- close_process --------------------------------------------------------

// handleCloseProcess stops every worker, sends its response, then tears
// down the transport and terminates the OS process — in that order, since
// the response must reach Core before the process disappears (spec.md
// §9's "process teardown race").
func (h *Host) handleCloseProcess(rid string, _ json.RawMessage) {
	h.mu.Lock()
	workers := make([]*worker.Runtime, 0, len(h.workers))
	for _, rt := range h.workers {
		workers = append(workers, rt)
	}
	h.mu.Unlock()

	for _, rt := range workers {
		if err := rt.Close(); err != nil {
			h.logger.Warn("worker failed to close during close_process", "identifier", rt.Identifier, "error", err)
		}
	}

	h.respondSuccess("close_process", rid, "closed")

	go func() {
		_ = h.conn.Close()
		os.Exit(0)
	}()
}
