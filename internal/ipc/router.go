package ipc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// routedData is the shape every worker-scoped endpoint payload carries: an
// embedded worker_id used to pick the right sub-handler, with the rest of
// the payload passed through unchanged.
type routedData struct {
	WorkerID string `json:"worker_id"`
}

// WorkerRouter is the single wire-level handler a Worker Host installs for
// a worker-scoped endpoint name. Multiple workers of possibly different
// strategies can share one endpoint name (e.g. "order_filled"); the router
// dispatches each inbound frame to the sub-handler registered for the
// worker_id embedded in its payload, so the endpoint table itself only
// ever gains one entry per name no matter how many workers use it.
type WorkerRouter struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewWorkerRouter creates an empty router for fire-and-forget endpoints.
func NewWorkerRouter(logger *slog.Logger) *WorkerRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerRouter{logger: logger, handlers: make(map[string]Handler)}
}

// Register installs the sub-handler for workerID, warning (not failing)
// on overwrite, matching the endpoint-table convention used elsewhere.
func (r *WorkerRouter) Register(workerID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[workerID]; exists {
		r.logger.Warn("overwriting existing worker endpoint handler", "worker_id", workerID)
	}
	r.handlers[workerID] = h
}

// Unregister removes workerID's sub-handler, typically called when the
// worker is closed.
func (r *WorkerRouter) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, workerID)
}

// Dispatch is the Handler to register once on the Mux for this endpoint
// name. It reads worker_id out of the payload and forwards to the
// matching sub-handler.
func (r *WorkerRouter) Dispatch(data json.RawMessage) {
	var rd routedData
	if err := json.Unmarshal(data, &rd); err != nil {
		r.logger.Error("worker-routed endpoint received payload with no worker_id", "error", err)
		return
	}
	r.mu.Lock()
	h, ok := r.handlers[rd.WorkerID]
	r.mu.Unlock()
	if !ok {
		r.logger.Error("worker-routed endpoint received request for unknown worker",
			"worker_id", rd.WorkerID)
		return
	}
	h(data)
}

// BlockingHandler for a specific worker.
type WorkerBlockingRouter struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]BlockingHandler
}

// NewWorkerBlockingRouter creates an empty router for blocking endpoints.
func NewWorkerBlockingRouter(logger *slog.Logger) *WorkerBlockingRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerBlockingRouter{logger: logger, handlers: make(map[string]BlockingHandler)}
}

// Register installs the sub-handler for workerID, warning on overwrite.
func (r *WorkerBlockingRouter) Register(workerID string, h BlockingHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[workerID]; exists {
		r.logger.Warn("overwriting existing worker blocking endpoint handler", "worker_id", workerID)
	}
	r.handlers[workerID] = h
}

// Unregister removes workerID's sub-handler.
func (r *WorkerBlockingRouter) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, workerID)
}

// Dispatch is the BlockingHandler to register once on the Mux.
func (r *WorkerBlockingRouter) Dispatch(rid string, data json.RawMessage) {
	var rd routedData
	if err := json.Unmarshal(data, &rd); err != nil {
		r.logger.Error("worker-routed blocking endpoint received payload with no worker_id",
			"error", err, "rid", rid)
		return
	}
	r.mu.Lock()
	h, ok := r.handlers[rd.WorkerID]
	r.mu.Unlock()
	if !ok {
		r.logger.Error(fmt.Sprintf("worker-routed blocking endpoint received request for unknown worker %q; "+
			"the caller will hang waiting for a response", rd.WorkerID), "rid", rid)
		return
	}
	h(rid, data)
}
