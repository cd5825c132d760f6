package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/kuix/internal/audit"
	"github.com/basket/kuix/internal/bus"
	"github.com/basket/kuix/internal/ipc"
	"github.com/basket/kuix/internal/kerrors"
)

// decodeResult parses a Host's {"status","return"} envelope, turning a
// "return" of "error" into a *kerrors.Error the caller can branch on, the
// Go reading of core.py's raise-on-error-status handling.
func decodeResult(raw json.RawMessage) (json.RawMessage, error) {
	var res struct {
		Status string          `json:"status"`
		Return json.RawMessage `json:"return"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, kerrors.Wrap(kerrors.KindGeneric, err, "malformed response envelope from worker host")
	}
	if res.Status != ipc.StatusError {
		return res.Return, nil
	}

	var wire map[string]any
	if err := json.Unmarshal(res.Return, &wire); err != nil {
		return nil, kerrors.Wrap(kerrors.KindGeneric, err, "malformed error payload from worker host")
	}
	return nil, kerrors.Deserialize(wire)
}

// RegisterStrategy rejects a duplicate name, stores the descriptor, then
// pushes it to every currently-connected host, logging (not raising) a
// per-host broadcast failure — register_strategy's own request still
// surfaces a typed error if it was rejected for being a duplicate.
func (c *Core) RegisterStrategy(ctx context.Context, name, importPath string, schemaJSON json.RawMessage) error {
	c.mu.Lock()
	if _, exists := c.strategies[name]; exists {
		c.mu.Unlock()
		err := kerrors.New(kerrors.KindStrategyAlreadyRegistered, fmt.Sprintf("strategy %q is already registered", name))
		c.recordAudit(audit.DecisionError, "register_strategy", name, err)
		return err
	}
	desc := StrategyDescriptor{Name: name, ImportPath: importPath, Schema: schemaJSON}
	c.strategies[name] = desc
	recs := make([]*hostRecord, 0, len(c.hosts))
	for _, rec := range c.hosts {
		recs = append(recs, rec)
	}
	c.mu.Unlock()

	for _, rec := range recs {
		if err := c.broadcastStrategyToCtx(ctx, rec, desc); err != nil {
			c.logger.Error("failed to push strategy to connected host",
				"strategy", name, "identifier", rec.identifier, "error", err)
		}
	}

	if c.events != nil {
		c.events.Publish(bus.TopicStrategyRegistered, bus.StrategyRegisteredEvent{Name: name})
	}
	c.recordAudit(audit.DecisionAllow, "register_strategy", name, nil)
	return nil
}

func (c *Core) broadcastStrategyTo(rec *hostRecord, desc StrategyDescriptor) error {
	return c.broadcastStrategyToCtx(context.Background(), rec, desc)
}

func (c *Core) broadcastStrategyToCtx(ctx context.Context, rec *hostRecord, desc StrategyDescriptor) error {
	raw, err := rec.mux.SendAndBlock(ctx, "register_strategy", map[string]any{
		"name":        desc.Name,
		"import_path": desc.ImportPath,
		"schema":      desc.Schema,
	})
	if err != nil {
		return err
	}
	_, err = decodeResult(raw)
	return err
}

// RegisterProcessComponent broadcasts add_component to every connected
// host, logging (not raising) a per-host failure, mirroring
// register_strategy's broadcast-and-log-not-raise semantics.
func (c *Core) RegisterProcessComponent(ctx context.Context, name, importPath string, componentConfig json.RawMessage) error {
	c.mu.Lock()
	recs := make([]*hostRecord, 0, len(c.hosts))
	for _, rec := range c.hosts {
		recs = append(recs, rec)
	}
	c.mu.Unlock()

	for _, rec := range recs {
		raw, err := rec.mux.SendAndBlock(ctx, "add_component", map[string]any{
			"name":        name,
			"import_path": importPath,
			"config":      componentConfig,
		})
		if err == nil {
			_, err = decodeResult(raw)
		}
		if err != nil {
			c.logger.Error("failed to push process component to connected host",
				"component", name, "identifier", rec.identifier, "error", err)
		}
	}
	return nil
}

// CreateWorker rejects an unknown host or unknown strategy locally, then
// sends the blocking create_worker request.
func (c *Core) CreateWorker(ctx context.Context, hostID, strategyName, workerID string, workerConfig json.RawMessage) error {
	rec, ok := c.hostRecord(hostID)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", hostID))
	}

	c.mu.Lock()
	_, known := c.strategies[strategyName]
	c.mu.Unlock()
	if !known {
		return kerrors.New(kerrors.KindStrategyNotRegistered, fmt.Sprintf("strategy %q is not registered", strategyName))
	}

	raw, err := rec.mux.SendAndBlock(ctx, "create_worker", map[string]any{
		"strategy_name": strategyName,
		"identifier":    workerID,
		"config":        workerConfig,
	})
	if err != nil {
		return err
	}
	_, err = decodeResult(raw)
	return err
}

func (c *Core) dispatchWorkerOp(ctx context.Context, endpoint, hostID, workerID string) error {
	rec, ok := c.hostRecord(hostID)
	if !ok {
		return kerrors.New(kerrors.KindProcessNotFound, fmt.Sprintf("host %q not connected", hostID))
	}
	raw, err := rec.mux.SendAndBlock(ctx, endpoint, map[string]any{"identifier": workerID})
	if err != nil {
		return err
	}
	_, err = decodeResult(raw)
	return err
}

// StartWorker dispatches the blocking start_worker request.
func (c *Core) StartWorker(ctx context.Context, hostID, workerID string) error {
	return c.dispatchWorkerOp(ctx, "start_worker", hostID, workerID)
}

// StopWorker dispatches the blocking stop_worker request.
func (c *Core) StopWorker(ctx context.Context, hostID, workerID string) error {
	return c.dispatchWorkerOp(ctx, "stop_worker", hostID, workerID)
}

// CloseWorker dispatches the blocking close_worker request.
func (c *Core) CloseWorker(ctx context.Context, hostID, workerID string) error {
	return c.dispatchWorkerOp(ctx, "close_worker", hostID, workerID)
}
