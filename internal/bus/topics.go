package bus

// Host connectivity topics, published by internal/core as Worker-Host
// processes connect, get rejected at the handshake, or disconnect.
const (
	TopicHostConnected    = "host.connected"
	TopicHostRefused      = "host.refused"
	TopicHostDisconnected = "host.disconnected"
)

// Strategy and process component registration topics.
const (
	TopicStrategyRegistered  = "strategy.registered"
	TopicComponentRegistered = "component.registered"
)

// Process lifecycle topics.
const (
	TopicProcessSpawned = "process.spawned"
	TopicProcessClosed  = "process.closed"
)

// Worker lifecycle topics.
const (
	TopicWorkerCreated       = "worker.created"
	TopicWorkerStatusChanged = "worker.status_changed"
	TopicWorkerClosed        = "worker.closed"
)

// HostConnectedEvent is published when a Worker-Host passes the auth
// handshake and is added to the Core's connection table.
type HostConnectedEvent struct {
	Identifier string
}

// HostRefusedEvent is published when a connecting process fails the auth
// handshake.
type HostRefusedEvent struct {
	Identifier string
}

// HostDisconnectedEvent is published when a Worker-Host's connection is
// torn down, either because the remote side closed it or because the
// local side closed it as part of close_process.
type HostDisconnectedEvent struct {
	Identifier string
	Graceful   bool
}

// StrategyRegisteredEvent is published once per register_strategy call,
// after the broadcast to all connected Worker-Hosts has been attempted.
type StrategyRegisteredEvent struct {
	Name string
}

// ProcessSpawnedEvent is published once create_process_and_wait observes
// the new process's handshake succeed.
type ProcessSpawnedEvent struct {
	Identifier string
}

// ProcessClosedEvent is published after close_process's blocking request
// returns successfully.
type ProcessClosedEvent struct {
	Identifier string
}

// ComponentRegisteredEvent is published after add_component succeeds on a
// host, once per distinct component name (the idempotent re-registration
// case does not republish).
type ComponentRegisteredEvent struct {
	Name string
}

// WorkerCreatedEvent is published after create_worker succeeds on a host.
type WorkerCreatedEvent struct {
	ProcessID string
	WorkerID  string
	Strategy  string
}

// WorkerStatusChangedEvent is published whenever a worker's lifecycle
// state machine transitions (STOPPED -> STARTING -> RUNNING -> STOPPING
// -> STOPPED).
type WorkerStatusChangedEvent struct {
	ProcessID string
	WorkerID  string
	OldStatus string
	NewStatus string
}

// WorkerClosedEvent is published after close_worker succeeds on a host.
type WorkerClosedEvent struct {
	ProcessID string
	WorkerID  string
}
