package tui

import (
	"fmt"
	"sync"
	"time"

	"github.com/basket/kuix/internal/bus"
)

// Collector subscribes to every topic on a Bus and folds the events it
// sees into a running Snapshot, so Run's StatusProvider never has to
// reach back into Core's own locked maps.
type Collector struct {
	startedAt time.Time

	mu        sync.Mutex
	snap      Snapshot
	hosts     map[string]bool
	workerSet map[workerKey]string // key -> current status
}

type workerKey struct {
	processID, workerID string
}

// NewCollector subscribes sub to events and returns a Collector tracking
// them from now. Call Stop to unsubscribe.
func NewCollector(events *bus.Bus) *Collector {
	c := &Collector{
		startedAt: time.Now(),
		hosts:     make(map[string]bool),
		workerSet: make(map[workerKey]string),
		snap:      Snapshot{WorkersByStatus: make(map[string]int)},
	}
	if events == nil {
		return c
	}
	sub := events.Subscribe("")
	go c.consume(sub.Ch())
	return c
}

func (c *Collector) consume(ch <-chan bus.Event) {
	for ev := range ch {
		c.apply(ev)
	}
}

func (c *Collector) apply(ev bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.LastEvent = ev.Topic

	switch p := ev.Payload.(type) {
	case bus.HostConnectedEvent:
		c.hosts[p.Identifier] = true
	case bus.HostDisconnectedEvent:
		delete(c.hosts, p.Identifier)
	case bus.HostRefusedEvent:
		c.snap.LastError = fmt.Sprintf("handshake refused: %s", p.Identifier)
	case bus.ProcessSpawnedEvent:
		c.snap.ProcessesSpawned++
	case bus.StrategyRegisteredEvent:
		c.snap.StrategiesRegistered++
	case bus.ComponentRegisteredEvent:
		c.snap.ComponentsRegistered++
	case bus.WorkerCreatedEvent:
		c.workerSet[workerKey{p.ProcessID, p.WorkerID}] = "STOPPED"
	case bus.WorkerStatusChangedEvent:
		c.workerSet[workerKey{p.ProcessID, p.WorkerID}] = p.NewStatus
	case bus.WorkerClosedEvent:
		delete(c.workerSet, workerKey{p.ProcessID, p.WorkerID})
	}
}

// Snapshot renders the current accumulated state. It satisfies
// StatusProvider once bound as a method value.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byStatus := map[string]int{"STOPPED": 0, "STARTING": 0, "RUNNING": 0, "STOPPING": 0}
	for _, status := range c.workerSet {
		byStatus[status]++
	}

	return Snapshot{
		HostsConnected:       len(c.hosts),
		ProcessesSpawned:     c.snap.ProcessesSpawned,
		StrategiesRegistered: c.snap.StrategiesRegistered,
		ComponentsRegistered: c.snap.ComponentsRegistered,
		WorkersByStatus:      byStatus,
		WorkersTotal:         len(c.workerSet),
		LastError:            c.snap.LastError,
		LastEvent:            c.snap.LastEvent,
		Uptime:               time.Since(c.startedAt),
	}
}
