package worker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/kuix/internal/kerrors"
)

// warnAfter and failAfter are the __stop__ escalation thresholds from
// spec.md §4.5: a WARNING at 60s, a WorkerStoppingTimeout failure at 600s.
const (
	stopWarnAfter = 60 * time.Second
	stopFailAfter = 600 * time.Second
	stopPoll      = 100 * time.Millisecond
)

// Runtime is the per-worker state machine: it owns the status field, the
// ordered component list, and the goroutine running Strategy.Run. One
// Runtime corresponds to one Worker record in spec.md §3.
type Runtime struct {
	Identifier   string
	StrategyName string

	strategy Strategy
	logger   *slog.Logger

	// OnStatusChange, if set, is invoked (outside the lock) on every
	// status transition. internal/host uses this to publish
	// bus.WorkerStatusChangedEvent without Runtime needing to know its
	// owning process identifier.
	OnStatusChange func(old, new Status)

	mu             sync.Mutex
	status         Status
	threadActive   bool
	componentNames []string
	components     map[string]Component
}

// NewRuntime constructs a Runtime in the STOPPED state with no components.
func NewRuntime(identifier, strategyName string, strategy Strategy, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		Identifier:   identifier,
		StrategyName: strategyName,
		strategy:     strategy,
		logger:       logger,
		status:       Stopped,
		components:   make(map[string]Component),
	}
}

// Status returns the current status.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// AddComponent appends a named component to the end of the insertion-order
// list Open/Start iterate forward and Stop/Close iterate in the same
// (not reversed) order, matching the source.
func (r *Runtime) AddComponent(name string, c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[name]; !exists {
		r.componentNames = append(r.componentNames, name)
	}
	r.components[name] = c
}

func (r *Runtime) setStatus(s Status) {
	r.mu.Lock()
	old := r.status
	r.status = s
	r.mu.Unlock()
	if old != s && r.OnStatusChange != nil {
		r.OnStatusChange(old, s)
	}
}

// Open runs every component's Open in insertion order, called once before
// the worker's first Start.
func (r *Runtime) Open() error {
	for _, name := range r.orderedNames() {
		c := r.componentAt(name)
		if err := c.Open(); err != nil {
			return kerrors.Wrap(kerrors.KindStrategyComponentOpeningError, err,
				fmt.Sprintf("error while opening strategy component %q", name))
		}
	}
	return nil
}

// Start rejects if the worker's goroutine is already live, otherwise
// starts every component in order and launches the strategy goroutine.
func (r *Runtime) Start() error {
	r.mu.Lock()
	if r.threadActive {
		r.mu.Unlock()
		return kerrors.New(kerrors.KindWorkerAlreadyStarted, "worker is already started or still running")
	}
	r.mu.Unlock()

	for _, name := range r.orderedNames() {
		c := r.componentAt(name)
		if err := c.Start(); err != nil {
			return kerrors.Wrap(kerrors.KindStrategyComponentStartingError, err,
				fmt.Sprintf("error while starting strategy component %q", name))
		}
	}

	r.setStatus(Starting)
	r.mu.Lock()
	r.threadActive = true
	r.mu.Unlock()
	go r.strategy.Run(r)
	r.setStatus(Running)
	return nil
}

// Stop marks the worker STOPPING and waits, polling at 100ms, for
// CheckStatus (called from inside the strategy goroutine) to observe the
// flag and transition to STOPPED. A WARNING is logged at 60s; at 600s the
// thread handle is discarded and WorkerStoppingTimeout is returned even
// though the goroutine may still be running — this is the source's
// documented user error, not a bug in Runtime.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.threadActive {
		r.mu.Unlock()
		return kerrors.New(kerrors.KindWorkerAlreadyStopped, "worker is already stopped")
	}
	r.mu.Unlock()

	r.setStatus(Stopping)

	var elapsed time.Duration
	warned := false
	for {
		if r.Status() == Stopped {
			break
		}
		if elapsed >= stopFailAfter {
			r.mu.Lock()
			r.threadActive = false
			r.mu.Unlock()
			return kerrors.New(kerrors.KindWorkerStoppingTimeout,
				fmt.Sprintf("worker %q was scheduled to stop but is still running after 10mn; "+
					"the strategy thread will be dumped but may still be running", r.Identifier))
		}
		if elapsed >= stopWarnAfter && !warned {
			r.logger.Warn("worker still stopping after 60s; consider adding CheckStatus calls to the strategy",
				"identifier", r.Identifier)
			warned = true
		}
		time.Sleep(stopPoll)
		elapsed += stopPoll
	}

	r.mu.Lock()
	r.threadActive = false
	r.mu.Unlock()

	for _, name := range r.orderedNames() {
		c := r.componentAt(name)
		if err := c.Stop(); err != nil {
			return kerrors.Wrap(kerrors.KindStrategyComponentStoppingError, err,
				fmt.Sprintf("error while stopping strategy component %q", name))
		}
	}
	return nil
}

// Close attempts Stop (tolerating "already stopped" and logging a stop
// timeout rather than failing on it), then CloseStrategy, then closes
// every component in order.
func (r *Runtime) Close() error {
	if err := r.Stop(); err != nil {
		if kerrors.Of(err, kerrors.KindWorkerAlreadyStopped) {
			// expected, ignore
		} else if kerrors.Of(err, kerrors.KindWorkerStoppingTimeout) {
			r.logger.Warn("worker close proceeding despite stop timeout", "identifier", r.Identifier, "error", err)
		} else {
			return kerrors.Wrap(kerrors.KindWorkerStoppingError, err,
				fmt.Sprintf("error while stopping worker %q", r.Identifier))
		}
	}

	r.strategy.CloseStrategy()

	for _, name := range r.orderedNames() {
		c := r.componentAt(name)
		if err := c.Close(); err != nil {
			return kerrors.Wrap(kerrors.KindStrategyComponentClosingError, err,
				fmt.Sprintf("error while closing strategy component %q", name))
		}
	}
	return nil
}

// CheckStatus is the polling hook a Strategy.Run loop calls periodically.
// It returns false exactly once per Stop cycle, having already invoked
// StopStrategy and transitioned the status to STOPPED; the caller's loop
// must return immediately afterward, since Runtime has no other way to
// reclaim the goroutine.
func (r *Runtime) CheckStatus() bool {
	r.mu.Lock()
	stopping := r.status == Stopping
	r.mu.Unlock()
	if !stopping {
		return true
	}
	r.strategy.StopStrategy()
	r.setStatus(Stopped)
	return false
}

func (r *Runtime) orderedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.componentNames))
	copy(names, r.componentNames)
	return names
}

func (r *Runtime) componentAt(name string) Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.components[name]
}
