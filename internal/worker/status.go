// Package worker implements the per-worker thread, the four-phase
// component lifecycle, and the status state machine described in spec.md
// §4.5: a Worker is an instance of a user-authored Strategy, driven through
// __open__/__start__/__stop__/__close__ by a Runtime that owns the
// goroutine, the status transitions, and the ordered component list.
package worker

// Status is one of the four states a Runtime can be in. The zero value is
// Stopped, matching spec.md §3: "Initial = STOPPED."
type Status string

const (
	Stopped  Status = "STOPPED"
	Starting Status = "STARTING"
	Running  Status = "RUNNING"
	Stopping Status = "STOPPING"
)
