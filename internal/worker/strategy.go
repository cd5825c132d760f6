package worker

// Strategy is the user-authored behavior driven by a Runtime, mirroring
// BaseStrategy from the original source. Strategy itself never touches the
// status state machine or the component list directly — Runtime owns both
// — it only supplies the loop body and the two optional hooks.
type Strategy interface {
	// Run is the strategy body, launched on its own goroutine by
	// Runtime.Start. It must periodically call rt.CheckStatus() and return
	// as soon as that call reports false, the same obligation spec.md §4.5
	// places on the source's check_status()/exit(0) pattern: a Run that
	// never checks is a Run that can't be stopped.
	Run(rt *Runtime)

	// StopStrategy is invoked once, synchronously, from inside
	// CheckStatus when a STOPPING transition is first observed — the Go
	// reading of the source's stop_strategy() hook.
	StopStrategy()

	// CloseStrategy is invoked once from Runtime.Close after the strategy
	// has fully stopped, mirroring close_strategy().
	CloseStrategy()
}

// BaseStrategy is an embeddable no-op implementation of the two hooks, so
// a concrete strategy can override only what it needs, the same role
// BaseStrategy.stop_strategy/close_strategy played in the source (both
// `pass`).
type BaseStrategy struct{}

func (BaseStrategy) StopStrategy()  {}
func (BaseStrategy) CloseStrategy() {}
