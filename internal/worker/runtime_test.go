package worker

import (
	"testing"
	"time"

	"github.com/basket/kuix/internal/kerrors"
)

// loopingStrategy calls CheckStatus in a tight loop until it reports false,
// recording every phase transition it observes so tests can assert ordering.
type loopingStrategy struct {
	BaseStrategy
	stopped       chan struct{}
	stopCalled    chan struct{}
	closeCalled   chan struct{}
}

func newLoopingStrategy() *loopingStrategy {
	return &loopingStrategy{
		stopped:     make(chan struct{}),
		stopCalled:  make(chan struct{}, 1),
		closeCalled: make(chan struct{}, 1),
	}
}

func (s *loopingStrategy) Run(rt *Runtime) {
	for rt.CheckStatus() {
		time.Sleep(time.Millisecond)
	}
	close(s.stopped)
}

func (s *loopingStrategy) StopStrategy() {
	s.stopCalled <- struct{}{}
}

func (s *loopingStrategy) CloseStrategy() {
	s.closeCalled <- struct{}{}
}

type recordingComponent struct {
	name   string
	trace  *[]string
}

func (c recordingComponent) Open() error {
	*c.trace = append(*c.trace, c.name+":open")
	return nil
}
func (c recordingComponent) Start() error {
	*c.trace = append(*c.trace, c.name+":start")
	return nil
}
func (c recordingComponent) Stop() error {
	*c.trace = append(*c.trace, c.name+":stop")
	return nil
}
func (c recordingComponent) Close() error {
	*c.trace = append(*c.trace, c.name+":close")
	return nil
}

func TestRuntimeLifecycle(t *testing.T) {
	var trace []string
	strat := newLoopingStrategy()
	rt := NewRuntime("w1", "debug", strat, nil)
	rt.AddComponent("a", recordingComponent{name: "a", trace: &trace})
	rt.AddComponent("b", recordingComponent{name: "b", trace: &trace})

	if rt.Status() != Stopped {
		t.Fatalf("expected initial status Stopped, got %s", rt.Status())
	}

	if err := rt.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rt.Status() != Running {
		t.Fatalf("expected Running after Start, got %s", rt.Status())
	}

	if err := rt.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-strat.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("strategy goroutine did not observe stop")
	}
	select {
	case <-strat.stopCalled:
	default:
		t.Fatal("expected StopStrategy to have been called")
	}
	if rt.Status() != Stopped {
		t.Fatalf("expected Stopped after Stop, got %s", rt.Status())
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-strat.closeCalled:
	default:
		t.Fatal("expected CloseStrategy to have been called")
	}

	want := []string{"a:open", "b:open", "a:start", "b:start", "a:stop", "b:stop", "a:close", "b:close"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q (full trace %v)", i, trace[i], want[i], trace)
		}
	}
}

func TestRuntimeStartTwiceFails(t *testing.T) {
	rt := NewRuntime("w1", "debug", newLoopingStrategy(), nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer rt.Close()

	err := rt.Start()
	if !kerrors.Of(err, kerrors.KindWorkerAlreadyStarted) {
		t.Fatalf("expected WorkerAlreadyStarted, got %v", err)
	}
}

func TestRuntimeStopWithoutStartFails(t *testing.T) {
	rt := NewRuntime("w1", "debug", newLoopingStrategy(), nil)
	err := rt.Stop()
	if !kerrors.Of(err, kerrors.KindWorkerAlreadyStopped) {
		t.Fatalf("expected WorkerAlreadyStopped, got %v", err)
	}
}

func TestRuntimeStatusChangeHook(t *testing.T) {
	rt := NewRuntime("w1", "debug", newLoopingStrategy(), nil)
	var transitions []string
	rt.OnStatusChange = func(old, new Status) {
		transitions = append(transitions, string(old)+"->"+string(new))
	}

	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rt.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(transitions) < 3 {
		t.Fatalf("expected at least 3 transitions, got %v", transitions)
	}
	if transitions[0] != "STOPPED->STARTING" {
		t.Fatalf("expected first transition STOPPED->STARTING, got %s", transitions[0])
	}
	last := transitions[len(transitions)-1]
	if last != "STOPPING->STOPPED" {
		t.Fatalf("expected last transition STOPPING->STOPPED, got %s", last)
	}
}
