package worker

// Component is the four-phase lifecycle every strategy component
// implements, mirroring BaseStrategyComponent from the original source:
// Open is called once before a worker's first start, Start/Stop bracket a
// run, and Close tears the component down for good. Components are kept
// in insertion order on a Runtime and driven through every phase in that
// same order — including Stop and Close, matching the source's forward
// iteration (see spec.md §9's open question on reverse-order close).
type Component interface {
	Open() error
	Start() error
	Stop() error
	Close() error
}

// NopComponent is a Component whose four phases all succeed immediately.
// It is useful as an embeddable base for user components that only need
// to override one or two phases, matching BaseStrategyComponent's role of
// giving every method a default no-op body.
type NopComponent struct{}

func (NopComponent) Open() error  { return nil }
func (NopComponent) Start() error { return nil }
func (NopComponent) Stop() error  { return nil }
func (NopComponent) Close() error { return nil }

var _ Component = NopComponent{}
