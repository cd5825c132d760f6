package strategyload

import (
	"fmt"
	"sync"

	"github.com/basket/kuix/internal/kerrors"
)

// Registry is the compile-time-linkage Loader: factories are linked into
// the host binary and registered from an init() function via the package
// level Register, the Go reading of spec.md §9's "users link a library and
// call a Register(name, factory) function at init". import_path is treated
// as a registry key, conventionally equal to name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// defaultRegistry is populated by Register calls from strategy packages'
// init() functions, and is what NewRegistry returns unless the caller
// builds an isolated one for tests.
var defaultRegistry = &Registry{factories: make(map[string]Factory)}

// Register links name to factory in the default, process-wide registry.
// Intended to be called from an init() function of a package implementing
// a worker.Strategy, the same way the source's users registered their
// BaseStrategy subclasses under a module path.
func Register(name string, factory Factory) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.factories[name] = factory
}

// NewRegistry returns the default, process-wide Registry populated by
// Register.
func NewRegistry() *Registry {
	return defaultRegistry
}

// NewIsolatedRegistry returns an empty Registry independent of the default
// one, useful for tests that want to register a fake strategy without
// polluting process-wide state.
func NewIsolatedRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterOn links name to factory on this specific Registry instance.
func (r *Registry) RegisterOn(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Load looks up importPath, falling back to name, in the registry's
// factory table.
func (r *Registry) Load(name, importPath string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[importPath]; ok {
		return f, nil
	}
	if f, ok := r.factories[name]; ok {
		return f, nil
	}
	return nil, kerrors.New(kerrors.KindStrategyImportError,
		fmt.Sprintf("no compiled-in strategy registered for %q (import_path %q)", name, importPath))
}

var _ Loader = (*Registry)(nil)
