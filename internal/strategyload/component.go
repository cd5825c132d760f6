package strategyload

import (
	"fmt"
	"sync"

	"github.com/basket/kuix/internal/kerrors"
	"github.com/basket/kuix/internal/worker"
)

// ComponentFactory builds a fresh process-level component from add_component's
// raw JSON config, mirroring BaseStrategyComponent's (self, config) init
// signature at the Host rather than the worker level.
type ComponentFactory func(config []byte) (worker.Component, error)

// ComponentRegistry is the compile-time-linkage loader for Host-level
// process components, the add_component counterpart to Registry. It is
// deliberately a separate, smaller map rather than folded into Registry:
// strategies and process components are registered under independent
// namespaces in spec.md §4.4 (a name collision between a strategy and a
// component is not a conflict).
type ComponentRegistry struct {
	mu         sync.RWMutex
	components map[string]ComponentFactory
}

var defaultComponentRegistry = &ComponentRegistry{components: make(map[string]ComponentFactory)}

// RegisterComponent links name to factory in the default, process-wide
// component registry.
func RegisterComponent(name string, factory ComponentFactory) {
	defaultComponentRegistry.mu.Lock()
	defer defaultComponentRegistry.mu.Unlock()
	defaultComponentRegistry.components[name] = factory
}

// NewComponentRegistry returns the default, process-wide ComponentRegistry.
func NewComponentRegistry() *ComponentRegistry {
	return defaultComponentRegistry
}

// NewIsolatedComponentRegistry returns an empty ComponentRegistry, for
// tests that don't want to touch process-wide state.
func NewIsolatedComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{components: make(map[string]ComponentFactory)}
}

// RegisterOn links name to factory on this specific registry instance.
func (r *ComponentRegistry) RegisterOn(name string, factory ComponentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = factory
}

// Load resolves importPath, falling back to name, to a ComponentFactory.
func (r *ComponentRegistry) Load(name, importPath string) (ComponentFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.components[importPath]; ok {
		return f, nil
	}
	if f, ok := r.components[name]; ok {
		return f, nil
	}
	return nil, kerrors.New(kerrors.KindComponentImportError,
		fmt.Sprintf("no compiled-in process component registered for %q (import_path %q)", name, importPath))
}
