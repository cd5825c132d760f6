// Package strategyload resolves register_strategy's {name, import_path}
// into a worker.Strategy factory. The wire contract never changes — only
// how import_path is interpreted does, per spec.md §9's "dynamic import of
// user strategies" note. Two Loader implementations ship here: Registry
// (compile-time linkage) and WasmLoader (sandboxed dynamic loading).
package strategyload

import (
	"github.com/basket/kuix/internal/worker"
)

// Factory builds a fresh Strategy instance for a single worker, given the
// worker's identifier and its raw JSON config blob.
type Factory func(identifier string, config []byte) (worker.Strategy, error)

// Loader resolves an import_path into a Factory for a registered strategy
// name. Host.RegisterStrategy calls Load once per register_strategy
// request; Host.CreateWorker calls the returned Factory once per
// create_worker request.
type Loader interface {
	Load(name, importPath string) (Factory, error)
}
