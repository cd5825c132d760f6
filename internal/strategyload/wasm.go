package strategyload

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/basket/kuix/internal/kerrors"
	"github.com/basket/kuix/internal/worker"
)

// wasmMemoryLimitPages bounds a single strategy module's linear memory,
// the same per-module ceiling the teacher's sandbox runtime enforced on
// untrusted skill modules, repurposed here for untrusted strategy modules.
const wasmMemoryLimitPages = 256 // 16MiB

// WasmLoader loads a strategy from a compiled WebAssembly module, adapting
// its exported open/start/stop/close/strategy functions to worker.Strategy
// and worker.Component. It realizes spec.md §9's "dynamic library loading"
// option with a memory-safe, embeddable runtime instead of native dlopen.
type WasmLoader struct {
	runtime wazero.Runtime

	mu      sync.Mutex
	modules map[string]wazero.CompiledModule // import_path -> compiled module
}

// NewWasmLoader creates a wazero runtime configured with a per-module
// memory ceiling and returns a WasmLoader backed by it. The caller owns
// the runtime's lifetime and should call Close when the Host shuts down.
func NewWasmLoader(ctx context.Context) (*WasmLoader, error) {
	cfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(wasmMemoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := rt.NewHostModuleBuilder("env").Instantiate(ctx); err != nil {
		return nil, kerrors.Wrap(kerrors.KindModuleLoadError, err, "failed to instantiate base host module")
	}
	return &WasmLoader{runtime: rt, modules: make(map[string]wazero.CompiledModule)}, nil
}

// Close releases the underlying wazero runtime and every compiled module.
func (l *WasmLoader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// Load compiles the .wasm file at the absolute path importPath (compiling
// it once and caching the result, since create_worker may be called many
// times against one registered strategy) and returns a Factory that
// instantiates a fresh module per worker.
func (l *WasmLoader) Load(name, importPath string) (Factory, error) {
	ctx := context.Background()

	l.mu.Lock()
	compiled, ok := l.modules[importPath]
	l.mu.Unlock()
	if !ok {
		bytecode, err := os.ReadFile(importPath)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.KindModuleLoadError, err,
				fmt.Sprintf("failed to read wasm module for strategy %q at %q", name, importPath))
		}
		compiled, err = l.runtime.CompileModule(ctx, bytecode)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.KindModuleLoadError, err,
				fmt.Sprintf("failed to compile wasm module for strategy %q", name))
		}
		l.mu.Lock()
		l.modules[importPath] = compiled
		l.mu.Unlock()
	}

	return func(identifier string, config []byte) (worker.Strategy, error) {
		modCfg := wazero.NewModuleConfig().WithName(identifier)
		mod, err := l.runtime.InstantiateModule(ctx, compiled, modCfg)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.KindWorkerInitError, err,
				fmt.Sprintf("failed to instantiate wasm strategy %q for worker %q", name, identifier))
		}
		return newWasmStrategy(identifier, mod), nil
	}, nil
}

// wasmStrategy adapts a single instantiated module's exported functions to
// both worker.Component (open/start/stop/close) and worker.Strategy
// (the repeated "strategy" call plus the stop/close hooks), so a Host can
// register it as the worker's lone component and as its Strategy in one
// step.
type wasmStrategy struct {
	worker.BaseStrategy

	identifier string
	mod        api.Module
}

func newWasmStrategy(identifier string, mod api.Module) *wasmStrategy {
	return &wasmStrategy{identifier: identifier, mod: mod}
}

func (s *wasmStrategy) call(name string) error {
	fn := s.mod.ExportedFunction(name)
	if fn == nil {
		return nil // export is optional; absence means "nothing to do"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := fn.Call(ctx); err != nil {
		return kerrors.Wrap(kerrors.KindWorkerMethodCallError, err,
			fmt.Sprintf("wasm export %q failed for worker %q", name, s.identifier))
	}
	return nil
}

func (s *wasmStrategy) Open() error  { return s.call("open") }
func (s *wasmStrategy) Start() error { return s.call("start") }
func (s *wasmStrategy) Stop() error  { return nil }
func (s *wasmStrategy) Close() error { return s.call("close") }

// Run calls the module's exported "strategy" function on an interval,
// checking rt.CheckStatus between calls the same way a native Go strategy
// would, until a stop is requested.
func (s *wasmStrategy) Run(rt *worker.Runtime) {
	for rt.CheckStatus() {
		if err := s.call("strategy"); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (s *wasmStrategy) StopStrategy() {
	_ = s.call("stop")
}

var _ Loader = (*WasmLoader)(nil)
var _ worker.Strategy = (*wasmStrategy)(nil)
var _ worker.Component = (*wasmStrategy)(nil)
