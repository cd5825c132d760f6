package strategyload

import (
	"testing"

	"github.com/basket/kuix/internal/kerrors"
	"github.com/basket/kuix/internal/worker"
)

func TestRegistryLoadByImportPath(t *testing.T) {
	r := NewIsolatedRegistry()
	called := false
	r.RegisterOn("Debug", func(identifier string, config []byte) (worker.Strategy, error) {
		called = true
		return &worker.DebugStrategy{}, nil
	})

	factory, err := r.Load("Debug", "Debug")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := factory("w1", nil); err != nil {
		t.Fatalf("factory: %v", err)
	}
	if !called {
		t.Fatal("expected registered factory to be invoked")
	}
}

func TestRegistryLoadUnknownFails(t *testing.T) {
	r := NewIsolatedRegistry()
	_, err := r.Load("Missing", "Missing")
	if !kerrors.Of(err, kerrors.KindStrategyImportError) {
		t.Fatalf("expected StrategyImportError, got %v", err)
	}
}
