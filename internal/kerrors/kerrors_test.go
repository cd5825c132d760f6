package kerrors

import (
	"errors"
	"testing"
)

func TestWrapCarriesCauseAsNote(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindWorkerInitError, cause, "failed to construct worker")

	if e.Kind != KindWorkerInitError {
		t.Fatalf("Kind = %v, want %v", e.Kind, KindWorkerInitError)
	}
	if len(e.Notes) != 1 || e.Notes[0] != "boom" {
		t.Fatalf("Notes = %v, want [boom]", e.Notes)
	}
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestAddCtxChains(t *testing.T) {
	var err error = New(KindWorkerNotFound, "worker foo not found")
	err = AddCtx(err, "while stopping worker foo")
	err = AddCtx(err, "while handling close_worker request")

	e := err.(*Error)
	if len(e.Notes) != 2 {
		t.Fatalf("expected 2 notes, got %d: %v", len(e.Notes), e.Notes)
	}
	if e.Notes[0] != "while stopping worker foo" {
		t.Fatalf("unexpected note order: %v", e.Notes)
	}
}

func TestAddCtxPromotesPlainError(t *testing.T) {
	plain := errors.New("plain failure")
	err := AddCtx(plain, "extra context")

	e, ok := err.(*Error)
	if !ok {
		t.Fatal("expected AddCtx to promote a plain error to *Error")
	}
	if e.Kind != KindGeneric {
		t.Fatalf("Kind = %v, want %v", e.Kind, KindGeneric)
	}
	if len(e.Notes) != 1 || e.Notes[0] != "extra context" {
		t.Fatalf("Notes = %v", e.Notes)
	}
}

func TestIsComparesKind(t *testing.T) {
	a := New(KindProcessNotFound, "p1 not found")
	b := New(KindProcessNotFound, "p2 not found")
	c := New(KindWorkerNotFound, "w1 not found")

	if !errors.Is(a, b) {
		t.Fatal("expected same-kind errors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Fatal("expected different-kind errors not to match")
	}
	if !Of(a, KindProcessNotFound) {
		t.Fatal("Of should report true for matching kind")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	orig := Wrap(KindWorkerMethodCallError, errors.New("underlying"), "stop_worker failed")
	orig.Notes = append(orig.Notes, "while handling close_worker")

	data := Serialize(orig)
	restored := Deserialize(data)

	if restored.Kind != orig.Kind {
		t.Fatalf("Kind = %v, want %v", restored.Kind, orig.Kind)
	}
	if restored.Message != orig.Message {
		t.Fatalf("Message = %v, want %v", restored.Message, orig.Message)
	}
	if len(restored.Notes) != len(orig.Notes) {
		t.Fatalf("Notes = %v, want %v", restored.Notes, orig.Notes)
	}
}

func TestDeserializeDegradesGracefully(t *testing.T) {
	e := Deserialize(map[string]any{"message": "only a message"})
	if e.Kind != KindGeneric {
		t.Fatalf("Kind = %v, want %v", e.Kind, KindGeneric)
	}
	if e.Message != "only a message" {
		t.Fatalf("Message = %v", e.Message)
	}
}
