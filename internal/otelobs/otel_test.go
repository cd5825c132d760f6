package otelobs

import (
	"context"
	"testing"
)

func TestInitDisabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil {
		t.Fatal("expected no-op tracer, got nil")
	}
	ctx, span := p.Tracer.Start(context.Background(), "test")
	_ = ctx
	span.End()
}

func TestInitNoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", ServiceName: "kuix-test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.TracerProvider == nil {
		t.Fatal("expected a real tracer provider")
	}
	m, err := NewMetrics(p.Tracer, p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.BlockingCallDuration == nil {
		t.Fatal("expected BlockingCallDuration instrument")
	}
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
