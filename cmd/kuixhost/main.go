// Command kuixhost is the Worker-Host process entry point: Core spawns one
// of these per call to create_process, handing it the positional args
// documented in spec.md §6 (identifier, auth_key, host, port,
// artificial_latency).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/basket/kuix/internal/host"
	"github.com/basket/kuix/internal/otelobs"
	"github.com/basket/kuix/internal/strategyload"
	"github.com/basket/kuix/internal/telemetry"
	"github.com/basket/kuix/internal/transport"
	"github.com/basket/kuix/internal/worker"
)

func main() {
	if len(os.Args) != 6 {
		fmt.Fprintln(os.Stderr, "usage: kuixhost <identifier> <auth_key> <host> <port> <artificial_latency>")
		os.Exit(2)
	}

	identifier := os.Args[1]
	authKey := os.Args[2]
	ipcHost := os.Args[3]
	port, err := strconv.Atoi(os.Args[4])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", os.Args[4], err)
		os.Exit(2)
	}
	latencySeconds, err := strconv.ParseFloat(os.Args[5], 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid artificial_latency %q: %v\n", os.Args[5], err)
		os.Exit(2)
	}
	latency := time.Duration(latencySeconds * float64(time.Second))

	router, err := telemetry.NewRouter(".", false)
	var logger *slog.Logger
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log router, falling back to stderr: %v\n", err)
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	} else {
		logger = router.Logger(telemetry.RouteProcess)
	}

	strategyload.Register("Debug", func(identifier string, config []byte) (worker.Strategy, error) {
		return &worker.DebugStrategy{Logger: logger}, nil
	})

	ctx := context.Background()
	otelExporter := os.Getenv("KUIX_OTEL_EXPORTER")
	if otelExporter == "" {
		otelExporter = "none"
	}
	otelProvider, err := otelobs.Init(ctx, otelobs.Config{
		Enabled:     otelExporter != "none",
		Exporter:    otelExporter,
		ServiceName: "kuix-host-" + identifier,
	})
	if err != nil {
		logger.Error("failed to init observability, continuing without it", "error", err)
		otelProvider, _ = otelobs.Init(ctx, otelobs.Config{Enabled: false})
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelobs.NewMetrics(otelProvider.Tracer, otelProvider.Meter)
	if err != nil {
		logger.Error("failed to build metrics instruments, continuing without them", "error", err)
		metrics = nil
	}

	conn, err := transport.Dial(identifier, authKey, ipcHost, port, latency)
	if err != nil {
		logger.Error("failed to connect to core", "error", err)
		os.Exit(1)
	}

	h := host.New(identifier, conn, strategyload.NewRegistry(), strategyload.NewComponentRegistry(), logger, nil, nil, metrics)
	logger.Info("worker host connected", "identifier", identifier, "core", fmt.Sprintf("%s:%d", ipcHost, port))
	h.Serve()
}
