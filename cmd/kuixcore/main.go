// Command kuixcore is the reference Core operator binary: it loads (or
// generates) config.json, binds the IPC listen socket, spawns the
// configured number of Worker-Host processes, registers the built-in
// Debug strategy on every one of them, and renders a live dashboard
// unless stdout isn't a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/basket/kuix/internal/audit"
	"github.com/basket/kuix/internal/bus"
	"github.com/basket/kuix/internal/config"
	"github.com/basket/kuix/internal/core"
	"github.com/basket/kuix/internal/otelobs"
	"github.com/basket/kuix/internal/telemetry"
	"github.com/basket/kuix/internal/tui"
	"github.com/mattn/go-isatty"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the Core configuration file")
	root := flag.String("root", ".", "working directory for kuiX/Logs, kuiX/Strategies and kuiX/Components")
	generateConfig := flag.Bool("generate-config", false, "write a default config.json to -config and exit")
	hostBin := flag.String("hostbin", "", "path to the kuixhost executable (default: next to this binary)")
	noTUI := flag.Bool("no-tui", false, "disable the interactive dashboard even on a terminal")
	otelExporter := flag.String("otel-exporter", "none", "OpenTelemetry trace exporter: none, stdout, otlp-http")
	flag.Parse()

	if *generateConfig {
		if err := config.Generate(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote default configuration to %s\n", *configPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && !*noTUI && os.Getenv("KUIX_NO_TUI") == ""

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	auditLog, err := audit.Open(*root)
	if err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer auditLog.Close()

	router, err := telemetry.NewRouter(*root, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer router.Close()
	logger := router.Logger(telemetry.RouteCore)

	otelProvider, err := otelobs.Init(ctx, otelobs.Config{
		Enabled:     *otelExporter != "none",
		Exporter:    *otelExporter,
		ServiceName: "kuix-core",
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelobs.NewMetrics(otelProvider.Tracer, otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_METRICS_INIT", err)
	}

	eventBus := bus.New()

	hostBinPath := *hostBin
	if hostBinPath == "" {
		hostBinPath = defaultHostBinPath()
	}

	c, err := core.New(cfg, *root, hostBinPath, logger, auditLog, eventBus, metrics)
	if err != nil {
		fatalStartup(logger, "E_CORE_SETUP", err)
	}

	go func() {
		if err := c.Serve(); err != nil {
			logger.Error("core accept loop exited", "error", err)
		}
	}()
	defer c.Close()

	processIDs := make([]string, cfg.ProcessCount)
	for i := range processIDs {
		processIDs[i] = "P" + strconv.Itoa(i)
		if err := c.CreateProcessAndWait(processIDs[i]); err != nil {
			logger.Error("failed to launch worker host", "identifier", processIDs[i], "error", err)
			continue
		}
		if err := c.RegisterStrategy(ctx, "Debug", "Debug", nil); err != nil {
			logger.Warn("failed to register built-in Debug strategy", "error", err)
		}
	}

	logger.Info("kuix core ready",
		"ipc_addr", fmt.Sprintf("%s:%d", cfg.IPCHost, cfg.IPCPort),
		"process_count", cfg.ProcessCount,
		"auth_key_len", len(c.AuthKey()),
	)

	collector := tui.NewCollector(eventBus)

	var runErr error
	if interactive {
		runErr = tui.Run(ctx, collector.Snapshot)
	} else {
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range processIDs {
		if err := c.CloseProcess(shutdownCtx, id); err != nil {
			logger.Warn("failed to close worker host during shutdown", "identifier", id, "error", err)
		}
	}

	if runErr != nil && runErr != context.Canceled {
		fmt.Fprintf(os.Stderr, "dashboard exited: %v\n", runErr)
	}
}

func defaultHostBinPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "kuixhost"
	}
	return filepath.Join(filepath.Dir(exe), "kuixhost")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"core","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message)
	}
	os.Exit(1)
}
