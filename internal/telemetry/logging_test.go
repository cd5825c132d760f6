package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRouterPreCreatesAllRouteTypeFiles(t *testing.T) {
	root := t.TempDir()
	router, err := NewRouter(root, true)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer router.Close()

	for _, route := range AllRoutes {
		for _, typ := range AllTypes {
			path := filepath.Join(root, "kuiX", "Logs", route+"_"+typ+".log")
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("expected %s to exist: %v", path, err)
			}
		}
	}
}

func TestLoggerWritesToRouteAndLevelFile(t *testing.T) {
	root := t.TempDir()
	router, err := NewRouter(root, true)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer router.Close()

	logger := router.Logger(RouteStrategy)
	logger.Warn("worker stopping timeout exceeded", "worker_id", "w1")

	path := filepath.Join(root, "kuiX", "Logs", RouteStrategy+"_"+TypeWarning+".log")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", len(lines), raw)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["route"] != RouteStrategy {
		t.Fatalf("route = %v, want %v", entry["route"], RouteStrategy)
	}
	if entry["type"] != TypeWarning {
		t.Fatalf("type = %v, want %v", entry["type"], TypeWarning)
	}
	if entry["data"] != "worker stopping timeout exceeded" {
		t.Fatalf("data = %v", entry["data"])
	}

	infoPath := filepath.Join(root, "kuiX", "Logs", RouteStrategy+"_"+TypeInfo+".log")
	rawInfo, err := os.ReadFile(infoPath)
	if err != nil {
		t.Fatalf("read info file: %v", err)
	}
	if strings.TrimSpace(string(rawInfo)) != "" {
		t.Fatalf("expected the INFO file to stay empty, got %q", rawInfo)
	}
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	root := t.TempDir()
	router, err := NewRouter(root, true)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer router.Close()

	logger := router.Logger(RouteCore)
	logger.Info("new host connected", "auth_key", "super-secret-hex")

	path := filepath.Join(root, "kuiX", "Logs", RouteCore+"_"+TypeInfo+".log")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok {
		t.Fatalf("expected a fields object, got %#v", entry["fields"])
	}
	if fields["auth_key"] != "[REDACTED]" {
		t.Fatalf("expected auth_key to be redacted, got %#v", fields["auth_key"])
	}
}
