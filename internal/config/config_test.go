package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateThenLoadResolvesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := Generate(path); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("unmarshal generated file: %v", err)
	}
	if onDisk["auth_key"] != "" {
		t.Fatalf("generated auth_key = %v, want empty", onDisk["auth_key"])
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthKey == "" {
		t.Fatal("Load should auto-generate a non-empty auth key")
	}
	if cfg.ProcessCount <= 0 {
		t.Fatalf("ProcessCount = %d, want a positive CPU count", cfg.ProcessCount)
	}
	if cfg.IPCHost != "localhost" || cfg.IPCPort != 6969 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadHonorsExplicitFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	doc := `{"ipc_host":"0.0.0.0","ipc_port":7000,"auth_key":"fixed-key","process_count":4}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IPCHost != "0.0.0.0" || cfg.IPCPort != 7000 || cfg.AuthKey != "fixed-key" || cfg.ProcessCount != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatal("expected error loading a missing config file")
	}
}
