// Package config loads and generates the small JSON configuration file
// that parameterizes a Core: IPC listen address, auth key, artificial
// latency and Worker-Host process count. Parsing itself stays on
// encoding/json and the standard library deliberately; see DESIGN.md for
// why this package doesn't reach for a schema/validation library the way
// internal/schema does for worker configs.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/basket/kuix/internal/kerrors"
)

// Config mirrors the four fields read by core.py's configure().
type Config struct {
	IPCHost           string  `json:"ipc_host"`
	IPCPort           int     `json:"ipc_port"`
	AuthKey           string  `json:"auth_key"`
	ProcessCount      int     `json:"process_count"`
	ArtificialLatency float64 `json:"artificial_latency,omitempty"`
}

// Defaults matches the defaults configure(...) applies when a field is
// absent from the loaded document.
func Defaults() Config {
	return Config{
		IPCHost:           "localhost",
		IPCPort:           6969,
		AuthKey:           "",
		ProcessCount:      -1,
		ArtificialLatency: 0.1,
	}
}

// Load reads and parses path, applying Defaults() for any zero-valued
// field the document doesn't set, then resolving AuthKey and ProcessCount
// per Resolve.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, kerrors.Wrap(kerrors.KindCoreConfigLoad, err,
			fmt.Sprintf("failed to read config file %s", path))
	}

	cfg := Defaults()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, kerrors.Wrap(kerrors.KindCoreConfigLoad, err,
			fmt.Sprintf("failed to parse config file %s", path))
	}

	return Resolve(cfg), nil
}

// Resolve applies the two runtime defaults core.py computes at configure
// time rather than storing them in the file: an empty auth key is
// replaced with a freshly generated one, and a process count of -1 is
// replaced with the number of logical CPUs.
func Resolve(cfg Config) Config {
	if cfg.AuthKey == "" {
		cfg.AuthKey = GenerateAuthKey()
	}
	if cfg.ProcessCount == -1 {
		cfg.ProcessCount = runtime.NumCPU()
	}
	return cfg
}

// GenerateAuthKey returns a new random hex-encoded key, matching
// core.py's generate_auth_key (os.urandom(256).hex()).
func GenerateAuthKey() string {
	buf := make([]byte, 256)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the platform CSPRNG is broken;
		// there is no safe fallback to still generate a usable key.
		panic(fmt.Sprintf("kuix: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Generate writes a default configuration document to path, matching
// core.py's generate_json_config: an empty auth_key and a process_count
// of -1, left for Load/Resolve to expand at startup rather than baked in
// at generation time.
func Generate(path string) error {
	cfg := Defaults()
	cfg.AuthKey = ""
	cfg.ProcessCount = -1

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return kerrors.Wrap(kerrors.KindCoreConfigLoad, err, "failed to encode default config")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return kerrors.Wrap(kerrors.KindCoreConfigLoad, err,
			fmt.Sprintf("failed to write config file %s", path))
	}
	return nil
}
