// Package audit writes the append-only structured record of every Core API
// call that mutates shared state: register_strategy, create_process,
// create_worker, start_worker, stop_worker, close_worker, close_process and
// register_process_component. It is distinct from the free-form per-route
// log files internal/telemetry writes: every line here is one decision,
// suitable for reconstructing "who did what, and did it succeed" without
// parsing prose log messages.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/basket/kuix/internal/shared"
)

// Decision values recorded in every entry.
const (
	DecisionAllow = "allow"
	DecisionError = "error"
)

type entry struct {
	Time      string `json:"time"`
	Decision  string `json:"decision"`
	Operation string `json:"operation"`
	Subject   string `json:"subject,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Log appends audit entries to a single JSONL file, serialized by mu so
// concurrent Core API calls never interleave partial lines.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates <root>/kuiX/Logs/audit.jsonl (and its parent directories) if
// needed and returns a Log appending to it.
func Open(root string) (*Log, error) {
	dir := filepath.Join(root, "kuiX", "Logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Record appends one line. detail is redacted before it is written, since
// it frequently carries a caller-supplied config blob or error message that
// may echo a secret back from user code.
func (l *Log) Record(decision, operation, subject, detail string) {
	e := entry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Decision:  decision,
		Operation: operation,
		Subject:   subject,
		Detail:    shared.Redact(detail),
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	_, _ = l.file.Write(b)
}
