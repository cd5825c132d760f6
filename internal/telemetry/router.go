// Package telemetry implements KuiX's file logging: one JSON-lines file
// per (route, type) pair under <root>/kuiX/Logs/, in the style of
// set_log_path/Logger.log from the original Core, adapted onto slog the
// way the rest of this codebase builds structured loggers.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Router owns one append-only file per (route, type) combination and
// serializes writes to each with a mutex, mirroring the source logger's
// single global lock (there it guarded the console + one file; here each
// file gets its own lock so routes don't contend with each other).
type Router struct {
	dir   string
	quiet bool

	mu    sync.Mutex
	files map[string]*os.File
}

// NewRouter creates <root>/kuiX/Logs if needed and pre-creates every
// <route>_<type>.log file, matching set_log_path's eager file creation.
func NewRouter(root string, quiet bool) (*Router, error) {
	dir := filepath.Join(root, "kuiX", "Logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: create log dir %s: %w", dir, err)
	}

	r := &Router{dir: dir, quiet: quiet, files: make(map[string]*os.File)}
	for _, route := range AllRoutes {
		for _, typ := range AllTypes {
			if _, err := r.file(route, typ); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Router) file(route, typ string) (*os.File, error) {
	key := route + "_" + typ
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[key]; ok {
		return f, nil
	}
	path := filepath.Join(r.dir, key+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open log file %s: %w", path, err)
	}
	r.files[key] = f
	return f, nil
}

// write appends line (without a trailing newline) to the file for
// (route, typ), retrying once if the file has disappeared out from under
// us, matching the source's retry-open-on-FileNotFoundError behavior.
func (r *Router) write(route, typ string, line []byte) {
	f, err := r.file(route, typ)
	if err != nil {
		return
	}
	r.mu.Lock()
	_, err = f.Write(append(line, '\n'))
	r.mu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.files, route+"_"+typ)
		r.mu.Unlock()
		if f2, rerr := r.file(route, typ); rerr == nil {
			r.mu.Lock()
			f2.Write(append(line, '\n'))
			r.mu.Unlock()
		}
	}
}

// Close closes every open log file.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, f := range r.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
