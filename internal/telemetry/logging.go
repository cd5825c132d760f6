package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/basket/kuix/internal/shared"
)

// routeHandler is a slog.Handler that files every record into its
// Router under the (route, type) pair derived from the record's level,
// applying the same key/value redaction the teacher's single-file logger
// did before anything touches disk.
type routeHandler struct {
	router *Router
	route  string
	quiet  bool
	attrs  []slog.Attr
}

// Logger returns a logger that writes JSON lines to
// <root>/kuiX/Logs/<route>_<TYPE>.log, selecting the file by the record's
// level, and echoes to stdout unless the router was built with quiet=true.
func (r *Router) Logger(route string) *slog.Logger {
	return slog.New(&routeHandler{router: r, route: route, quiet: r.quiet})
}

func (h *routeHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *routeHandler) Handle(_ context.Context, rec slog.Record) error {
	fields := make(map[string]any, rec.NumAttrs()+len(h.attrs))
	addAttr := func(a slog.Attr) bool {
		redactAttrInto(fields, a)
		return true
	}
	for _, a := range h.attrs {
		addAttr(a)
	}
	rec.Attrs(addAttr)

	line := map[string]any{
		"time":  rec.Time.UTC().Format(time.RFC3339Nano),
		"type":  typeName(rec.Level),
		"route": h.route,
		"data":  rec.Message,
	}
	if len(fields) > 0 {
		line["fields"] = fields
	}

	b, err := json.Marshal(line)
	if err != nil {
		return err
	}

	h.router.write(h.route, typeName(rec.Level), b)
	if !h.quiet {
		fmt.Fprintln(os.Stdout, string(b))
	}
	return nil
}

func (h *routeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &routeHandler{router: h.router, route: h.route, quiet: h.quiet, attrs: merged}
}

// WithGroup is a no-op: log records here are flat route/type/data/fields
// documents, not nested group trees.
func (h *routeHandler) WithGroup(string) slog.Handler { return h }

func redactAttrInto(dst map[string]any, a slog.Attr) {
	if shouldRedactKey(a.Key) {
		dst[a.Key] = "[REDACTED]"
		return
	}
	if a.Value.Kind() == slog.KindString {
		if redacted, ok := redactStringValue(a.Value.String()); ok {
			dst[a.Key] = redacted
			return
		}
	}
	dst[a.Key] = a.Value.Any()
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	sensitiveTokens := []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer", "auth_key", "key"}
	for _, token := range sensitiveTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func redactStringValue(v string) (string, bool) {
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") {
		return "[REDACTED]", true
	}
	if strings.Contains(lower, "api_key") || strings.Contains(lower, "authorization:") {
		return "[REDACTED]", true
	}
	redacted := shared.Redact(v)
	if redacted != v {
		return redacted, true
	}
	return v, false
}
