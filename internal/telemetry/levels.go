package telemetry

import "log/slog"

// Custom levels. slog's built-in levels cover DEBUG/INFO/WARN/ERROR; TRACE
// sits below DEBUG the way the source logger's TRACE type does.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Log record types, matching the four fields of every line written under
// <root>/kuiX/Logs/<route>_<type>.log.
const (
	TypeInfo    = "INFO"
	TypeWarning = "WARNING"
	TypeError   = "ERROR"
	TypeDebug   = "DEBUG"
	TypeTrace   = "TRACE"
)

// Routes a log record can be filed under.
const (
	RouteCore              = "CORE"
	RouteCoreComponent     = "CORE_COMPONENT"
	RouteStrategy          = "STRATEGY"
	RouteStrategyComponent = "STRATEGY_COMPONENT"
	RouteProcess           = "KX_PROCESS"
	RouteProcessComponent  = "KX_PROCESS_COMPONENT"
)

// AllRoutes and AllTypes are used to pre-create every <route>_<type>.log
// file up front, the way set_log_path did for its four routes and four
// types.
var AllRoutes = []string{RouteCore, RouteCoreComponent, RouteStrategy, RouteStrategyComponent, RouteProcess, RouteProcessComponent}
var AllTypes = []string{TypeInfo, TypeWarning, TypeError, TypeDebug, TypeTrace}

func typeName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return TypeTrace
	case l < LevelInfo:
		return TypeDebug
	case l < LevelWarn:
		return TypeInfo
	case l < LevelError:
		return TypeWarning
	default:
		return TypeError
	}
}
