// Package telemetry is the consolidator's ambient observability stack:
// structured logging, Prometheus metrics, and OpenTelemetry tracing for
// each consolidation pass.
package telemetry

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var opLogger atomic.Pointer[slog.Logger]

func init() {
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// Op returns the process-wide operational logger.
func Op() *slog.Logger {
	return opLogger.Load()
}

// InitLogging reconfigures the operational logger.
// format is "text" (default) or "json"; level is "debug", "info", "warn",
// or "error".
func InitLogging(format, level string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	opLogger.Store(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
