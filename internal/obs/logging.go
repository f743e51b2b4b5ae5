// Package obs wires up process-wide logging and OpenTelemetry providers.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the global slog logger. JSON handler if
// ORCH_JSON_LOG is set to 1/true/json, text handler otherwise.
func InitLogging(component string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("ORCH_JSON_LOG"))
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler).With("component", component)
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("ORCH_LOG_LEVEL")) {
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
