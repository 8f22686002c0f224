// Package logger provides the process-wide slog logger and common attributes.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root slog logger.
// Level comes from LOG_LEVEL (debug/info/warn/error, default info).
// In production (GO_ENV=production) logs are JSON; otherwise human-readable text.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "info":
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Scope returns the standard attribute identifying a logger's subsystem.
func Scope(name string) slog.Attr {
	return slog.Attr{Key: "scope", Value: slog.StringValue(name)}
}

// Error returns the standard attribute for an error value.
func Error(err error) slog.Attr {
	return slog.Attr{Key: "error", Value: slog.AnyValue(err)}
}
