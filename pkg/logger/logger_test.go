package logger

import (
	"errors"
	"log/slog"
	"testing"
)

func TestScope(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  string
	}{
		{"basic scope", "jobs", "jobs"},
		{"nested scope", "webhooks.dispatcher", "webhooks.dispatcher"},
		{"empty scope", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Scope(tt.scope)
			if attr.Key != "scope" {
				t.Errorf("Scope() key = %q, want %q", attr.Key, "scope")
			}
			if attr.Value.String() != tt.want {
				t.Errorf("Scope() value = %q, want %q", attr.Value.String(), tt.want)
			}
		})
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"simple error", errors.New("something went wrong")},
		{"nil error", nil},
		{"wrapped error", errors.Join(errors.New("outer"), errors.New("inner"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Error(tt.err)
			if attr.Key != "error" {
				t.Errorf("Error() key = %q, want %q", attr.Key, "error")
			}
			gotErr := attr.Value.Any()
			if gotErr != tt.err {
				t.Errorf("Error() value = %v, want %v", gotErr, tt.err)
			}
		})
	}
}

func TestNewLogger_DefaultLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GO_ENV", "")

	logger := NewLogger()
	if logger == nil {
		t.Fatal("NewLogger() returned nil")
	}

	if !logger.Enabled(nil, slog.LevelInfo) {
		t.Error("NewLogger() should have info level enabled by default")
	}
	if logger.Enabled(nil, slog.LevelDebug) {
		t.Error("NewLogger() should not have debug level enabled by default")
	}
}

func TestNewLogger_DebugLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	logger := NewLogger()
	if !logger.Enabled(nil, slog.LevelDebug) {
		t.Error("NewLogger() should have debug level enabled")
	}
}

func TestNewLogger_ErrorLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	logger := NewLogger()
	if logger.Enabled(nil, slog.LevelWarn) {
		t.Error("NewLogger() should not have warn level enabled")
	}
	if !logger.Enabled(nil, slog.LevelError) {
		t.Error("NewLogger() should have error level enabled")
	}
}
