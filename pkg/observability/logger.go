package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type Logger struct {
	*slog.Logger
}

func NewLogger(serviceName string) *Logger {
	return NewLoggerWithLevel(serviceName, os.Getenv("LOG_LEVEL"))
}

// NewLoggerWithLevel builds the JSON logger used by every service binary.
// Unknown levels fall back to info.
func NewLoggerWithLevel(serviceName, level string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	logger := slog.New(handler).With("service", serviceName)
	return &Logger{logger}
}

// NewNopLogger discards everything. Used by tests and by components built without a logger.
func NewNopLogger() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext adds trace information from context if available
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return &Logger{l.Logger.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
