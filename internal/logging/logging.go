// Package logging provides the structured logger used across the workflow
// core: a slog.Logger with a colored console handler for interactive use and
// a JSON handler for production, matching the shape of the teacher's
// service loggers but scoped to an in-process library instead of an HTTP
// service.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with the contextual-field helpers the engine and
// compiler use when tagging log lines with a run or node id.
type Logger struct {
	*slog.Logger
}

// New creates a logger. format is "json" or anything else for the tinted
// console handler.
func New(level, format string) *Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything; used as the default when
// a caller doesn't supply one so the engine never has to nil-check.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// WithRunID adds run_id to the logger's context.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.With("run_id", runID)}
}

// WithNodeID adds node_id to the logger's context.
func (l *Logger) WithNodeID(nodeID string) *Logger {
	return &Logger{Logger: l.With("node_id", nodeID)}
}

// WithContext returns a logger carrying a trace id pulled from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := ctx.Value(traceIDKey{}); traceID != nil {
		return &Logger{Logger: l.With("trace_id", traceID)}
	}
	return l
}

type traceIDKey struct{}

// WithTraceID stashes a trace id on ctx for WithContext to pick up later.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
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
