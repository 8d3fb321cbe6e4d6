package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"amscli/internal/config"
)

type contextKey string

// TraceIDKey is the context key carrying the run's trace ID. Every pipeline
// run gets one at startup so log lines across phases can be correlated.
const TraceIDKey contextKey = "trace_id"

// InitializeLogger sets up the global slog default from the logging config.
// It returns a closer for the log file, which may be nil when logging only
// to stdout.
func InitializeLogger(cfg config.LoggingConfig) (io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer

	switch cfg.Output {
	case "stdout":
		writers = append(writers, os.Stdout)
	case "file":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		closer = f
	case "both", "":
		f, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, os.Stdout, f)
		closer = f
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
	} else {
		handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
	}

	slog.SetDefault(slog.New(&traceHandler{Handler: handler}))
	return closer, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
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

// traceHandler injects the trace ID from the context into every record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// WithTraceID returns a context carrying the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceIDFromContext extracts the trace ID, or "" when absent.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
