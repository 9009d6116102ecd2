// Package logging provides structured logging for the marketplace services.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// New creates a structured logger. format is "json" (production) or "text".
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L returns a request-scoped logger: the context logger annotated with the
// request ID when one is present.
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if reqID := RequestID(ctx); reqID != "" {
		return logger.With("request_id", reqID)
	}
	return logger
}

// HTTPRequest logs a completed HTTP request at a severity derived from the
// status code: 5xx as errors, 4xx as warnings, the rest as info. The client
// IP is only attached on server errors, where it matters for triage.
func HTTPRequest(ctx context.Context, method, path string, status int, latency time.Duration, clientIP string) {
	attrs := []any{
		"method", method,
		"path", path,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	}

	logger := L(ctx)
	switch {
	case status >= 500:
		logger.Error("request completed", append(attrs, "client_ip", clientIP)...)
	case status >= 400:
		logger.Warn("request completed", attrs...)
	default:
		logger.Info("request completed", attrs...)
	}
}
