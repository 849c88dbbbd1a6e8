// Package logger provides context-aware structured logging.
// Business context keys propagate run ID, period key, and pipeline
// stage through JSON log output.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ContextKey string

const (
	RunIDKey  ContextKey = "echo.run.id"
	PeriodKey ContextKey = "echo.period"
	StageKey  ContextKey = "echo.stage"
	TopicIDKey ContextKey = "echo.topic.id"
)

// ContextLogger attaches pipeline run context to every log line.
type ContextLogger struct {
	logger      *slog.Logger
	serviceName string
}

func NewContextLogger(serviceName string) *ContextLogger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &ContextLogger{
		logger:      slog.New(handler),
		serviceName: serviceName,
	}
}

// WithContext returns a logger with context values extracted and added as fields.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger.With("service", cl.serviceName)

	var fields []any

	if runID := ctx.Value(RunIDKey); runID != nil {
		fields = append(fields, string(RunIDKey), runID)
	}
	if period := ctx.Value(PeriodKey); period != nil {
		fields = append(fields, string(PeriodKey), period)
	}
	if stage := ctx.Value(StageKey); stage != nil {
		fields = append(fields, string(StageKey), stage)
	}
	if topicID := ctx.Value(TopicIDKey); topicID != nil {
		fields = append(fields, string(TopicIDKey), topicID)
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return logger
}

// Context helper functions

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithPeriod(ctx context.Context, period string) context.Context {
	return context.WithValue(ctx, PeriodKey, period)
}

func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

func WithTopicID(ctx context.Context, topicID string) context.Context {
	return context.WithValue(ctx, TopicIDKey, topicID)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
