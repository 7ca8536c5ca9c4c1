package shared

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type traceKey struct{}
type actorIDKey struct{}
type alarmIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithActorID attaches the owning actor's name to the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ActorID extracts actor_id from context. Returns "" if absent.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithAlarmID attaches the alarm being processed to the context.
func WithAlarmID(ctx context.Context, alarmID string) context.Context {
	return context.WithValue(ctx, alarmIDKey{}, alarmID)
}

// AlarmID extracts alarm_id from context. Returns "" if absent.
func AlarmID(ctx context.Context) string {
	if v, ok := ctx.Value(alarmIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger returns base annotated with whatever correlation ids ctx carries.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	attrs := []any{"trace_id", TraceID(ctx)}
	if v := ActorID(ctx); v != "" {
		attrs = append(attrs, "actor_id", v)
	}
	if v := AlarmID(ctx); v != "" {
		attrs = append(attrs, "alarm_id", v)
	}
	return base.With(attrs...)
}
