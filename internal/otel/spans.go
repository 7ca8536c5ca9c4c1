package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Standard attribute keys for alarmd spans and metrics.
var (
	AttrActorID    = attribute.Key("alarmd.actor.id")
	AttrAlarmID    = attribute.Key("alarmd.alarm.id")
	AttrCallback   = attribute.Key("alarmd.alarm.callback")
	AttrIdentifier = attribute.Key("alarmd.alarm.identifier")
	AttrDueCount   = attribute.Key("alarmd.pass.due")
)

// StartSpan is a convenience wrapper that starts an internal span with common
// attributes. A nil tracer yields a no-op span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(TracerName)
	}
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
