package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}
	ctx = WithTraceID(ctx, "abc")
	if got := TraceID(ctx); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if NewTraceID() == NewTraceID() {
		t.Fatal("trace ids must be unique")
	}
}

func TestActorAndAlarmID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if ActorID(ctx) != "" || AlarmID(ctx) != "" {
		t.Fatal("expected empty ids by default")
	}
	ctx = WithAlarmID(WithActorID(ctx, "room-42"), "alarm-1")
	if got := ActorID(ctx); got != "room-42" {
		t.Fatalf("actor id = %q", got)
	}
	if got := AlarmID(ctx); got != "alarm-1" {
		t.Fatalf("alarm id = %q", got)
	}
}

func TestLogger_AddsCorrelationAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithActorID(WithTraceID(context.Background(), "t-1"), "room-42")

	Logger(ctx, base).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["trace_id"] != "t-1" || entry["actor_id"] != "room-42" {
		t.Fatalf("missing correlation attrs: %#v", entry)
	}
	if _, ok := entry["alarm_id"]; ok {
		t.Fatalf("alarm_id must be omitted when absent: %#v", entry)
	}
}
