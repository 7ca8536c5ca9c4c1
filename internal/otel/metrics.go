package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the alarm runtime instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	AlarmsFired      metric.Int64Counter
	AlarmFailures    metric.Int64Counter
	AlarmsScheduled  metric.Int64Counter
	DueBatchSize     metric.Int64Histogram
	PassDuration     metric.Float64Histogram
	PassErrors       metric.Int64Counter
	TrackingFailures metric.Int64Counter
	ActiveActors     metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AlarmsFired, err = meter.Int64Counter("alarmd.alarm.fired",
		metric.WithDescription("Alarms whose handler ran"),
	)
	if err != nil {
		return nil, err
	}

	m.AlarmFailures, err = meter.Int64Counter("alarmd.alarm.failures",
		metric.WithDescription("Alarm handlers that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	m.AlarmsScheduled, err = meter.Int64Counter("alarmd.alarm.scheduled",
		metric.WithDescription("Alarms written by the scheduling API"),
	)
	if err != nil {
		return nil, err
	}

	m.DueBatchSize, err = meter.Int64Histogram("alarmd.pass.due",
		metric.WithDescription("Due alarms found per alarm pass"),
	)
	if err != nil {
		return nil, err
	}

	m.PassDuration, err = meter.Float64Histogram("alarmd.pass.duration",
		metric.WithDescription("Alarm pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PassErrors, err = meter.Int64Counter("alarmd.pass.errors",
		metric.WithDescription("Alarm passes aborted by a store fault"),
	)
	if err != nil {
		return nil, err
	}

	m.TrackingFailures, err = meter.Int64Counter("alarmd.tracking.failures",
		metric.WithDescription("Tracking cleanups that failed and were absorbed"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveActors, err = meter.Int64UpDownCounter("alarmd.actors.active",
		metric.WithDescription("Actors currently open in the runtime"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func actorAttr(actor string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(string(AttrActorID), actor))
}

func (m *Metrics) RecordFired(ctx context.Context, actor, callback string) {
	if m == nil {
		return
	}
	m.AlarmsFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String(string(AttrActorID), actor),
		attribute.String(string(AttrCallback), callback),
	))
}

func (m *Metrics) RecordFailure(ctx context.Context, actor, callback string) {
	if m == nil {
		return
	}
	m.AlarmFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(string(AttrActorID), actor),
		attribute.String(string(AttrCallback), callback),
	))
}

func (m *Metrics) RecordScheduled(ctx context.Context, actor string) {
	if m == nil {
		return
	}
	m.AlarmsScheduled.Add(ctx, 1, actorAttr(actor))
}

// RecordPass records one alarm pass: how many alarms were due, how long it
// took and whether a store fault cut it short.
func (m *Metrics) RecordPass(ctx context.Context, actor string, due int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.DueBatchSize.Record(ctx, int64(due), actorAttr(actor))
	m.PassDuration.Record(ctx, elapsed.Seconds(), actorAttr(actor))
	if err != nil {
		m.PassErrors.Add(ctx, 1, actorAttr(actor))
	}
}

func (m *Metrics) RecordTrackingFailure(ctx context.Context, actor string) {
	if m == nil {
		return
	}
	m.TrackingFailures.Add(ctx, 1, actorAttr(actor))
}

func (m *Metrics) ActorOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveActors.Add(ctx, 1)
}

func (m *Metrics) ActorClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveActors.Add(ctx, -1)
}
