package actor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/go-alarms/internal/actor"
	"github.com/basket/go-alarms/internal/alarms"
	"github.com/basket/go-alarms/internal/bus"
	"github.com/basket/go-alarms/internal/clock"
)

var base = time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type harness struct {
	actor *actor.Actor
	clock *clock.Manual
	bus   *bus.Bus
	logs  *bytes.Buffer
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewManual(base),
		bus:   bus.New(),
		logs:  &bytes.Buffer{},
		dir:   t.TempDir(),
	}
	a, err := actor.Open(context.Background(), actor.Config{
		Name:   "room-1",
		Dir:    h.dir,
		Clock:  h.clock,
		Logger: slog.New(slog.NewJSONHandler(h.logs, nil)),
		Bus:    h.bus,
	})
	if err != nil {
		t.Fatalf("open actor: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	h.actor = a
	return h
}

type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) handler(err error) actor.Handler {
	return func(_ context.Context, _ *actor.Actor, al alarms.Alarm) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.fired = append(r.fired, al.ID)
		return err
	}
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func drain(sub *bus.Subscription) []bus.Event {
	var out []bus.Event
	for {
		select {
		case ev := <-sub.Ch():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func topics(events []bus.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Topic)
	}
	return out
}

func TestAlarm_FiresDueAndDeletesOneShots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := &recorder{}
	h.actor.Handle("ping", rec.handler(nil))

	if _, err := h.actor.Schedule(ctx, base.Add(-time.Minute), "ping", "{}", actor.WithID("past")); err != nil {
		t.Fatalf("schedule past: %v", err)
	}
	if _, err := h.actor.ScheduleDelay(ctx, 0, "ping", "", actor.WithID("now")); err != nil {
		t.Fatalf("schedule now: %v", err)
	}
	if _, err := h.actor.ScheduleDelay(ctx, time.Hour, "ping", "", actor.WithID("later")); err != nil {
		t.Fatalf("schedule later: %v", err)
	}

	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("alarm pass: %v", err)
	}
	if got := rec.ids(); len(got) != 2 || got[0] != "past" || got[1] != "now" {
		t.Fatalf("fired = %v, want [past now]", got)
	}

	left, err := h.actor.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || left[0].ID != "later" {
		t.Fatalf("remaining = %+v, want only later", left)
	}
	if left[0].Type != alarms.TypeDelayed || left[0].DelaySeconds != 3600 {
		t.Fatalf("delayed alarm stored wrong: %+v", left[0])
	}
}

func TestAlarm_CronReschedules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := &recorder{}
	h.actor.Handle("tick", rec.handler(nil))

	al, err := h.actor.ScheduleCron(ctx, "* * * * *", "tick", "")
	if err != nil {
		t.Fatalf("schedule cron: %v", err)
	}
	if want := time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC).Unix(); al.Time != want {
		t.Fatalf("first cron time = %d, want %d", al.Time, want)
	}

	h.clock.Set(time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC))
	sub := h.bus.Subscribe("alarm.")
	defer h.bus.Unsubscribe(sub)
	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("alarm pass: %v", err)
	}

	got, err := h.actor.Get(ctx, al.ID)
	if err != nil || got == nil {
		t.Fatalf("cron alarm must survive its pass: %v %v", got, err)
	}
	if want := time.Date(2026, 3, 14, 10, 9, 0, 0, time.UTC).Unix(); got.Time != want {
		t.Fatalf("rescheduled time = %d, want %d", got.Time, want)
	}
	if got.Cron != "* * * * *" || got.Callback != "tick" {
		t.Fatalf("reschedule must only change time: %+v", got)
	}
	if tp := topics(drain(sub)); strings.Join(tp, ",") != "alarm.fired,alarm.rescheduled" {
		t.Fatalf("events = %v", tp)
	}
	if len(rec.ids()) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(rec.ids()))
	}
}

func TestAlarm_HandlerErrorDoesNotStopPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	failing := &recorder{}
	ok := &recorder{}
	h.actor.Handle("fail", failing.handler(errors.New("boom")))
	h.actor.Handle("ok", ok.handler(nil))

	if _, err := h.actor.Schedule(ctx, base.Add(-2*time.Second), "fail", "", actor.WithID("a1")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := h.actor.Schedule(ctx, base.Add(-time.Second), "ok", "", actor.WithID("a2")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	sub := h.bus.Subscribe("alarm.failed")
	defer h.bus.Unsubscribe(sub)
	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("handler errors must not fail the pass: %v", err)
	}
	if len(ok.ids()) != 1 {
		t.Fatal("second alarm must still fire")
	}
	left, _ := h.actor.List(ctx)
	if len(left) != 0 {
		t.Fatalf("failed one-shot must still be deleted, left %+v", left)
	}
	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("expected one alarm.failed event, got %d", len(events))
	}
	if ev := events[0].Payload.(bus.AlarmEvent); ev.AlarmID != "a1" || ev.Error != "boom" {
		t.Fatalf("unexpected failure event: %+v", ev)
	}
	if !strings.Contains(h.logs.String(), "alarm handler failed") {
		t.Fatalf("expected handler failure log, got %s", h.logs.String())
	}
}

func TestAlarm_PanickingHandlerRecovered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.actor.Handle("bad", func(context.Context, *actor.Actor, alarms.Alarm) error {
		panic("nil map")
	})
	if _, err := h.actor.ScheduleDelay(ctx, 0, "bad", ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("alarm pass: %v", err)
	}
	if !strings.Contains(h.logs.String(), "handler panic: nil map") {
		t.Fatalf("expected recovered panic in log, got %s", h.logs.String())
	}
}

func TestAlarm_UnknownCallbackSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.actor.ScheduleDelay(ctx, 0, "nobody", ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("alarm pass: %v", err)
	}
	if left, _ := h.actor.List(ctx); len(left) != 0 {
		t.Fatalf("alarm without handler must still be settled, left %+v", left)
	}
	if !strings.Contains(h.logs.String(), "no handler for alarm callback") {
		t.Fatalf("expected warning, got %s", h.logs.String())
	}
}

func TestAlarm_FallbackHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := &recorder{}
	h.actor.Handle("", rec.handler(nil))
	if _, err := h.actor.ScheduleDelay(ctx, 0, "anything", "", actor.WithID("x")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("alarm pass: %v", err)
	}
	if got := rec.ids(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("fallback fired %v", got)
	}
}

func TestAlarm_DestroyInsideHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := &recorder{}
	h.actor.Handle("teardown", func(ctx context.Context, a *actor.Actor, al alarms.Alarm) error {
		_ = rec.handler(nil)(ctx, a, al)
		return a.Destroy(ctx)
	})
	h.actor.Handle("after", rec.handler(nil))

	if _, err := h.actor.Schedule(ctx, base.Add(-2*time.Second), "teardown", "", actor.WithID("first")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := h.actor.Schedule(ctx, base.Add(-time.Second), "after", "", actor.WithID("second")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := h.actor.ScheduleCron(ctx, "* * * * *", "after", "", actor.WithID("cron")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	sub := h.bus.Subscribe("actor.")
	defer h.bus.Unsubscribe(sub)

	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("pass that destroys its actor must finish cleanly: %v", err)
	}
	if got := rec.ids(); len(got) != 2 {
		t.Fatalf("both due alarms must reach their handlers, got %v", got)
	}
	if !h.actor.Destroyed() {
		t.Fatal("actor must report destroyed")
	}
	if _, err := os.Stat(actor.DBPath(h.dir, "room-1")); !os.IsNotExist(err) {
		t.Fatalf("database file must be removed after the pass, stat err=%v", err)
	}
	if events := drain(sub); len(events) != 1 || events[0].Topic != bus.TopicActorDestroyed {
		t.Fatalf("expected actor.destroyed, got %v", topics(events))
	}
}

func TestDestroy_ThenOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.actor.ScheduleDelay(ctx, time.Hour, "ping", ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := h.actor.Destroy(ctx); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := h.actor.Destroy(ctx); err != nil {
		t.Fatalf("second destroy must be a no-op: %v", err)
	}

	if _, err := h.actor.ScheduleDelay(ctx, time.Hour, "ping", ""); !errors.Is(err, actor.ErrDestroyed) {
		t.Fatalf("schedule after destroy: got %v, want ErrDestroyed", err)
	}
	if err := h.actor.Alarm(ctx); err != nil {
		t.Fatalf("alarm after destroy: %v", err)
	}
	if next, err := h.actor.NextAlarm(ctx); err != nil || next != nil {
		t.Fatalf("next after destroy = %v, %v", next, err)
	}
	if list, err := h.actor.List(ctx); err != nil || len(list) != 0 {
		t.Fatalf("list after destroy = %v, %v", list, err)
	}
	if err := h.actor.Cancel(ctx, "x"); err != nil {
		t.Fatalf("cancel after destroy: %v", err)
	}
}

func TestNextAlarm_AndCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if next, err := h.actor.NextAlarm(ctx); err != nil || next != nil {
		t.Fatalf("empty actor next = %v, %v", next, err)
	}
	if _, err := h.actor.ScheduleDelay(ctx, 10*time.Second, "ping", "", actor.WithID("a"), actor.WithIdentifier("slot-a")); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := h.actor.ScheduleDelay(ctx, 20*time.Second, "ping", "", actor.WithID("b")); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	next, err := h.actor.NextAlarm(ctx)
	if err != nil || next == nil {
		t.Fatalf("next: %v %v", next, err)
	}
	if next.Time != base.Unix()+10 || next.Identifier != "slot-a" {
		t.Fatalf("next = %+v", next)
	}

	if err := h.actor.Cancel(ctx, "a"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.actor.Cancel(ctx, "a"); err != nil {
		t.Fatalf("cancel twice: %v", err)
	}
	next, _ = h.actor.NextAlarm(ctx)
	if next == nil || next.Time != base.Unix()+20 || next.Identifier != alarms.DefaultIdentifier {
		t.Fatalf("next after cancel = %+v", next)
	}
}

func TestSchedule_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.actor.ScheduleDelay(ctx, -time.Second, "ping", ""); err == nil {
		t.Fatal("negative delay must be rejected")
	}
	if _, err := h.actor.ScheduleCron(ctx, "not cron", "ping", ""); err == nil {
		t.Fatal("bad cron must be rejected")
	}
	if _, err := h.actor.Schedule(ctx, base, "", ""); err == nil {
		t.Fatal("empty callback must be rejected")
	}
}

func TestDue_DoesNotFire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := &recorder{}
	h.actor.Handle("ping", rec.handler(nil))
	if _, err := h.actor.ScheduleDelay(ctx, 0, "ping", ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	due, err := h.actor.Due(ctx)
	if err != nil || len(due) != 1 {
		t.Fatalf("due = %v, %v", due, err)
	}
	if len(rec.ids()) != 0 {
		t.Fatal("Due must not run handlers")
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "  ", "a/b", `a\b`, ".hidden"} {
		if err := actor.ValidateName(name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
	if err := actor.ValidateName("room-1"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}

func TestLoop_FiresAndWakesOnSchedule(t *testing.T) {
	dir := t.TempDir()
	a, err := actor.Open(context.Background(), actor.Config{
		Name:     "looper",
		Dir:      dir,
		MaxSleep: time.Hour,
	})
	if err != nil {
		t.Fatalf("open actor: %v", err)
	}
	defer a.Close()

	var fired atomic.Int32
	a.Handle("ping", func(context.Context, *actor.Actor, alarms.Alarm) error {
		fired.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	// The loop is asleep for an hour; a new schedule must wake it.
	if _, err := a.ScheduleDelay(context.Background(), 0, "ping", ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return fired.Load() == 1 })

	if _, err := a.ScheduleDelay(context.Background(), time.Second, "ping", ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return fired.Load() == 2 })

	a.Stop()
	a.Stop()
}

func TestLoop_ExitsOnDestroy(t *testing.T) {
	dir := t.TempDir()
	a, err := actor.Open(context.Background(), actor.Config{Name: "gone", Dir: dir, MaxSleep: time.Hour})
	if err != nil {
		t.Fatalf("open actor: %v", err)
	}
	a.Start(context.Background())
	if err := a.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit after destroy")
	}
	if _, err := os.Stat(actor.DBPath(dir, "gone")); !os.IsNotExist(err) {
		t.Fatalf("database file must be removed, stat err=%v", err)
	}
}
