// Package actor runs the alarms of named actors. Each actor owns one SQLite
// database with an alarm table, a set of callback handlers, and a loop that
// fires due alarms and sleeps until the next one.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-alarms/internal/alarms"
	"github.com/basket/go-alarms/internal/bus"
	"github.com/basket/go-alarms/internal/clock"
	"github.com/basket/go-alarms/internal/cron"
	"github.com/basket/go-alarms/internal/otel"
	"github.com/basket/go-alarms/internal/persistence"
	"github.com/basket/go-alarms/internal/shared"
)

const (
	defaultMaxSleep   = time.Minute
	failedPassBackoff = time.Second
)

// ErrDestroyed is returned by writes against an actor whose storage has been
// dropped.
var ErrDestroyed = errors.New("actor destroyed")

// Handler runs when an alarm with a matching callback name comes due.
type Handler func(ctx context.Context, a *Actor, alarm alarms.Alarm) error

// Config holds the dependencies of one actor.
type Config struct {
	Name    string
	Dir     string // directory holding <name>.db
	Clock   clock.Clock
	Logger  *slog.Logger
	Bus     *bus.Bus
	Metrics *otel.Metrics
	Tracer  trace.Tracer

	// MaxSleep bounds a single loop sleep; defaults to one minute.
	MaxSleep time.Duration
}

// Actor is one named alarm owner.
//
// Thread-safety: all methods are safe for concurrent use. Destroy may be
// called from inside a Handler; Stop and Close must not be.
type Actor struct {
	name     string
	store    *persistence.Store
	alarms   *alarms.Store
	clock    clock.Clock
	logger   *slog.Logger
	bus      *bus.Bus
	metrics  *otel.Metrics
	tracer   trace.Tracer
	maxSleep time.Duration

	passMu sync.Mutex // one alarm pass at a time

	mu        sync.Mutex
	handlers  map[string]Handler
	inflight  int
	destroyed bool // no new operations
	dropped   bool // tables gone, files may be removed once idle
	closed    bool
	released  bool

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// ValidateName rejects names that cannot be used as a database file name.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("actor name is empty")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("actor name %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("actor name %q must not start with a dot", name)
	}
	return nil
}

// DBPath returns the database file of actor name inside dir.
func DBPath(dir, name string) string {
	return filepath.Join(dir, name+".db")
}

// Open opens (creating if needed) the actor's database and alarm table.
func Open(ctx context.Context, cfg Config) (*Actor, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSleep := cfg.MaxSleep
	if maxSleep <= 0 {
		maxSleep = defaultMaxSleep
	}

	store, err := persistence.Open(DBPath(cfg.Dir, cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("open actor %s: %w", cfg.Name, err)
	}
	a := &Actor{
		name:     cfg.Name,
		store:    store,
		alarms:   alarms.New(c),
		clock:    c,
		logger:   logger.With("actor", cfg.Name),
		bus:      cfg.Bus,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		maxSleep: maxSleep,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	if err := a.alarms.EnsureSchema(ctx, store); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open actor %s: %w", cfg.Name, err)
	}
	return a, nil
}

func (a *Actor) Name() string { return a.name }

// Store exposes the actor's database handle.
func (a *Actor) Store() *persistence.Store { return a.store }

// Handle registers h for alarms whose callback is name, replacing any
// previous handler. A handler registered under "" receives callbacks that
// have no handler of their own.
func (a *Actor) Handle(name string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[name] = h
}

func (a *Actor) handler(name string) Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.handlers[name]; ok {
		return h
	}
	return a.handlers[""]
}

// Destroyed reports whether Destroy has been called.
func (a *Actor) Destroyed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.destroyed
}

// acquire marks a storage operation in flight. It fails once the actor is
// destroyed.
func (a *Actor) acquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed || a.closed {
		return false
	}
	a.inflight++
	return true
}

func (a *Actor) done() {
	a.mu.Lock()
	a.inflight--
	release := a.dropped && a.inflight == 0 && !a.released
	if release {
		a.released = true
	}
	a.mu.Unlock()
	if release {
		a.removeFiles()
	}
}

func (a *Actor) poke() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// ScheduleOption adjusts an alarm before it is stored.
type ScheduleOption func(*alarms.Alarm)

// WithIdentifier names the slot the alarm belongs to.
func WithIdentifier(id string) ScheduleOption {
	return func(al *alarms.Alarm) { al.Identifier = id }
}

// WithID sets the alarm id instead of a generated one.
func WithID(id string) ScheduleOption {
	return func(al *alarms.Alarm) { al.ID = id }
}

// Schedule stores a one-shot alarm firing at at.
func (a *Actor) Schedule(ctx context.Context, at time.Time, callback, payload string, opts ...ScheduleOption) (alarms.Alarm, error) {
	return a.insert(ctx, alarms.Alarm{
		Callback: callback,
		Payload:  payload,
		Type:     alarms.TypeScheduled,
		Time:     at.Unix(),
	}, opts)
}

// ScheduleDelay stores a one-shot alarm firing d from now.
func (a *Actor) ScheduleDelay(ctx context.Context, d time.Duration, callback, payload string, opts ...ScheduleOption) (alarms.Alarm, error) {
	if d < 0 {
		return alarms.Alarm{}, fmt.Errorf("schedule %s: negative delay %s", callback, d)
	}
	return a.insert(ctx, alarms.Alarm{
		Callback:     callback,
		Payload:      payload,
		Type:         alarms.TypeDelayed,
		Time:         a.clock.Now().Add(d).Unix(),
		DelaySeconds: int64(d / time.Second),
	}, opts)
}

// ScheduleCron stores a recurring alarm. Its first time is the next instant
// expr matches.
func (a *Actor) ScheduleCron(ctx context.Context, expr, callback, payload string, opts ...ScheduleOption) (alarms.Alarm, error) {
	next, err := cron.NextUnix(expr, a.clock.Now())
	if err != nil {
		return alarms.Alarm{}, fmt.Errorf("schedule %s: %w", callback, err)
	}
	return a.insert(ctx, alarms.Alarm{
		Callback: callback,
		Payload:  payload,
		Type:     alarms.TypeCron,
		Time:     next,
		Cron:     expr,
	}, opts)
}

func (a *Actor) insert(ctx context.Context, al alarms.Alarm, opts []ScheduleOption) (alarms.Alarm, error) {
	for _, opt := range opts {
		opt(&al)
	}
	if al.ID == "" {
		al.ID = uuid.NewString()
	}
	if !a.acquire() {
		return alarms.Alarm{}, fmt.Errorf("schedule %s on %s: %w", al.Callback, a.name, ErrDestroyed)
	}
	defer a.done()

	al.CreatedAt = clock.Unix(a.clock)
	if err := a.alarms.Insert(ctx, a.store, al); err != nil {
		return alarms.Alarm{}, err
	}
	if al.Identifier == "" {
		al.Identifier = alarms.DefaultIdentifier
	}

	a.metrics.RecordScheduled(ctx, a.name)
	a.publish(bus.TopicAlarmScheduled, al, al.Time, nil)
	a.logger.InfoContext(ctx, "alarm scheduled",
		"alarm_id", al.ID,
		"callback", al.Callback,
		"type", string(al.Type),
		"time", al.Time,
		"identifier", al.Identifier,
	)
	a.poke()
	return al, nil
}

// Cancel deletes alarm id. Cancelling an unknown alarm, or any alarm of a
// destroyed actor, is a no-op.
func (a *Actor) Cancel(ctx context.Context, id string) error {
	if !a.acquire() {
		return nil
	}
	defer a.done()
	if err := a.alarms.Delete(ctx, a.store, id); err != nil {
		return err
	}
	a.bus.Publish(bus.TopicAlarmDeleted, bus.AlarmEvent{ActorID: a.name, AlarmID: id})
	a.poke()
	return nil
}

// Get returns alarm id, or nil when it does not exist.
func (a *Actor) Get(ctx context.Context, id string) (*alarms.Alarm, error) {
	if !a.acquire() {
		return nil, nil
	}
	defer a.done()
	return a.alarms.Get(ctx, a.store, id)
}

// List returns every stored alarm, earliest first.
func (a *Actor) List(ctx context.Context) ([]alarms.Alarm, error) {
	if !a.acquire() {
		return nil, nil
	}
	defer a.done()
	return a.alarms.List(ctx, a.store)
}

// NextAlarm returns the earliest alarm still in the future, or nil.
func (a *Actor) NextAlarm(ctx context.Context) (*alarms.Next, error) {
	if !a.acquire() {
		return nil, nil
	}
	defer a.done()
	return a.alarms.FindNext(ctx, a.store)
}

// Due returns the alarms a pass would fire right now without firing them.
func (a *Actor) Due(ctx context.Context) ([]alarms.Alarm, error) {
	if !a.acquire() {
		return nil, nil
	}
	defer a.done()
	return a.alarms.FindDue(ctx, a.store)
}

// Alarm runs one alarm pass: every due alarm is handed to its handler, then
// cron alarms move to their next instant and all others are deleted.
// A handler error does not stop the pass. A storage fault does and is
// returned. If the actor is destroyed mid-pass the remaining bookkeeping
// finds no table and does nothing.
func (a *Actor) Alarm(ctx context.Context) error {
	a.passMu.Lock()
	defer a.passMu.Unlock()
	if !a.acquire() {
		return nil
	}
	defer a.done()

	ctx = shared.WithActorID(ctx, a.name)
	if shared.TraceID(ctx) == "-" {
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	}
	ctx, span := otel.StartSpan(ctx, a.tracer, "alarms.pass", otel.AttrActorID.String(a.name))
	defer span.End()

	start := time.Now()
	due, err := a.alarms.FindDue(ctx, a.store)
	if err != nil {
		a.metrics.RecordPass(ctx, a.name, 0, time.Since(start), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(otel.AttrDueCount.Int(len(due)))

	for _, al := range due {
		if err := a.fire(ctx, al); err != nil {
			a.metrics.RecordPass(ctx, a.name, len(due), time.Since(start), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	a.metrics.RecordPass(ctx, a.name, len(due), time.Since(start), nil)
	return nil
}

// fire runs one due alarm and settles its row. Only storage faults are
// returned.
func (a *Actor) fire(ctx context.Context, al alarms.Alarm) error {
	ctx = shared.WithAlarmID(ctx, al.ID)
	ctx, span := otel.StartSpan(ctx, a.tracer, "alarms.fire",
		otel.AttrActorID.String(a.name),
		otel.AttrAlarmID.String(al.ID),
		otel.AttrCallback.String(al.Callback),
		otel.AttrIdentifier.String(al.Identifier),
	)
	defer span.End()
	logger := shared.Logger(ctx, a.logger)

	if h := a.handler(al.Callback); h == nil {
		logger.WarnContext(ctx, "no handler for alarm callback", "callback", al.Callback)
	} else if err := a.invoke(ctx, h, al); err != nil {
		span.RecordError(err)
		a.metrics.RecordFailure(ctx, a.name, al.Callback)
		a.publish(bus.TopicAlarmFailed, al, al.Time, err)
		logger.ErrorContext(ctx, "alarm handler failed", "callback", al.Callback, "error", err)
	} else {
		a.metrics.RecordFired(ctx, a.name, al.Callback)
		a.publish(bus.TopicAlarmFired, al, al.Time, nil)
		logger.InfoContext(ctx, "alarm fired", "callback", al.Callback, "identifier", al.Identifier)
	}

	if al.Type == alarms.TypeCron {
		next, err := cron.NextUnix(al.Cron, a.clock.Now())
		if err == nil {
			if err := a.alarms.Reschedule(ctx, a.store, al.ID, next); err != nil {
				return err
			}
			a.publish(bus.TopicAlarmRescheduled, al, next, nil)
			return nil
		}
		logger.ErrorContext(ctx, "dropping cron alarm with unusable expression", "cron", al.Cron, "error", err)
	}

	if err := a.alarms.Delete(ctx, a.store, al.ID); err != nil {
		return err
	}
	a.publish(bus.TopicAlarmDeleted, al, al.Time, nil)
	return nil
}

func (a *Actor) invoke(ctx context.Context, h Handler, al alarms.Alarm) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, a, al)
}

func (a *Actor) publish(topic string, al alarms.Alarm, at int64, err error) {
	ev := bus.AlarmEvent{
		ActorID:    a.name,
		AlarmID:    al.ID,
		Callback:   al.Callback,
		Identifier: al.Identifier,
		Time:       at,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.bus.Publish(topic, ev)
}

// Start begins the alarm loop in a background goroutine.
func (a *Actor) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil || a.destroyed {
		a.mu.Unlock()
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("alarm loop started", "max_sleep", a.maxSleep)
}

// Stop cancels the alarm loop and waits for it to exit.
func (a *Actor) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

func (a *Actor) loop(ctx context.Context) {
	defer a.wg.Done()

	for {
		wait := a.maxSleep
		if err := a.Alarm(ctx); err != nil {
			if ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "alarm pass failed", "error", err)
			}
			wait = min(wait, failedPassBackoff)
		} else {
			wait = a.sleepFor(ctx)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-a.quit:
			timer.Stop()
			return
		case <-a.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// sleepFor returns how long the loop may sleep before the next alarm is due,
// capped at maxSleep.
func (a *Actor) sleepFor(ctx context.Context) time.Duration {
	wait := a.maxSleep
	next, err := a.NextAlarm(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "find next alarm failed", "error", err)
		}
		return wait
	}
	// An alarm can come due between the pass and FindNext, in which case
	// FindNext skips it; looking for due rows afterwards closes that gap.
	if due, err := a.Due(ctx); err == nil && len(due) > 0 {
		return 0
	}
	if next == nil {
		return wait
	}
	if d := time.Unix(next.Time, 0).Sub(a.clock.Now()); d < wait {
		wait = d
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Destroy drops all of the actor's storage and stops its loop. The database
// file is removed once no operation is in flight, so calling Destroy from a
// Handler lets the running pass finish against the empty database.
func (a *Actor) Destroy(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("destroy actor %s: already closed", a.name)
	}
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	a.destroyed = true
	a.mu.Unlock()

	err := a.store.DropAll(ctx)
	a.quitOnce.Do(func() { close(a.quit) })

	a.mu.Lock()
	a.dropped = true
	release := a.inflight == 0 && !a.released
	if release {
		a.released = true
	}
	a.mu.Unlock()
	if release {
		a.removeFiles()
	}

	a.bus.Publish(bus.TopicActorDestroyed, bus.ActorDestroyedEvent{ActorID: a.name})
	a.logger.InfoContext(ctx, "actor destroyed")
	if err != nil {
		return fmt.Errorf("destroy actor %s: %w", a.name, err)
	}
	return nil
}

func (a *Actor) removeFiles() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close destroyed actor store", "error", err)
	}
	path := a.store.Path()
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("remove destroyed actor file", "path", p, "error", err)
		}
	}
}

// Close stops the loop and closes the database. It is a no-op after the
// actor has been destroyed and released.
func (a *Actor) Close() error {
	a.Stop()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.released || a.dropped {
		return nil
	}
	a.released = true
	return a.store.Close()
}
