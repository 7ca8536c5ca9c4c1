package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-alarms/internal/bus"
	"github.com/basket/go-alarms/internal/clock"
	"github.com/basket/go-alarms/internal/otel"
	"github.com/basket/go-alarms/internal/persistence"
	"github.com/basket/go-alarms/internal/tracking"
)

var (
	// ErrNoActor reports an actor with no database in the data directory.
	ErrNoActor = errors.New("no such actor")
	// ErrRuntimeClosed is returned by every Runtime method after Close.
	ErrRuntimeClosed = errors.New("runtime closed")
)

// RuntimeConfig holds the dependencies shared by every actor of a runtime.
type RuntimeConfig struct {
	Dir      string
	Clock    clock.Clock
	Logger   *slog.Logger
	Bus      *bus.Bus
	Metrics  *otel.Metrics
	Tracer   trace.Tracer
	MaxSleep time.Duration

	// TrackerName is the actor whose database holds the registry of live
	// actors. Empty disables tracking.
	TrackerName string

	// Setup runs on every actor right after it is opened, before it is
	// returned or started. Use it to register handlers.
	Setup func(*Actor)
}

// Runtime opens actors lazily from a data directory and keeps them open
// until Close.
type Runtime struct {
	cfg     RuntimeConfig
	logger  *slog.Logger
	cleaner *tracking.Cleaner

	mu      sync.Mutex
	actors  map[string]*Actor
	tracker *persistence.Store
	ctx     context.Context // set by StartAll; new actors start in it
	closed  bool
}

func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		cleaner: tracking.NewCleaner(logger, cfg.Metrics),
		actors:  make(map[string]*Actor),
	}
}

// Actor returns the open actor called name, opening it on first use. New
// actors are registered with the tracker when tracking is enabled.
func (r *Runtime) Actor(ctx context.Context, name string) (*Actor, error) {
	if r.cfg.TrackerName != "" && name == r.cfg.TrackerName {
		return nil, fmt.Errorf("actor name %q is reserved for the tracker", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if a, ok := r.actors[name]; ok {
		return a, nil
	}
	return r.openLocked(ctx, name, true)
}

// Existing returns actor name only if its database already exists. It never
// creates storage or registers the name with the tracker; a missing database
// yields ErrNoActor.
func (r *Runtime) Existing(ctx context.Context, name string) (*Actor, error) {
	if r.cfg.TrackerName != "" && name == r.cfg.TrackerName {
		return nil, fmt.Errorf("actor name %q is reserved for the tracker", name)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if a, ok := r.actors[name]; ok {
		return a, nil
	}
	if _, err := os.Stat(DBPath(r.cfg.Dir, name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoActor, name)
		}
		return nil, fmt.Errorf("stat actor %s: %w", name, err)
	}
	return r.openLocked(ctx, name, false)
}

// openLocked opens, sets up and caches an actor. Callers hold r.mu.
func (r *Runtime) openLocked(ctx context.Context, name string, register bool) (*Actor, error) {
	a, err := Open(ctx, Config{
		Name:     name,
		Dir:      r.cfg.Dir,
		Clock:    r.cfg.Clock,
		Logger:   r.logger,
		Bus:      r.cfg.Bus,
		Metrics:  r.cfg.Metrics,
		Tracer:   r.cfg.Tracer,
		MaxSleep: r.cfg.MaxSleep,
	})
	if err != nil {
		return nil, err
	}
	if register {
		if err := r.track(ctx, name); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if r.cfg.Setup != nil {
		r.cfg.Setup(a)
	}
	r.actors[name] = a
	r.cfg.Metrics.ActorOpened(ctx)
	if r.ctx != nil {
		a.Start(r.ctx)
	}
	return a, nil
}

// trackerLocked opens the tracker database. Callers hold r.mu.
func (r *Runtime) trackerLocked(ctx context.Context) (*persistence.Store, error) {
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if r.tracker != nil {
		return r.tracker, nil
	}
	store, err := persistence.Open(DBPath(r.cfg.Dir, r.cfg.TrackerName))
	if err != nil {
		return nil, fmt.Errorf("open tracker: %w", err)
	}
	if err := tracking.EnsureSchema(ctx, store); err != nil {
		_ = store.Close()
		return nil, err
	}
	r.tracker = store
	return store, nil
}

func (r *Runtime) track(ctx context.Context, name string) error {
	if r.cfg.TrackerName == "" {
		return nil
	}
	tracker, err := r.trackerLocked(ctx)
	if err != nil {
		return err
	}
	return tracking.Register(ctx, tracker, name, r.cfg.Clock.Now())
}

// Destroy drops actor name's storage and removes it from the tracker. The
// tracker cleanup never fails the call. An actor without a database only has
// its stale tracker entry removed.
func (r *Runtime) Destroy(ctx context.Context, name string) error {
	a, err := r.Existing(ctx, name)
	if errors.Is(err, ErrNoActor) {
		r.untrack(ctx, name)
		return nil
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.actors, name)
	r.mu.Unlock()

	err = a.Destroy(ctx)
	a.Stop()
	r.cfg.Metrics.ActorClosed(ctx)
	r.untrack(ctx, name)
	return err
}

// Forget is the in-handler form of Destroy: it only unregisters a, which
// has already been destroyed by its own handler, without waiting on its loop.
func (r *Runtime) Forget(ctx context.Context, a *Actor) {
	r.mu.Lock()
	if cur, ok := r.actors[a.Name()]; ok && cur == a {
		delete(r.actors, a.Name())
		r.mu.Unlock()
		r.cfg.Metrics.ActorClosed(ctx)
	} else {
		r.mu.Unlock()
	}
	r.untrack(ctx, a.Name())
}

func (r *Runtime) untrack(ctx context.Context, name string) {
	if r.cfg.TrackerName == "" {
		return
	}
	r.mu.Lock()
	tracker, err := r.trackerLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to open tracker", "actor", name, "error", err)
		return
	}
	r.cleaner.RemoveFromTracking(ctx, tracker, name)
}

// Names lists the actors that have a database in the data directory.
func (r *Runtime) Names() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list actors: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".db")
		if name == r.cfg.TrackerName || ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Tracked lists the actors recorded in the tracker registry.
func (r *Runtime) Tracked(ctx context.Context) ([]string, error) {
	if r.cfg.TrackerName == "" {
		return nil, nil
	}
	r.mu.Lock()
	tracker, err := r.trackerLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return tracking.Tracked(ctx, tracker)
}

// StartAll opens every actor found in the data directory and starts its
// loop. Actors opened later start automatically.
func (r *Runtime) StartAll(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	r.ctx = ctx
	running := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		running = append(running, a)
	}
	r.mu.Unlock()
	for _, a := range running {
		a.Start(ctx)
	}

	names, err := r.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := r.Actor(ctx, name); err != nil {
			return err
		}
	}
	r.logger.Info("actors started", "count", len(names), "dir", r.cfg.Dir)
	return nil
}

// Close stops and closes every open actor and the tracker. The runtime is
// unusable afterwards.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closed = true
	actors := r.actors
	r.actors = make(map[string]*Actor)
	tracker := r.tracker
	r.tracker = nil
	r.ctx = nil
	r.mu.Unlock()

	var errs []error
	for _, a := range actors {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close actor %s: %w", a.Name(), err))
		}
		r.cfg.Metrics.ActorClosed(context.Background())
	}
	if tracker != nil {
		if err := tracker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tracker: %w", err))
		}
	}
	return errors.Join(errs...)
}
