package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/go-alarms/internal/actor"
	"github.com/basket/go-alarms/internal/alarms"
	"github.com/basket/go-alarms/internal/audit"
	"github.com/basket/go-alarms/internal/bus"
	"github.com/basket/go-alarms/internal/config"
	"github.com/basket/go-alarms/internal/otel"
	"github.com/basket/go-alarms/internal/shared"
	"github.com/basket/go-alarms/internal/telemetry"
)

func newRunCommand(_ *rootOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alarm loops of every actor in the data directory",
		Long: `Run the alarm loops of every actor in the data directory until interrupted.

Without an embedding program there are no application handlers, so every
alarm is logged as it fires. Changes to config.yaml reload the log level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "log to the log file only")
	return cmd
}

func runDaemon(ctx context.Context, quiet bool) error {
	s, err := openSession(quiet)
	if err != nil {
		return err
	}
	defer func() {
		_ = audit.Close()
		_ = s.closer.Close()
	}()
	logger := s.logger
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", s.cfg.Fingerprint())

	provider, err := otel.Init(ctx, s.cfg.OTel)
	if err != nil {
		return wrapExitError(ExitCommandError, "init telemetry", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		return wrapExitError(ExitCommandError, "init metrics", err)
	}

	eventBus := bus.New()
	rc := s.runtimeConfig(func(a *actor.Actor) {
		a.Handle("", logAlarm)
	})
	rc.Bus = eventBus
	rc.Metrics = metrics
	rc.Tracer = provider.Tracer
	runtime := actor.NewRuntime(rc)
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Warn("close runtime", "error", err)
		}
	}()

	if err := runtime.StartAll(ctx); err != nil {
		return err
	}
	logger.Info("startup phase", "phase", "actors_started", "dir", s.cfg.ActorsDir())

	watcher := config.NewWatcher(s.cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}

	events := eventBus.Subscribe("actor.")
	defer eventBus.Unsubscribe(events)

	current := s.cfg
	reloads := watcher.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested")
			return nil
		case ev, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			current = reloadConfig(ctx, current, ev)
		case ev := <-events.Ch():
			if destroyed, ok := ev.Payload.(bus.ActorDestroyedEvent); ok {
				audit.Record(audit.ActionDestroy, destroyed.ActorID, "", "daemon", "")
			}
		}
	}
}

// reloadConfig applies the parts of config.yaml that can change at runtime
// and returns the config now in effect.
func reloadConfig(ctx context.Context, current config.Config, ev config.ReloadEvent) config.Config {
	logger := shared.Logger(ctx, nil)
	next, err := config.Load()
	if err != nil {
		logger.Error("config reload failed", "path", ev.Path, "error", err)
		return current
	}
	if next.Fingerprint() == current.Fingerprint() {
		return current
	}
	telemetry.SetLevel(next.LogLevel)
	logger.Info("config reloaded", "fingerprint", next.Fingerprint(), "log_level", next.LogLevel)
	if next.ActorsDir() != current.ActorsDir() || next.MaxSleepSeconds != current.MaxSleepSeconds {
		logger.Warn("data_dir and max_sleep_seconds changes apply on restart")
	}
	return next
}

// logAlarm is the handler of a bare daemon: it records the alarm and succeeds.
func logAlarm(ctx context.Context, a *actor.Actor, al alarms.Alarm) error {
	shared.Logger(ctx, nil).InfoContext(ctx, "alarm",
		"actor", a.Name(),
		"callback", al.Callback,
		"identifier", al.Identifier,
		"type", string(al.Type),
		"payload", al.Payload,
	)
	return nil
}
