package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/go-alarms/internal/actor"
	"github.com/basket/go-alarms/internal/audit"
	"github.com/basket/go-alarms/internal/config"
	"github.com/basket/go-alarms/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

var validFormats = []string{"text", "json"}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Format string
	Home   string
}

func defaultFormat(w io.Writer) string {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "text"
	}
	return "json"
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "alarmd",
		Short:         "Per-actor alarm scheduler",
		Long:          "alarmd stores alarms per actor in SQLite and fires them through registered callbacks.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return wrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats), nil)
			}
			if opts.Home != "" {
				return os.Setenv("ALARMD_HOME", opts.Home)
			}
			return nil
		},
	}
	cmd.SetOut(stdout)

	cmd.PersistentFlags().StringVar(&opts.Format, "format", defaultFormat(stdout), "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Home, "home", "", "alarmd home directory (overrides ALARMD_HOME)")

	cmd.AddCommand(
		newInitCommand(opts),
		newRunCommand(opts),
		newScheduleCommand(opts),
		newNextCommand(opts),
		newDueCommand(opts),
		newListCommand(opts),
		newCancelCommand(opts),
		newDestroyCommand(opts),
		newActorsCommand(opts),
		newDoctorCommand(opts),
	)
	return cmd
}

func (o *rootOptions) printer(cmd *cobra.Command) *printer {
	return &printer{format: o.Format, w: cmd.OutOrStdout()}
}

// session is what one-shot commands work with: loaded config, a file-only
// logger and a runtime over the data directory.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	runtime *actor.Runtime
	closer  io.Closer
}

func openSession(quiet bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "load config", err)
	}
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "init logger", err)
	}
	if err := audit.Init(cfg.HomeDir); err != nil {
		_ = closer.Close()
		return nil, wrapExitError(ExitCommandError, "init audit", err)
	}
	s := &session{cfg: cfg, logger: logger, closer: closer}
	s.runtime = actor.NewRuntime(s.runtimeConfig(nil))
	return s, nil
}

func (s *session) runtimeConfig(setup func(*actor.Actor)) actor.RuntimeConfig {
	rc := actor.RuntimeConfig{
		Dir:      s.cfg.ActorsDir(),
		Logger:   s.logger,
		MaxSleep: secondsToDuration(s.cfg.MaxSleepSeconds),
		Setup:    setup,
	}
	if s.cfg.Tracking.Enabled {
		rc.TrackerName = s.cfg.Tracking.TrackerName
	}
	return rc
}

func (s *session) close() {
	if err := s.runtime.Close(); err != nil {
		s.logger.Warn("close runtime", "error", err)
	}
	_ = audit.Close()
	_ = s.closer.Close()
}

// withActor opens the named actor for the duration of fn, creating it and
// registering it with the tracker on first use.
func withActor(ctx context.Context, name string, fn func(*actor.Actor) error) error {
	return openActor(ctx, name, true, fn)
}

// withExistingActor runs fn only when the named actor already has storage.
// A missing actor is not an error: fn is skipped and nothing is created.
func withExistingActor(ctx context.Context, name string, fn func(*actor.Actor) error) error {
	return openActor(ctx, name, false, fn)
}

func openActor(ctx context.Context, name string, create bool, fn func(*actor.Actor) error) error {
	if err := actor.ValidateName(name); err != nil {
		return wrapExitError(ExitCommandError, "invalid actor", err)
	}
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.close()

	var a *actor.Actor
	if create {
		a, err = s.runtime.Actor(ctx, name)
	} else {
		a, err = s.runtime.Existing(ctx, name)
		if errors.Is(err, actor.ErrNoActor) {
			return nil
		}
	}
	if err != nil {
		return err
	}
	return fn(a)
}
