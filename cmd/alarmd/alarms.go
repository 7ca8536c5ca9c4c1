package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/go-alarms/internal/actor"
	"github.com/basket/go-alarms/internal/alarms"
	"github.com/basket/go-alarms/internal/audit"
	"github.com/basket/go-alarms/internal/shared"
)

type scheduleOptions struct {
	At         string
	In         time.Duration
	Cron       string
	Callback   string
	Payload    string
	Identifier string
	ID         string
}

func newScheduleCommand(root *rootOptions) *cobra.Command {
	opts := &scheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule <actor>",
		Short: "Store a new alarm for an actor",
		Long: `Store a new alarm for an actor. Exactly one of --at, --in or --cron is required.

Examples:
  alarmd schedule room-1 --in 30s --callback ping
  alarmd schedule room-1 --at 2026-01-02T15:04:05Z --callback report --payload '{"to":"ops"}'
  alarmd schedule room-1 --cron "*/5 * * * *" --callback sweep --identifier sweeper`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var al alarms.Alarm
			err := withActor(cmd.Context(), args[0], func(a *actor.Actor) error {
				var sopts []actor.ScheduleOption
				if opts.Identifier != "" {
					sopts = append(sopts, actor.WithIdentifier(opts.Identifier))
				}
				if opts.ID != "" {
					sopts = append(sopts, actor.WithID(opts.ID))
				}
				var err error
				switch {
				case opts.Cron != "":
					al, err = a.ScheduleCron(cmd.Context(), opts.Cron, opts.Callback, opts.Payload, sopts...)
				case opts.At != "":
					at, perr := time.Parse(time.RFC3339, opts.At)
					if perr != nil {
						return wrapExitError(ExitCommandError, "invalid --at", perr)
					}
					al, err = a.Schedule(cmd.Context(), at, opts.Callback, opts.Payload, sopts...)
				default:
					al, err = a.ScheduleDelay(cmd.Context(), opts.In, opts.Callback, opts.Payload, sopts...)
				}
				return err
			})
			if err != nil {
				return err
			}
			return root.printer(cmd).ok(al, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s on %s at %s\n",
					headerStyle.Render("scheduled"), al.ID, args[0], formatUnix(al.Time))
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "fire time (RFC3339)")
	cmd.Flags().DurationVar(&opts.In, "in", 0, "fire after this delay")
	cmd.Flags().StringVar(&opts.Cron, "cron", "", "recurring 5-field cron expression")
	cmd.Flags().StringVar(&opts.Callback, "callback", "", "callback name the handler is registered under")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "opaque payload passed to the handler")
	cmd.Flags().StringVar(&opts.Identifier, "identifier", "", "alarm slot identifier")
	cmd.Flags().StringVar(&opts.ID, "id", "", "alarm id (generated when empty)")
	_ = cmd.MarkFlagRequired("callback")
	cmd.MarkFlagsMutuallyExclusive("at", "in", "cron")
	cmd.MarkFlagsOneRequired("at", "in", "cron")
	return cmd
}

func newNextCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next <actor>",
		Short: "Show the earliest alarm still in the future",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var next *alarms.Next
			err := withExistingActor(cmd.Context(), args[0], func(a *actor.Actor) error {
				var err error
				next, err = a.NextAlarm(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return root.printer(cmd).ok(next, func(w io.Writer) {
				if next == nil {
					fmt.Fprintln(w, dimStyle.Render("no upcoming alarms"))
					return
				}
				fmt.Fprintf(w, "%s  %s\n", formatUnix(next.Time), next.Identifier)
			})
		},
	}
}

func newDueCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "due <actor>",
		Short: "List alarms that are due now without firing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var due []alarms.Alarm
			err := withExistingActor(cmd.Context(), args[0], func(a *actor.Actor) error {
				var err error
				due, err = a.Due(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return root.printer(cmd).ok(redactAlarms(due), func(w io.Writer) {
				fmt.Fprintln(w, headerStyle.Render(plural(len(due), "due alarm")))
				if len(due) > 0 {
					fmt.Fprintln(w, alarmTable(due))
				}
			})
		},
	}
}

func newListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <actor>",
		Short: "List every stored alarm of an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []alarms.Alarm
			err := withExistingActor(cmd.Context(), args[0], func(a *actor.Actor) error {
				var err error
				list, err = a.List(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			return root.printer(cmd).ok(redactAlarms(list), func(w io.Writer) {
				fmt.Fprintln(w, headerStyle.Render(plural(len(list), "alarm")))
				if len(list) > 0 {
					fmt.Fprintln(w, alarmTable(list))
				}
			})
		},
	}
}

func newCancelCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <actor> <alarm-id>",
		Short: "Delete an alarm",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withExistingActor(cmd.Context(), args[0], func(a *actor.Actor) error {
				al, err := a.Get(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				if err := a.Cancel(cmd.Context(), args[1]); err != nil {
					return err
				}
				if al != nil {
					audit.Record(audit.ActionCancel, args[0], al.ID, "cli",
						fmt.Sprintf("callback=%s payload=%s", al.Callback, al.Payload))
				}
				return nil
			})
			if err != nil {
				return err
			}
			return root.printer(cmd).ok(map[string]string{"actor": args[0], "id": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s on %s\n", headerStyle.Render("cancelled"), args[1], args[0])
			})
		},
	}
}

// redactAlarms masks secrets in payloads before they are printed.
func redactAlarms(list []alarms.Alarm) []alarms.Alarm {
	out := make([]alarms.Alarm, len(list))
	for i, a := range list {
		a.Payload = shared.Redact(a.Payload)
		out[i] = a
	}
	return out
}
