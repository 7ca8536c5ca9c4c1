package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/basket/go-alarms/internal/actor"
	"github.com/basket/go-alarms/internal/audit"
)

func newDestroyCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <actor>",
		Short: "Drop all of an actor's storage and remove it from tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := actor.ValidateName(name); err != nil {
				return wrapExitError(ExitCommandError, "invalid actor", err)
			}
			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.runtime.Destroy(cmd.Context(), name); err != nil {
				return err
			}
			audit.Record(audit.ActionDestroy, name, "", "cli", "")
			return root.printer(cmd).ok(map[string]string{"actor": name}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", headerStyle.Render("destroyed"), name)
			})
		},
	}
}

type actorsView struct {
	Actors  []string `json:"actors"`
	Tracked []string `json:"tracked,omitempty"`
}

func newActorsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actors",
		Short: "List actors with a database in the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.close()

			var view actorsView
			if view.Actors, err = s.runtime.Names(); err != nil {
				return err
			}
			if view.Tracked, err = s.runtime.Tracked(cmd.Context()); err != nil {
				return err
			}
			return root.printer(cmd).ok(view, func(w io.Writer) {
				fmt.Fprintln(w, headerStyle.Render(plural(len(view.Actors), "actor")))
				tracked := make(map[string]bool, len(view.Tracked))
				for _, n := range view.Tracked {
					tracked[n] = true
				}
				for _, n := range view.Actors {
					mark := ""
					if s.cfg.Tracking.Enabled && !tracked[n] {
						mark = dimStyle.Render("  (untracked)")
					}
					fmt.Fprintf(w, "  %s%s\n", n, mark)
				}
			})
		},
	}
}
