package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/basket/go-alarms/internal/config"
)

func newInitCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml into the alarmd home",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home := config.HomeDir()
			created, err := config.WriteDefault(home)
			if err != nil {
				return wrapExitError(ExitCommandError, "write config", err)
			}
			path := config.ConfigPath(home)
			return root.printer(cmd).ok(map[string]any{"path": path, "created": created}, func(w io.Writer) {
				if created {
					fmt.Fprintf(w, "%s %s\n", headerStyle.Render("wrote"), path)
					return
				}
				fmt.Fprintf(w, "%s already exists\n", path)
			})
		},
	}
}
