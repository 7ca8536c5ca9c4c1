package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/go-alarms/internal/config"
	"github.com/basket/go-alarms/internal/doctor"
)

func newDoctorCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A broken config is itself a finding, so keep going.
			cfg, err := config.Load()
			var cfgPtr *config.Config
			if err == nil {
				cfgPtr = &cfg
			}

			diag := doctor.Run(cmd.Context(), cfgPtr, Version)
			if err := root.printer(cmd).ok(diag, func(w io.Writer) {
				renderDiagnosis(w, diag, err)
			}); err != nil {
				return err
			}
			if diag.Failed() {
				return &ExitError{Code: ExitFailure, Message: "doctor: one or more checks failed"}
			}
			return nil
		},
	}
}

func renderDiagnosis(w io.Writer, diag doctor.Diagnosis, loadErr error) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("alarmd doctor (%s)", diag.Timestamp.Format(time.RFC3339))))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("System: %s/%s (%s) %s",
		diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)))
	if loadErr != nil {
		fmt.Fprintf(w, "%s\n", failStyle.Render(fmt.Sprintf("config error: %v", loadErr)))
	}
	for _, res := range diag.Results {
		fmt.Fprintf(w, "%s %-15s %s\n", statusLabel(res.Status), res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(w, "     %s\n", dimStyle.Render(res.Detail))
		}
	}
}
