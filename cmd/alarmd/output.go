package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/basket/go-alarms/internal/alarms"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a check or operation reported failure
	ExitCommandError = 2 // bad usage or unusable environment
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func wrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitCode extracts the exit code from an error. Plain errors exit 1.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// response is the JSON envelope of every command.
type response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// printer renders command results as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

func (p *printer) json() bool { return p.format == "json" }

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ok writes data as JSON, or calls text to render it for humans.
func (p *printer) ok(data any, text func(io.Writer)) error {
	if p.json() {
		return p.encode(response{Status: "ok", Data: data})
	}
	text(p.w)
	return nil
}

func (p *printer) fail(err error) {
	if p.json() {
		_ = p.encode(response{Status: "error", Error: err.Error()})
		return
	}
	fmt.Fprintln(p.w, failStyle.Render("Error: ")+err.Error())
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func alarmTable(list []alarms.Alarm) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "TIME", "TYPE", "CALLBACK", "IDENTIFIER", "SCHEDULE")
	for _, a := range list {
		sched := ""
		switch a.Type {
		case alarms.TypeCron:
			sched = a.Cron
		case alarms.TypeDelayed:
			sched = (time.Duration(a.DelaySeconds) * time.Second).String()
		}
		t.Row(a.ID, formatUnix(a.Time), string(a.Type), a.Callback, a.Identifier, sched)
	}
	return t.Render()
}

func statusLabel(status string) string {
	label := fmt.Sprintf("%-4s", status)
	switch status {
	case "PASS":
		return passStyle.Render(label)
	case "WARN":
		return warnStyle.Render(label)
	case "FAIL":
		return failStyle.Render(label)
	default:
		return dimStyle.Render(label)
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
