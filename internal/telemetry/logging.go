// Package telemetry builds the process logger.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/go-alarms/internal/shared"
)

// level is shared by every logger built here so a config reload can change it.
var level = new(slog.LevelVar)

// NewLogger returns a JSON logger writing to <homeDir>/logs/alarmd.jsonl and,
// unless quiet, to stdout. The returned Closer closes the log file.
func NewLogger(homeDir, lvl string, quiet bool) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(filepath.Join(logDir, "alarmd.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	SetLevel(lvl)
	var w io.Writer = file
	if !quiet {
		w = io.MultiWriter(os.Stdout, file)
	}
	return NewLoggerTo(w), file, nil
}

// NewLoggerTo returns a logger with the standard handler writing to w.
func NewLoggerTo(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler).With("component", "alarmd", "trace_id", "-")
}

// SetLevel changes the level of every logger built by this package.
func SetLevel(lvl string) {
	level.Set(parseLevel(lvl))
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
	}
	if shared.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if v := a.Value.String(); v != "" {
			if redacted := shared.Redact(v); redacted != v {
				return slog.String(a.Key, redacted)
			}
		}
	}
	return a
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
