package telemetry

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lastEntry(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		t.Fatalf("expected at least one log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}
	return entry
}

func TestNewLogger_EmitsStructuredSchema(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("alarm fired", "actor", "room-1", "alarm_id", "a1")

	raw, err := os.ReadFile(filepath.Join(home, "logs", "alarmd.jsonl"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	entry := lastEntry(t, raw)
	for _, key := range []string{"timestamp", "level", "msg", "component", "trace_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing required key %q in log entry: %#v", key, entry)
		}
	}
	if entry["component"] != "alarmd" {
		t.Fatalf("expected component=alarmd, got %#v", entry["component"])
	}
	if entry["alarm_id"] != "a1" {
		t.Fatalf("expected alarm_id propagation, got %#v", entry["alarm_id"])
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	SetLevel("info")
	logger := NewLoggerTo(&buf)

	logger.Info("scheduled",
		"api_key", "abc123",
		"payload", `{"channel":"ops","token":"s3cr3t-value"}`,
	)

	entry := lastEntry(t, buf.Bytes())
	if entry["api_key"] != "[REDACTED]" {
		t.Fatalf("expected api_key redaction, got %#v", entry["api_key"])
	}
	payload, _ := entry["payload"].(string)
	if strings.Contains(payload, "s3cr3t-value") || !strings.Contains(payload, `"channel":"ops"`) {
		t.Fatalf("expected token masked and channel kept, got %q", payload)
	}
}

func TestSetLevel_AppliesToExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	SetLevel("warn")
	logger := NewLoggerTo(&buf)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn, got %q", buf.String())
	}

	SetLevel("debug")
	defer SetLevel("info")
	logger.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected debug line after level change, got %q", buf.String())
	}
}
