// Package audit appends a record of destructive operations (actor destroys,
// alarm cancels) to <home>/logs/audit.jsonl.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/go-alarms/internal/shared"
)

// Actions recorded by the CLI and daemon.
const (
	ActionDestroy = "actor.destroy"
	ActionCancel  = "alarm.cancel"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	Target    string `json:"target,omitempty"`
	Source    string `json:"source"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu    sync.Mutex
	file  *os.File
	count atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Count returns the number of entries recorded since startup.
func Count() int64 {
	return count.Load()
}

// Record appends one entry. Before Init, entries are only counted.
func Record(action, actor, target, source, detail string) {
	count.Add(1)
	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	b, err := json.Marshal(entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		Actor:     actor,
		Target:    target,
		Source:    source,
		Detail:    detail,
	})
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
