package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/go-alarms/internal/actor"
	"github.com/basket/go-alarms/internal/alarms"
	"github.com/basket/go-alarms/internal/config"
	"github.com/basket/go-alarms/internal/persistence"
	"github.com/basket/go-alarms/internal/tracking"
)

// probeName is the throwaway database used by the SQLite check. The leading
// dot keeps it out of actor listings.
const probeName = ".doctor-probe"

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkDataDir,
		checkDatabase,
		checkTracker,
		checkTelemetry,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsInit {
		return CheckResult{
			Name:    "Config",
			Status:  "WARN",
			Message: "config.yaml missing, using defaults",
			Detail:  "Run `alarmd init` to write one",
		}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir)),
		Detail:  cfg.Fingerprint(),
	}
}

func checkDataDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Data Directory", Status: "SKIP", Message: "Config missing"}
	}
	dir := cfg.ActorsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{Name: "Data Directory", Status: "FAIL", Message: fmt.Sprintf("Cannot create %s: %v", dir, err)}
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Data Directory", Status: "FAIL", Message: fmt.Sprintf("%s unwritable: %v", dir, err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Data Directory", Status: "PASS", Message: fmt.Sprintf("%s writable", dir)}
}

// checkDatabase round-trips an alarm through a scratch actor database, then
// drops its tables and confirms reads degrade to empty.
func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	path := actor.DBPath(cfg.ActorsDir(), probeName)
	defer func() {
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			os.Remove(p)
		}
	}()

	store, err := persistence.Open(path)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	s := alarms.New(nil)
	if err := s.EnsureSchema(ctx, store); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Schema failed: %v", err)}
	}
	if err := s.Insert(ctx, store, alarms.Alarm{ID: "probe", Callback: "probe", Time: time.Now().Add(time.Hour).Unix()}); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Write failed: %v", err)}
	}
	next, err := s.FindNext(ctx, store)
	if err != nil || next == nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Read failed: next=%v err=%v", next, err)}
	}
	if err := store.DropAll(ctx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Drop failed: %v", err)}
	}
	if next, err := s.FindNext(ctx, store); err != nil || next != nil {
		return CheckResult{
			Name:    "Database",
			Status:  "FAIL",
			Message: "Missing-table reads are not tolerated",
			Detail:  fmt.Sprintf("next=%v err=%v", next, err),
		}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "SQLite read/write and missing-table handling OK"}
}

func checkTracker(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Tracker", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Tracking.Enabled {
		return CheckResult{Name: "Tracker", Status: "WARN", Message: "Tracking disabled"}
	}
	path := actor.DBPath(cfg.ActorsDir(), cfg.Tracking.TrackerName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return CheckResult{Name: "Tracker", Status: "WARN", Message: "No tracker database yet", Detail: path}
	}

	store, err := persistence.Open(path)
	if err != nil {
		return CheckResult{Name: "Tracker", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	rows, err := store.Query(ctx, `SELECT COUNT(*) AS n FROM `+tracking.Table+`;`)
	switch {
	case errors.Is(err, persistence.ErrMissingTable):
		return CheckResult{Name: "Tracker", Status: "WARN", Message: "Tracker registry table missing", Detail: path}
	case err != nil:
		return CheckResult{Name: "Tracker", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	var n any
	if len(rows) > 0 {
		n = rows[0]["n"]
	}
	return CheckResult{Name: "Tracker", Status: "PASS", Message: fmt.Sprintf("%v actors tracked", n)}
}

// checkTelemetry resolves the OTLP endpoint when export is enabled.
func checkTelemetry(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Telemetry", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.OTel.Enabled {
		return CheckResult{Name: "Telemetry", Status: "SKIP", Message: "OpenTelemetry disabled"}
	}
	switch cfg.OTel.Exporter {
	case "stdout", "none":
		return CheckResult{Name: "Telemetry", Status: "PASS", Message: fmt.Sprintf("Exporter %s needs no network", cfg.OTel.Exporter)}
	case "otlp-http", "":
	default:
		return CheckResult{Name: "Telemetry", Status: "FAIL", Message: fmt.Sprintf("Unknown exporter %q", cfg.OTel.Exporter)}
	}

	endpoint := cfg.OTel.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Telemetry",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("endpoint=%s, latency=%dms", endpoint, latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Telemetry",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("endpoint=%s, addresses=%v", endpoint, addrs),
	}
}
