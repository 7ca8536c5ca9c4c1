package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/go-alarms/internal/otel"
)

// TrackingConfig controls the shared tracker database that records which
// actors exist.
type TrackingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TrackerName string `yaml:"tracker_name"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// DataDir holds one SQLite file per actor. Relative paths resolve
	// against HomeDir.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	// MaxSleepSeconds bounds a single alarm loop sleep so clock jumps and
	// out-of-band writes are picked up.
	MaxSleepSeconds int `yaml:"max_sleep_seconds"`

	Tracking TrackingConfig `yaml:"tracking"`
	OTel     otel.Config    `yaml:"otel"`

	// NeedsInit is set when config.yaml does not exist yet.
	NeedsInit bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "data=%s|log=%s|sleep=%d|tracking=%t:%s|otel=%t:%s",
		c.DataDir, c.LogLevel, c.MaxSleepSeconds,
		c.Tracking.Enabled, c.Tracking.TrackerName,
		c.OTel.Enabled, c.OTel.Exporter)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// ActorsDir returns the absolute directory holding actor databases.
func (c Config) ActorsDir() string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(c.HomeDir, c.DataDir)
}

func defaultConfig() Config {
	return Config{
		DataDir:         "actors",
		LogLevel:        "info",
		MaxSleepSeconds: 60,
		Tracking: TrackingConfig{
			Enabled:     true,
			TrackerName: "_tracker",
		},
		OTel: otel.Config{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "alarmd",
			SampleRate:  1.0,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("ALARMD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".alarmd")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create alarmd home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsInit = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WriteDefault writes the default config.yaml into homeDir unless one
// already exists.
func WriteDefault(homeDir string) (bool, error) {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return false, fmt.Errorf("create alarmd home: %w", err)
	}
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return false, fmt.Errorf("marshal config.yaml: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "actors"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxSleepSeconds <= 0 {
		cfg.MaxSleepSeconds = 60
	}
	if strings.TrimSpace(cfg.Tracking.TrackerName) == "" {
		cfg.Tracking.TrackerName = "_tracker"
	}
}

func validate(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn or error)", cfg.LogLevel)
	}
	if strings.ContainsAny(cfg.Tracking.TrackerName, `/\`) {
		return fmt.Errorf("invalid tracking.tracker_name %q: must not contain path separators", cfg.Tracking.TrackerName)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ALARMD_DATA_DIR"); raw != "" {
		cfg.DataDir = raw
	}
	if raw := os.Getenv("ALARMD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ALARMD_MAX_SLEEP_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MaxSleepSeconds = v
		}
	}
	if raw := os.Getenv("ALARMD_TRACKING_ENABLED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Tracking.Enabled = v
		}
	}
}
