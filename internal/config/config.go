package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	EnvDB       = "DATAMONITOR_DB"
	EnvConfig   = "DATAMONITOR_CONFIG"
	EnvInterval = "DATAMONITOR_INTERVAL"

	DefaultDBPath = "/var/lib/datamonitor/usage.db"
)

type Config struct {
	DBPath           string `yaml:"db_path"`
	ManifestPath     string `yaml:"manifest_path"`
	PackagesListPath string `yaml:"packages_list_path"`
	// ProcessRegistry resolves owners that no manifest lists from the
	// processes currently running as that UID.
	ProcessRegistry bool `yaml:"process_registry"`

	Recorder  RecorderConfig  `yaml:"recorder"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type RecorderConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Retention        time.Duration `yaml:"retention"`
	QtaguidPath      string        `yaml:"qtaguid_path"`
	CellularPatterns []string      `yaml:"cellular_patterns"`
	WLANPatterns     []string      `yaml:"wlan_patterns"`
	Capture          CaptureConfig `yaml:"capture"`
	CPULimit         float64       `yaml:"cpu_limit"`
	MemoryLimitMB    int           `yaml:"memory_limit_mb"`
}

type CaptureConfig struct {
	Devices []string `yaml:"devices"`
	Filter  string   `yaml:"filter"`
	// RescanInterval is how often the socket owner table is refreshed.
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

type DashboardConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

func Default() *Config {
	return &Config{
		DBPath:           DefaultDBPath,
		PackagesListPath: "/data/system/packages.list",
		ProcessRegistry:  true,
		Recorder: RecorderConfig{
			Interval:    30 * time.Second,
			Retention:   31 * 24 * time.Hour,
			QtaguidPath: "/proc/net/xt_qtaguid/stats",
		},
		Dashboard: DashboardConfig{
			RefreshInterval: time.Minute,
		},
	}
}

// DefaultPath returns ~/.config/datamonitor/config.yaml, or the
// DATAMONITOR_CONFIG override.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "datamonitor", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error when
// path is the default location.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDB); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvInterval); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvInterval, err)
		}
		c.Recorder.Interval = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path must be set")
	}
	if c.Recorder.Interval < time.Second {
		return fmt.Errorf("recorder.interval %s is below 1s", c.Recorder.Interval)
	}
	if c.Recorder.Retention < 0 {
		return fmt.Errorf("recorder.retention %s is negative", c.Recorder.Retention)
	}
	if c.Recorder.Retention > 0 && c.Recorder.Retention < c.Recorder.Interval {
		return fmt.Errorf("recorder.retention %s is shorter than the interval", c.Recorder.Retention)
	}
	if c.Recorder.CPULimit < 0 || c.Recorder.MemoryLimitMB < 0 {
		return errors.New("recorder limits must not be negative")
	}
	if c.Dashboard.RefreshInterval < 0 {
		return fmt.Errorf("dashboard.refresh_interval %s is negative", c.Dashboard.RefreshInterval)
	}
	for _, p := range slices.Concat(c.Recorder.CellularPatterns, c.Recorder.WLANPatterns) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("interface pattern %q: %w", p, err)
		}
	}
	return nil
}
