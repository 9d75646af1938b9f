package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv(EnvDB, "")
	t.Setenv(EnvInterval, "")
	path := writeConfig(t, `db_path: /tmp/usage.db
manifest_path: /etc/datamonitor/apps.yaml
recorder:
  interval: 10s
  retention: 48h
  wlan_patterns: ["wlp*"]
  capture:
    devices: [wlp2s0]
dashboard:
  refresh_interval: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/usage.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Recorder.Interval != 10*time.Second || cfg.Recorder.Retention != 48*time.Hour {
		t.Errorf("recorder = %+v", cfg.Recorder)
	}
	if len(cfg.Recorder.WLANPatterns) != 1 || cfg.Recorder.WLANPatterns[0] != "wlp*" {
		t.Errorf("WLANPatterns = %v", cfg.Recorder.WLANPatterns)
	}
	if cfg.Recorder.QtaguidPath == "" {
		t.Error("unset fields should keep their defaults")
	}
	if cfg.Dashboard.RefreshInterval != 5*time.Second {
		t.Errorf("RefreshInterval = %s", cfg.Dashboard.RefreshInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDB, "/env/usage.db")
	t.Setenv(EnvInterval, "2m")

	cfg, err := Load(writeConfig(t, "db_path: /file/usage.db\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/env/usage.db" {
		t.Errorf("DBPath = %q, want env value", cfg.DBPath)
	}
	if cfg.Recorder.Interval != 2*time.Minute {
		t.Errorf("Interval = %s, want 2m", cfg.Recorder.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv(EnvDB, "")
	t.Setenv(EnvInterval, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing default config should not fail: %v", err)
	}
	if cfg.DBPath != DefaultDBPath {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing explicit config should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no db", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"short interval", func(c *Config) { c.Recorder.Interval = time.Millisecond }, "interval"},
		{"negative retention", func(c *Config) { c.Recorder.Retention = -time.Hour }, "negative"},
		{"retention below interval", func(c *Config) { c.Recorder.Retention = time.Second }, "shorter"},
		{"bad pattern", func(c *Config) { c.Recorder.CellularPatterns = []string{"rmnet["} }, "pattern"},
		{"negative limit", func(c *Config) { c.Recorder.MemoryLimitMB = -1 }, "limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Fatalf("error = %v, want containing %q", err, tt.errMsg)
			}
		})
	}
}
