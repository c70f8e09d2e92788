package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/logging"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.Indexer.PollInterval.Duration != 5*time.Second || !cfg.Indexer.Acknowledge {
		t.Errorf("unexpected indexer defaults %+v", cfg.Indexer)
	}
	if cfg.LogLevel() != logging.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "indexkit.toml", `
backend = "sqlite"

[sqlite]
path = "/var/lib/indexkit/tasks.db"

[indexer]
name = "search"
poll_interval = "250ms"
lookback = "2s"
acknowledge = false
batch_limit = 50

[log]
level = "debug"

[telemetry]
endpoint = "localhost:4317"
insecure = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendSQLite || cfg.SQLite.Path != "/var/lib/indexkit/tasks.db" {
		t.Errorf("storage not loaded: %+v %+v", cfg.Backend, cfg.SQLite)
	}
	if cfg.Indexer.Name != "search" || cfg.Indexer.PollInterval.Duration != 250*time.Millisecond {
		t.Errorf("indexer not loaded: %+v", cfg.Indexer)
	}
	if cfg.Indexer.Lookback.Duration != 2*time.Second || cfg.Indexer.Acknowledge || cfg.Indexer.BatchLimit != 50 {
		t.Errorf("indexer not loaded: %+v", cfg.Indexer)
	}
	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
	if !cfg.Telemetry.Insecure || cfg.Telemetry.Protocol != "grpc" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	// Unset sections keep their defaults.
	if cfg.NATS.Bucket != "indexkit" {
		t.Errorf("NATS.Bucket = %q", cfg.NATS.Bucket)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "indexkit.yaml", `
backend: nats
nats:
  url: nats://nats.internal:4222
  bucket: tasks
  notify_subject: search.tasks
indexer:
  poll_interval: 1m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendNATS || cfg.NATS.URL != "nats://nats.internal:4222" || cfg.NATS.Bucket != "tasks" {
		t.Errorf("nats not loaded: %+v", cfg.NATS)
	}
	if cfg.NATS.NotifySubject != "search.tasks" {
		t.Errorf("NotifySubject = %q", cfg.NATS.NotifySubject)
	}
	if cfg.Indexer.PollInterval.Duration != time.Minute {
		t.Errorf("PollInterval = %v", cfg.Indexer.PollInterval)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "indexkit.json", `{}`},
		{"bad toml", "indexkit.toml", `backend = `},
		{"bad duration", "indexkit.yaml", "indexer:\n  poll_interval: soon\n"},
		{"invalid backend", "indexkit.toml", `backend = "postgres"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INDEXKIT_BACKEND", "sqlite")
	t.Setenv("INDEXKIT_SQLITE_PATH", "env.db")
	t.Setenv("INDEXKIT_POLL_INTERVAL", "10s")
	t.Setenv("INDEXKIT_ACKNOWLEDGE", "false")
	t.Setenv("INDEXKIT_BATCH_LIMIT", "7")
	t.Setenv("INDEXKIT_NATS_TOKEN", "s3cret")
	t.Setenv("INDEXKIT_TELEMETRY_SAMPLE_RATIO", "0.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendSQLite || cfg.SQLite.Path != "env.db" {
		t.Errorf("env backend not applied: %+v", cfg)
	}
	if cfg.Indexer.PollInterval.Duration != 10*time.Second || cfg.Indexer.Acknowledge || cfg.Indexer.BatchLimit != 7 {
		t.Errorf("env indexer not applied: %+v", cfg.Indexer)
	}
	if cfg.NATS.Token != "s3cret" || cfg.Telemetry.SampleRatio != 0.25 {
		t.Errorf("env nats/telemetry not applied: %+v %+v", cfg.NATS, cfg.Telemetry)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	env := map[string]string{
		"INDEXKIT_LOOKBACK":    "a while",
		"INDEXKIT_ACKNOWLEDGE": "maybe",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	err := cfg.applyEnv(lookup)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"INDEXKIT_LOOKBACK", "INDEXKIT_ACKNOWLEDGE"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"nats without url", func(c *Config) { c.Backend = BackendNATS; c.NATS.URL = "" }, "nats.url"},
		{"sqlite without path", func(c *Config) { c.Backend = BackendSQLite; c.SQLite.Path = "" }, "sqlite.path"},
		{"bad indexer name", func(c *Config) { c.Indexer.Name = "has space" }, "indexer.name"},
		{"zero poll interval", func(c *Config) { c.Indexer.PollInterval = Duration{} }, "poll_interval"},
		{"negative lookback", func(c *Config) { c.Indexer.Lookback = Duration{-time.Second} }, "lookback"},
		{"negative batch", func(c *Config) { c.Indexer.BatchLimit = -1 }, "batch_limit"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }, "telemetry.protocol"},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "telemetry.sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, errors.ErrCodeInvalidArgument) {
				t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
