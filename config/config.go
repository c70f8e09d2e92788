// Package config loads indexkit process configuration from a TOML or YAML
// file, a .env file and INDEXKIT_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/logging"
	"github.com/vinayprograms/indexkit/state"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INDEXKIT_"

// Config is the full process configuration.
type Config struct {
	Backend   string          `toml:"backend" yaml:"backend"`
	NATS      NATSConfig      `toml:"nats" yaml:"nats"`
	SQLite    SQLiteConfig    `toml:"sqlite" yaml:"sqlite"`
	Indexer   IndexerConfig   `toml:"indexer" yaml:"indexer"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// NATSConfig configures the JetStream KV bucket and notification subject.
type NATSConfig struct {
	URL           string `toml:"url" yaml:"url"`
	Bucket        string `toml:"bucket" yaml:"bucket"`
	Name          string `toml:"name" yaml:"name"`
	NotifySubject string `toml:"notify_subject" yaml:"notify_subject"`

	// Token authenticates to the server. Prefer INDEXKIT_NATS_TOKEN in a
	// .env file over writing it into the config.
	Token string `toml:"token" yaml:"token"`
}

// SQLiteConfig configures the SQLite task repository.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// IndexerConfig configures the indexer poller and its search index.
type IndexerConfig struct {
	Name         string   `toml:"name" yaml:"name"`
	IndexPath    string   `toml:"index_path" yaml:"index_path"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	Lookback     Duration `toml:"lookback" yaml:"lookback"`
	Acknowledge  bool     `toml:"acknowledge" yaml:"acknowledge"`
	BatchLimit   int      `toml:"batch_limit" yaml:"batch_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// TelemetryConfig configures tracing and event export.
type TelemetryConfig struct {
	// Endpoint is the OTLP collector. Empty disables tracing.
	Endpoint    string `toml:"endpoint" yaml:"endpoint"`
	Protocol    string `toml:"protocol" yaml:"protocol"`
	Insecure    bool   `toml:"insecure" yaml:"insecure"`
	ServiceName string `toml:"service_name" yaml:"service_name"`

	// SampleRatio keeps this fraction of traces. Zero keeps all of them.
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`

	// EventsFile receives task log events as JSON lines. Empty disables them.
	EventsFile string `toml:"events_file" yaml:"events_file"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend: BackendMemory,
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Bucket:        "indexkit",
			Name:          "indexkit",
			NotifySubject: "indexkit.tasks",
		},
		SQLite: SQLiteConfig{
			Path: "indexkit.db",
		},
		Indexer: IndexerConfig{
			Name:         "default",
			IndexPath:    "",
			PollInterval: Duration{5 * time.Second},
			Lookback:     Duration{time.Second},
			Acknowledge:  true,
			BatchLimit:   500,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies .env and
// INDEXKIT_* overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", filepath.Ext(path))
	}
	return nil
}

// applyEnv overrides fields from INDEXKIT_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) error {
		if v, ok := lookup(EnvPrefix + name); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
		}
		return nil
	}
	boolean := func(name string, dst *bool) error {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	str("BACKEND", &c.Backend)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_BUCKET", &c.NATS.Bucket)
	str("NATS_NAME", &c.NATS.Name)
	str("NATS_TOKEN", &c.NATS.Token)
	str("NATS_NOTIFY_SUBJECT", &c.NATS.NotifySubject)
	str("SQLITE_PATH", &c.SQLite.Path)
	str("INDEXER_NAME", &c.Indexer.Name)
	str("INDEX_PATH", &c.Indexer.IndexPath)
	str("LOG_LEVEL", &c.Log.Level)
	str("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	str("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	str("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	str("TELEMETRY_EVENTS_FILE", &c.Telemetry.EventsFile)

	if v, ok := lookup(EnvPrefix + "BATCH_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBATCH_LIMIT: %w", EnvPrefix, err)
		}
		c.Indexer.BatchLimit = n
	}
	if v, ok := lookup(EnvPrefix + "TELEMETRY_SAMPLE_RATIO"); ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sTELEMETRY_SAMPLE_RATIO: %w", EnvPrefix, err)
		}
		c.Telemetry.SampleRatio = r
	}

	return errors.Join(
		dur("POLL_INTERVAL", &c.Indexer.PollInterval),
		dur("LOOKBACK", &c.Indexer.Lookback),
		boolean("ACKNOWLEDGE", &c.Indexer.Acknowledge),
		boolean("TELEMETRY_INSECURE", &c.Telemetry.Insecure),
	)
}

// Validate reports every invalid setting as one INVALID_ARGUMENT error.
func (c *Config) Validate() error {
	var problems []string

	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendNATS:
		if c.NATS.URL == "" {
			problems = append(problems, "nats.url is required for the nats backend")
		}
		if c.NATS.Bucket == "" {
			problems = append(problems, "nats.bucket is required for the nats backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}

	if c.Backend == BackendSQLite && c.SQLite.Path == "" {
		problems = append(problems, "sqlite.path is required for the sqlite backend")
	}

	if c.Indexer.Name == "" || state.ValidateKey("indexer.watermark."+c.Indexer.Name) != nil {
		problems = append(problems, fmt.Sprintf("invalid indexer.name %q", c.Indexer.Name))
	}
	if c.Indexer.PollInterval.Duration <= 0 {
		problems = append(problems, "indexer.poll_interval must be positive")
	}
	if c.Indexer.Lookback.Duration < 0 {
		problems = append(problems, "indexer.lookback must not be negative")
	}
	if c.Indexer.BatchLimit < 0 {
		problems = append(problems, "indexer.batch_limit must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		problems = append(problems, fmt.Sprintf("unknown telemetry.protocol %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		problems = append(problems, "telemetry.sample_ratio must be between 0 and 1")
	}

	if len(problems) > 0 {
		return errors.InvalidArgument("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
