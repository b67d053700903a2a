// Package config loads organism settings from defaults, a YAML file and
// ORGANISM_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// #region types
// Config holds every runtime knob of the organism daemon.
type Config struct {
	Life      LifeConfig      `yaml:"life"`
	Tick      TickConfig      `yaml:"tick"`
	Queue     QueueConfig     `yaml:"queue"`
	Memory    MemoryConfig    `yaml:"memory"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Producer  ProducerConfig  `yaml:"producer"`
	Storage   StorageConfig   `yaml:"storage"`
	RPC       RPCConfig       `yaml:"rpc"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LifeConfig identifies the organism instance.
type LifeConfig struct {
	// ID selects the life to resume. Empty means a new life is created.
	ID     string `yaml:"id"`
	Resume bool   `yaml:"resume"`
	// Seed drives the feedback delay draw and the producer. Zero means time-seeded.
	Seed uint64 `yaml:"seed"`
}

type TickConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StepPenalty float64       `yaml:"step_penalty"`
}

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

type MemoryConfig struct {
	Capacity        int `yaml:"capacity"`
	ActivationLimit int `yaml:"activation_limit"`
}

// FeedbackConfig bounds the delayed consequence check.
type FeedbackConfig struct {
	MinDelay int     `yaml:"min_delay"`
	MaxDelay int     `yaml:"max_delay"`
	Timeout  int     `yaml:"timeout"`
	Epsilon  float64 `yaml:"epsilon"`
}

// ProducerConfig controls the built-in random event source.
type ProducerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
	// SnapshotEvery saves a snapshot every N ticks. Zero saves only on shutdown.
	SnapshotEvery int           `yaml:"snapshot_every"`
	TickLogBatch  int           `yaml:"ticklog_batch"`
	TickLogFlush  time.Duration `yaml:"ticklog_flush"`
}

type RPCConfig struct {
	// Addr is the control surface listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// #endregion types

// #region load
// Default returns a Config with the stock organism parameters.
func Default() *Config {
	return &Config{
		Tick: TickConfig{
			Interval:    time.Second,
			StepPenalty: 0.05,
		},
		Queue: QueueConfig{Capacity: 100},
		Memory: MemoryConfig{
			Capacity:        50,
			ActivationLimit: 3,
		},
		Feedback: FeedbackConfig{
			MinDelay: 3,
			MaxDelay: 10,
			Timeout:  20,
			Epsilon:  0.001,
		},
		Producer: ProducerConfig{
			Enabled:  true,
			Interval: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			DBPath:        "organism.db",
			SnapshotEvery: 30,
			TickLogBatch:  50,
			TickLogFlush:  time.Second,
		},
		RPC: RPCConfig{Addr: "localhost:50061"},
		Telemetry: TelemetryConfig{
			ServiceName: "organism",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load returns defaults overlaid by path (when non-empty) and then by the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML file on top of Default(). Keys absent from the
// file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Telemetry.Endpoint = expandEnvVars(cfg.Telemetry.Endpoint)
	return cfg, nil
}

// #endregion load

// #region validate
// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Tick.Interval <= 0 {
		return fmt.Errorf("tick.interval must be positive, got %v", c.Tick.Interval)
	}
	if c.Tick.StepPenalty < 0 || c.Tick.StepPenalty > 1 {
		return fmt.Errorf("tick.step_penalty must be between 0 and 1, got %f", c.Tick.StepPenalty)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory.capacity must be positive, got %d", c.Memory.Capacity)
	}
	if c.Memory.ActivationLimit <= 0 {
		return fmt.Errorf("memory.activation_limit must be positive, got %d", c.Memory.ActivationLimit)
	}
	if c.Feedback.MinDelay <= 0 || c.Feedback.MaxDelay < c.Feedback.MinDelay {
		return fmt.Errorf("feedback delay range [%d,%d] is invalid", c.Feedback.MinDelay, c.Feedback.MaxDelay)
	}
	if c.Feedback.Timeout < c.Feedback.MaxDelay {
		return fmt.Errorf("feedback.timeout %d must be at least max_delay %d", c.Feedback.Timeout, c.Feedback.MaxDelay)
	}
	if c.Feedback.Epsilon < 0 {
		return fmt.Errorf("feedback.epsilon must be non-negative, got %f", c.Feedback.Epsilon)
	}
	if c.Producer.Enabled && c.Producer.Interval <= 0 {
		return fmt.Errorf("producer.interval must be positive, got %v", c.Producer.Interval)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.SnapshotEvery < 0 {
		return fmt.Errorf("storage.snapshot_every must be non-negative, got %d", c.Storage.SnapshotEvery)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"": true, "json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}
	return nil
}

// #endregion validate

// #region env
func applyEnvOverrides(c *Config) error {
	var errs []string
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("ORGANISM_LIFE_ID", &c.Life.ID)
	boolean("ORGANISM_RESUME", &c.Life.Resume)
	if v := os.Getenv("ORGANISM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("ORGANISM_SEED: %v", err))
		} else {
			c.Life.Seed = n
		}
	}
	duration("ORGANISM_TICK_INTERVAL", &c.Tick.Interval)
	float("ORGANISM_STEP_PENALTY", &c.Tick.StepPenalty)
	integer("ORGANISM_QUEUE_CAPACITY", &c.Queue.Capacity)
	integer("ORGANISM_MEMORY_CAPACITY", &c.Memory.Capacity)
	integer("ORGANISM_ACTIVATION_LIMIT", &c.Memory.ActivationLimit)
	integer("ORGANISM_FEEDBACK_MIN_DELAY", &c.Feedback.MinDelay)
	integer("ORGANISM_FEEDBACK_MAX_DELAY", &c.Feedback.MaxDelay)
	integer("ORGANISM_FEEDBACK_TIMEOUT", &c.Feedback.Timeout)
	float("ORGANISM_FEEDBACK_EPSILON", &c.Feedback.Epsilon)
	boolean("ORGANISM_PRODUCER_ENABLED", &c.Producer.Enabled)
	duration("ORGANISM_PRODUCER_INTERVAL", &c.Producer.Interval)
	str("ORGANISM_DB", &c.Storage.DBPath)
	integer("ORGANISM_SNAPSHOT_EVERY", &c.Storage.SnapshotEvery)
	integer("ORGANISM_TICKLOG_BATCH", &c.Storage.TickLogBatch)
	duration("ORGANISM_TICKLOG_FLUSH", &c.Storage.TickLogFlush)
	str("ORGANISM_RPC_ADDR", &c.RPC.Addr)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	str("OTEL_SERVICE_NAME", &c.Telemetry.ServiceName)
	boolean("ORGANISM_OTEL_INSECURE", &c.Telemetry.Insecure)
	str("ORGANISM_LOG_LEVEL", &c.Logging.Level)
	str("ORGANISM_LOG_FORMAT", &c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns using the process environment.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// #endregion env
