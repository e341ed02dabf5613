// Package config holds all configuration types and loading logic for echoq.
// Config structure never shrinks — fields are only added, never renamed or
// removed.
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an echoq replica.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Ingress  IngressConfig  `yaml:"ingress"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// NodeConfig holds identity and local-storage settings for this replica.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first
	// start.
	ID      string `yaml:"id"`
	DataDir string `yaml:"data_dir"`
}

// RedisConfig points at the shared store every replica coordinates through.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DispatchConfig tunes the inspection loop and batch behavior. Only
// BatchSize reaches the engine; ProcessingWindowMs and ProcessingRetryDelay
// are checked by Validate but not read by the engine, which uses
// store.ProcessingWindow (1s) and a retry delay 10% above it.
type DispatchConfig struct {
	BatchSize            int `yaml:"batch_size"`
	ProcessingWindowMs   int `yaml:"processing_window_ms"`
	ProcessingRetryDelay int `yaml:"processing_retry_delay_ms"`
}

// IngressConfig controls the HTTP surface used to submit messages and
// observe the live emission feed. FeedEnabled is not consulted: the ingress
// always serves /feed.
type IngressConfig struct {
	Addr        string `yaml:"addr"`
	MaxRate     int    `yaml:"max_rate"`
	Burst       int    `yaml:"burst"`
	FeedEnabled bool   `yaml:"feed_enabled"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LedgerConfig controls the local per-replica emission audit trail.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config populated with safe, sensible defaults. It is
// the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			DataDir: "./data",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			DB:   0,
		},
		Dispatch: DispatchConfig{
			BatchSize:            30,
			ProcessingWindowMs:   1_000,
			ProcessingRetryDelay: 1_100,
		},
		Ingress: IngressConfig{
			Addr:        ":8080",
			MaxRate:     1_000,
			Burst:       2_000,
			FeedEnabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "./data/ledger.db",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of
// Default(). If the file does not exist the default config is returned
// without error, making it easy to run echoq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	ECHOQ_REDIS_ADDR     — sets redis.addr
//	ECHOQ_DATA_DIR       — sets node.data_dir
//	ECHOQ_INGRESS_ADDR   — sets ingress.addr
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ECHOQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ECHOQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("ECHOQ_INGRESS_ADDR"); v != "" {
		cfg.Ingress.Addr = v
	}
}

// Validate checks that the config values are consistent and within
// acceptable ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must not be empty")
	}
	if c.Dispatch.BatchSize < 1 {
		return errors.New("dispatch.batch_size must be at least 1")
	}
	if c.Dispatch.ProcessingWindowMs < 1 {
		return errors.New("dispatch.processing_window_ms must be at least 1")
	}
	if c.Dispatch.ProcessingRetryDelay < c.Dispatch.ProcessingWindowMs {
		return errors.New("dispatch.processing_retry_delay_ms must be at least processing_window_ms")
	}
	if c.Ingress.MaxRate < 1 {
		return errors.New("ingress.max_rate must be at least 1")
	}
	if c.Ingress.Burst < 1 {
		return errors.New("ingress.burst must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return errors.New("ledger.path must not be empty when ledger.enabled is true")
	}
	return nil
}
