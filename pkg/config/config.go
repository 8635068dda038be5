// Package config provides centralized configuration management for the
// plumber runtime.
//
// Configuration can be loaded from:
// - a YAML file (default path supplied by the caller, typically
//   /etc/plumber/config.yaml)
// - environment variables (prefixed with PLUMBER_)
//
// Configuration is organized into sections matching the domain
// components: Runtime, Pool, Worker, Store, Metrics, Log — the same
// section-per-component shape the teacher uses, decoded with
// gopkg.in/yaml.v3 instead of the teacher's hand-rolled TOML parser.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the plumber runtime.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Pool    PoolConfig    `yaml:"pool"`
	Worker  WorkerConfig  `yaml:"worker"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// RuntimeConfig holds general runtime settings.
type RuntimeConfig struct {
	// HostPeerID is this node's own peer identity.
	HostPeerID string `yaml:"host_peer_id"`

	// ManagementPeerIDs lists peers allowed to manage worker pools and
	// services regardless of worker activity state.
	ManagementPeerIDs []string `yaml:"management_peer_ids"`

	// TickInterval bounds how long Plumber.Run sleeps between empty
	// polls.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ShutdownTimeout is how long cmd/plumberd waits for its metrics HTTP
	// server to shut down gracefully.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PoolConfig holds host VM pool configuration.
type PoolConfig struct {
	// HostCapacity is the number of interpreter instances kept warm for
	// the host scope.
	HostCapacity int `yaml:"host_capacity"`

	// CreateConcurrency is loaded and validated but not passed to the VM
	// pool, which bounds concurrent (re)builds by its own capacity.
	CreateConcurrency int `yaml:"create_concurrency"`
}

// WorkerConfig holds worker pool defaults. They are loaded and validated,
// but nothing in this module applies them: Plumber.CreateWorkerPool takes
// capacity and concurrency as explicit arguments.
type WorkerConfig struct {
	// DefaultCapacity is the default VM pool size for a new worker.
	DefaultCapacity int `yaml:"default_capacity"`

	// DefaultConcurrency is the default spawner concurrency for a new
	// worker.
	DefaultConcurrency int `yaml:"default_concurrency"`
}

// StoreConfig holds durable storage configuration.
type StoreConfig struct {
	// Driver selects the ParticleDataStore/Workers registry backend:
	// "memory" or "bolt".
	Driver string `yaml:"driver"`

	// DataPath is the bbolt database path for particle data, used when
	// Driver is "bolt".
	DataPath string `yaml:"data_path"`

	// WorkersPath is the bbolt database path for worker bookkeeping, used
	// when Driver is "bolt".
	WorkersPath string `yaml:"workers_path"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus sink is wired in at all.
	Enabled bool `yaml:"enabled"`

	// Address is the address the metrics HTTP handler listens on.
	Address string `yaml:"address"`

	// Path is the HTTP path for the metrics endpoint.
	Path string `yaml:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is the log format: text, json.
	Format string `yaml:"format"`

	// File is an optional log file path; empty means stderr.
	File string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			TickInterval:    10 * time.Millisecond,
			ShutdownTimeout: 30 * time.Second,
		},
		Pool: PoolConfig{
			HostCapacity:      4,
			CreateConcurrency: 2,
		},
		Worker: WorkerConfig{
			DefaultCapacity:    2,
			DefaultConcurrency: 2,
		},
		Store: StoreConfig{
			Driver:      "memory",
			DataPath:    "/var/lib/plumber/data.db",
			WorkersPath: "/var/lib/plumber/workers.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, falling back to
// Default() if the file does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv overlays configuration from environment variables,
// prefixed with PLUMBER_ and using underscores, e.g.
// PLUMBER_POOL_HOST_CAPACITY=8.
func LoadFromEnv(cfg *Config) {
	loadEnvString(&cfg.Runtime.HostPeerID, "PLUMBER_HOST_PEER_ID")
	loadEnvDuration(&cfg.Runtime.TickInterval, "PLUMBER_TICK_INTERVAL")
	loadEnvDuration(&cfg.Runtime.ShutdownTimeout, "PLUMBER_SHUTDOWN_TIMEOUT")

	loadEnvInt(&cfg.Pool.HostCapacity, "PLUMBER_POOL_HOST_CAPACITY")
	loadEnvInt(&cfg.Pool.CreateConcurrency, "PLUMBER_POOL_CREATE_CONCURRENCY")

	loadEnvInt(&cfg.Worker.DefaultCapacity, "PLUMBER_WORKER_DEFAULT_CAPACITY")
	loadEnvInt(&cfg.Worker.DefaultConcurrency, "PLUMBER_WORKER_DEFAULT_CONCURRENCY")

	loadEnvString(&cfg.Store.Driver, "PLUMBER_STORE_DRIVER")
	loadEnvString(&cfg.Store.DataPath, "PLUMBER_STORE_DATA_PATH")
	loadEnvString(&cfg.Store.WorkersPath, "PLUMBER_STORE_WORKERS_PATH")

	loadEnvBool(&cfg.Metrics.Enabled, "PLUMBER_METRICS_ENABLED")
	loadEnvString(&cfg.Metrics.Address, "PLUMBER_METRICS_ADDRESS")

	loadEnvString(&cfg.Log.Level, "PLUMBER_LOG_LEVEL")
	loadEnvString(&cfg.Log.Format, "PLUMBER_LOG_FORMAT")
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Pool.HostCapacity < 1 {
		return fmt.Errorf("config: pool.host_capacity must be >= 1")
	}
	if c.Pool.CreateConcurrency < 1 {
		return fmt.Errorf("config: pool.create_concurrency must be >= 1")
	}
	if c.Worker.DefaultCapacity < 1 {
		return fmt.Errorf("config: worker.default_capacity must be >= 1")
	}

	validDrivers := map[string]bool{"memory": true, "bolt": true}
	if !validDrivers[c.Store.Driver] {
		return fmt.Errorf("config: invalid store.driver: %s (must be 'memory' or 'bolt')", c.Store.Driver)
	}
	if c.Store.Driver == "bolt" && (c.Store.DataPath == "" || c.Store.WorkersPath == "") {
		return fmt.Errorf("config: store.driver 'bolt' requires data_path and workers_path")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("config: invalid log.level: %s", c.Log.Level)
	}
	return nil
}

// ApplyToLogger applies logging configuration to a logrus logger.
func (c *Config) ApplyToLogger(log *logrus.Logger) {
	switch c.Log.Level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	switch c.Log.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if c.Log.File != "" {
		if f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			log.SetOutput(f)
		}
	}
}

func loadEnvString(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func loadEnvBool(target *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val == "true" || val == "1" || val == "yes"
	}
}

func loadEnvInt(target *int, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*target = i
		}
	}
}

func loadEnvDuration(target *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*target = d
		}
	}
}
