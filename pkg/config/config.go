package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the dispatcher's static configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DISPATCHD_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// The only CLI flag involved is --config, which selects the file; no
// configuration field is bound to a flag.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and Pyroscope
	// continuous profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls whether Prometheus metrics are collected at all.
	// When disabled, metric recording calls are no-ops.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Admin controls the HTTP server exposing /healthz and /metrics.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Listeners is the fixed set of listening endpoints the dispatcher
	// accepts connections on. At least one is required.
	Listeners []ListenerConfig `mapstructure:"listeners" validate:"required,min=1,dive" yaml:"listeners"`

	// MaxConnections is the global cap on active connections across all
	// listeners (spec's active_max).
	MaxConnections int `mapstructure:"max_connections" validate:"required,gt=0" yaml:"max_connections"`

	// Queue configures the upstream request queue backend.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Timeouts configures per-connection I/O deadlines.
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts"`

	// Audit configures the badger-backed failed-request ledger.
	Audit AuditConfig `mapstructure:"audit" yaml:"audit"`

	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// work to drain before force-closing remaining connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// ListenerConfig describes one listening endpoint.
type ListenerConfig struct {
	// Name identifies the listener in logs and metrics.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Address is the address to bind and listen on, e.g. "0.0.0.0:9000".
	Address string `mapstructure:"address" validate:"required" yaml:"address"`
}

// QueueConfig selects and configures the upstream request queue backend.
type QueueConfig struct {
	// Backend selects the Queue implementation: "grpc" or "local".
	Backend string `mapstructure:"backend" validate:"required,oneof=grpc local" yaml:"backend"`

	// Address is the upstream dial target, required when Backend is "grpc".
	Address string `mapstructure:"address" yaml:"address"`

	// DialTimeout bounds each grpc Submit whose context carries no deadline
	// of its own (the grpc client connects lazily, so there is no separate
	// dial step to bound).
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// TimeoutConfig configures per-connection I/O deadlines.
type TimeoutConfig struct {
	// Read bounds how long a packet read may take before the connection is
	// treated as stalled.
	Read time.Duration `mapstructure:"read" yaml:"read"`

	// Write bounds how long a response write may take.
	Write time.Duration `mapstructure:"write" yaml:"write"`

	// Idle bounds how long a connection with no in-flight requests may wait
	// for its next request; when it expires the read ends and the
	// connection is dropped.
	Idle time.Duration `mapstructure:"idle" yaml:"idle"`
}

// AuditConfig configures the failed-request forensic ledger.
type AuditConfig struct {
	// Enabled controls whether failed requests are recorded during
	// upstream-failed mode. Default: false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the badger database directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection to the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig gates Prometheus metric collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected at all. When false,
	// every metrics call is a no-op (zero overhead).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// AdminConfig configures the admin HTTP server (/healthz, /metrics).
type AdminConfig struct {
	// Enabled controls whether the admin HTTP server is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the address the admin server listens on.
	Address string `mapstructure:"address" validate:"omitempty" yaml:"address"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create one, or specify a custom config file:\n"+
				"  dispatchd serve --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DISPATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings, ints, and floats to time.Duration so
// config files can use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dispatchd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dispatchd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
