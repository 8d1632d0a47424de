package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyAdminDefaults(&cfg.Admin)
	applyQueueDefaults(&cfg.Queue)
	applyTimeoutDefaults(&cfg.Timeouts)
	applyAuditDefaults(&cfg.Audit)

	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 1024
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// Note: no default for Listeners — the operator must configure at
	// least one listening endpoint.
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:9090"
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
}

func applyTimeoutDefaults(cfg *TimeoutConfig) {
	if cfg.Read == 0 {
		cfg.Read = 60 * time.Second
	}
	if cfg.Write == 0 {
		cfg.Write = 30 * time.Second
	}
	if cfg.Idle == 0 {
		cfg.Idle = 5 * time.Minute
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/lib/dispatchd/audit"
	}
}

// GetDefaultConfig returns a Config populated entirely with defaults, with a
// single listener on 0.0.0.0:9000 and the local in-process queue backend —
// suitable for development and for tests that don't care about the exact
// topology.
func GetDefaultConfig() *Config {
	cfg := &Config{
		MaxConnections: 1024,
		Listeners: []ListenerConfig{
			{Name: "default", Address: "0.0.0.0:9000"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
