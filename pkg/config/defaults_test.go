package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Queue(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Queue.Backend != "local" {
		t.Errorf("Expected default queue backend 'local', got %q", cfg.Queue.Backend)
	}
	if cfg.Queue.DialTimeout != 5*time.Second {
		t.Errorf("Expected default dial timeout 5s, got %v", cfg.Queue.DialTimeout)
	}
}

func TestApplyDefaults_Timeouts(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Timeouts.Read != 60*time.Second {
		t.Errorf("Expected default read timeout 60s, got %v", cfg.Timeouts.Read)
	}
	if cfg.Timeouts.Write != 30*time.Second {
		t.Errorf("Expected default write timeout 30s, got %v", cfg.Timeouts.Write)
	}
	if cfg.Timeouts.Idle != 5*time.Minute {
		t.Errorf("Expected default idle timeout 5m, got %v", cfg.Timeouts.Idle)
	}
}

func TestApplyDefaults_Admin(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Admin.Address != "127.0.0.1:9090" {
		t.Errorf("Expected default admin address '127.0.0.1:9090', got %q", cfg.Admin.Address)
	}
}

func TestApplyDefaults_MaxConnections(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.MaxConnections != 1024 {
		t.Errorf("Expected default max_connections 1024, got %d", cfg.MaxConnections)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/dispatchd.log",
		},
		ShutdownTimeout: 60 * time.Second,
		MaxConnections:  4096,
		Queue: QueueConfig{
			Backend: "grpc",
			Address: "127.0.0.1:9001",
		},
	}

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/dispatchd.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.MaxConnections != 4096 {
		t.Errorf("Expected explicit max_connections to be preserved, got %d", cfg.MaxConnections)
	}
	if cfg.Queue.Backend != "grpc" {
		t.Errorf("Expected explicit queue backend to be preserved, got %q", cfg.Queue.Backend)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level == "" {
		t.Error("Default config missing logging level")
	}
	if len(cfg.Listeners) == 0 {
		t.Error("Default config missing listeners")
	}
	if cfg.MaxConnections == 0 {
		t.Error("Default config missing max_connections")
	}
	if cfg.Audit.Path == "" {
		t.Error("Default config missing audit path")
	}
}
