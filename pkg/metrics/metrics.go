// Package metrics defines the dispatcher's metrics surface and the
// registry plumbing its Prometheus implementation binds to.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and installs the Prometheus
// registry that subsequent NewDispatchMetrics calls bind to. Call this
// once at process startup, before constructing the dispatcher, when
// config.MetricsConfig.Enabled is true.
func InitRegistry(reg *prometheus.Registry) {
	mu.Lock()
	defer mu.Unlock()
	registry = reg
	enabled = true
}

// IsEnabled reports whether metrics collection is active. Implementations
// of DispatchMetrics use this to return nil from their constructors when
// metrics were never initialized, so a nil DispatchMetrics stands for
// "metrics disabled" and call sites check for nil rather than a separate
// flag.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the registry installed by InitRegistry, or nil if
// metrics were never initialized.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// DispatchMetrics records the observable quantities named in the
// dispatcher's invariants and testable properties: per-listener admission
// state, connection lifecycle, and forwardee round trips. A nil
// DispatchMetrics means metrics are disabled; calling a method on it
// panics, so callers check for nil before recording.
type DispatchMetrics interface {
	// SetActiveConnections records the current active_count for a listener
	// (or "" for the dispatcher-wide total).
	SetActiveConnections(listener string, count int)

	// SetMaxConnections records the configured active_max.
	SetMaxConnections(max int)

	// RecordAccept records one successful accept on a listener.
	RecordAccept(listener string)

	// RecordAcceptError records one failed accept on a listener.
	RecordAcceptError(listener string)

	// RecordConnectionDropped records one connection leaving the active set.
	RecordConnectionDropped(listener string)

	// RecordRequestDispatched records one request submitted to the
	// upstream queue.
	RecordRequestDispatched(backend string)

	// RecordRequestCompleted records one forwardee round trip completing,
	// with its outcome ("ok", "upstream_failed", "write_failed") and
	// latency in milliseconds.
	RecordRequestCompleted(backend, outcome string, durationMs float64)

	// SetInFlight records the dispatcher-wide sum of in_flight counters
	// across all active connections.
	SetInFlight(count int)

	// RecordUpstreamFailure records the transition into upstream-failed
	// mode.
	RecordUpstreamFailure(backend string)
}
