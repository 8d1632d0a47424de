// Package prometheus implements metrics.DispatchMetrics on top of
// client_golang, following the calling convention the rest of the pack's
// Prometheus-backed metrics implementations use: bind to the registry
// installed by metrics.InitRegistry, and return nil if metrics were never
// enabled so every dispatcher call site can treat metrics as optional.
package prometheus

import (
	"github.com/muxd/dispatchd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dispatchMetrics struct {
	activeConnections       *prometheus.GaugeVec
	maxConnections          prometheus.Gauge
	acceptsTotal            *prometheus.CounterVec
	acceptErrorsTotal       *prometheus.CounterVec
	connectionsDroppedTotal *prometheus.CounterVec
	requestsDispatchedTotal *prometheus.CounterVec
	requestsCompletedTotal  *prometheus.CounterVec
	requestDuration         *prometheus.HistogramVec
	inFlight                prometheus.Gauge
	upstreamFailuresTotal   *prometheus.CounterVec
}

// NewDispatchMetrics creates a new Prometheus-backed metrics.DispatchMetrics.
//
// Returns nil if metrics are not enabled (metrics.InitRegistry not called);
// callers store the result directly and check it for nil before calling
// its methods.
func NewDispatchMetrics() metrics.DispatchMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &dispatchMetrics{
		activeConnections: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatchd_active_connections",
				Help: "Current number of active connections by listener.",
			},
			[]string{"listener"},
		),
		maxConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatchd_max_connections",
				Help: "Configured global cap on active connections.",
			},
		),
		acceptsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_accepts_total",
				Help: "Total number of successful accepts by listener.",
			},
			[]string{"listener"},
		),
		acceptErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_accept_errors_total",
				Help: "Total number of failed accepts by listener.",
			},
			[]string{"listener"},
		),
		connectionsDroppedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_connections_dropped_total",
				Help: "Total number of connections dropped by listener.",
			},
			[]string{"listener"},
		),
		requestsDispatchedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_requests_dispatched_total",
				Help: "Total number of requests submitted to the upstream queue, by backend.",
			},
			[]string{"backend"},
		),
		requestsCompletedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_requests_completed_total",
				Help: "Total number of forwardee round trips completed, by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dispatchd_request_duration_milliseconds",
				Help: "Duration of a forwardee round trip in milliseconds.",
				Buckets: []float64{
					0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000,
				},
			},
			[]string{"backend", "outcome"},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatchd_in_flight_requests",
				Help: "Sum of in_flight counters across all active connections.",
			},
		),
		upstreamFailuresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_upstream_failures_total",
				Help: "Total number of transitions into upstream-failed mode, by backend.",
			},
			[]string{"backend"},
		),
	}
}

func (m *dispatchMetrics) SetActiveConnections(listener string, count int) {
	m.activeConnections.WithLabelValues(listener).Set(float64(count))
}

func (m *dispatchMetrics) SetMaxConnections(max int) {
	m.maxConnections.Set(float64(max))
}

func (m *dispatchMetrics) RecordAccept(listener string) {
	m.acceptsTotal.WithLabelValues(listener).Inc()
}

func (m *dispatchMetrics) RecordAcceptError(listener string) {
	m.acceptErrorsTotal.WithLabelValues(listener).Inc()
}

func (m *dispatchMetrics) RecordConnectionDropped(listener string) {
	m.connectionsDroppedTotal.WithLabelValues(listener).Inc()
}

func (m *dispatchMetrics) RecordRequestDispatched(backend string) {
	m.requestsDispatchedTotal.WithLabelValues(backend).Inc()
}

func (m *dispatchMetrics) RecordRequestCompleted(backend, outcome string, durationMs float64) {
	m.requestsCompletedTotal.WithLabelValues(backend, outcome).Inc()
	m.requestDuration.WithLabelValues(backend, outcome).Observe(durationMs)
}

func (m *dispatchMetrics) SetInFlight(count int) {
	m.inFlight.Set(float64(count))
}

func (m *dispatchMetrics) RecordUpstreamFailure(backend string) {
	m.upstreamFailuresTotal.WithLabelValues(backend).Inc()
}
