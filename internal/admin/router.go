// Package admin exposes the dispatcher's control-plane HTTP surface:
// liveness at /healthz and, when metrics are enabled, a Prometheus
// exposition endpoint at /metrics.
package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muxd/dispatchd/internal/logger"
)

// Prober reports the dispatcher's liveness, following the construct/alive
// contract a Dispatcher implements.
type Prober interface {
	Alive() bool
	ActiveCount() int
}

// Response is the standard JSON envelope for every admin endpoint.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewRouter builds the admin HTTP router. registry may be nil, in which
// case /metrics returns 503 — metrics were never initialized.
func NewRouter(prober Prober, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", healthzHandler(prober))

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		r.Get("/metrics", metricsDisabledHandler)
	}

	return r
}

// healthzHandler reports 200 with the current active connection count
// while the dispatcher is alive, and 503 once it has failed and drained.
func healthzHandler(prober Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !prober.Alive() {
			writeJSON(w, http.StatusServiceUnavailable, Response{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     "dispatcher not alive",
			})
			return
		}

		writeJSON(w, http.StatusOK, Response{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Data:      map[string]int{"active_connections": prober.ActiveCount()},
		})
	}
}

func metricsDisabledHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusServiceUnavailable, Response{
		Status:    "unavailable",
		Timestamp: time.Now().UTC(),
		Error:     "metrics not enabled",
	})
}

// writeJSON writes a JSON response, buffering first so an encoding error
// never leaves a half-written body behind.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("admin: failed to encode response", logger.Err(err))
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// requestLogger logs admin requests at debug/info level using the
// dispatcher's own logger rather than chi's default logging middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("admin request started",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("admin request completed",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start).String())
	})
}
