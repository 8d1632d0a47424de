package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single in-flight
// request as it moves from a client connection, through the upstream queue,
// and back to a write completion.
type LogContext struct {
	TraceID      string    // OpenTelemetry trace ID
	SpanID       string    // OpenTelemetry span ID
	Listener     string    // Name of the listener this connection was accepted on
	ConnectionID uint64    // Dispatcher-assigned active connection identifier
	ClientAddr   string    // Client remote address
	Cookie       uint64    // Forwardee cookie identifying the in-flight request
	StartTime    time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a freshly accepted connection.
func NewLogContext(listener, clientAddr string, connID uint64) *LogContext {
	return &LogContext{
		Listener:     listener,
		ClientAddr:   clientAddr,
		ConnectionID: connID,
		StartTime:    time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:      lc.TraceID,
		SpanID:       lc.SpanID,
		Listener:     lc.Listener,
		ConnectionID: lc.ConnectionID,
		ClientAddr:   lc.ClientAddr,
		Cookie:       lc.Cookie,
		StartTime:    lc.StartTime,
	}
}

// WithCookie returns a copy with the forwardee cookie set
func (lc *LogContext) WithCookie(cookie uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Cookie = cookie
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
