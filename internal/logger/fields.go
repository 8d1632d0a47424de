package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the dispatcher.
// Use these keys consistently so log aggregation and querying stay uniform
// across the listener, connection, and queue subsystems.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Listener / admission control
	KeyListener    = "listener"
	KeyActiveConns = "active_conns"
	KeyMaxConns    = "max_conns"
	KeySolicit     = "solicit"

	// Connection identity
	KeyConnectionID = "connection_id"
	KeyClientAddr   = "client_addr"
	KeyInFlight     = "in_flight"
	KeyDraining     = "draining"

	// Request / forwardee
	KeyCookie    = "cookie"
	KeyPacketLen = "packet_len"
	KeyBytesRead = "bytes_read"
	KeyBytesSent = "bytes_sent"

	// Upstream queue
	KeyQueueBackend = "queue_backend"
	KeyUpstreamErr  = "upstream_error"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyOperation  = "operation"
)

// TraceID returns a slog.Attr for the OpenTelemetry trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the OpenTelemetry span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Listener returns a slog.Attr for the listener's configured name.
func Listener(name string) slog.Attr {
	return slog.String(KeyListener, name)
}

// ActiveConns returns a slog.Attr for the current active connection count.
func ActiveConns(n int) slog.Attr {
	return slog.Int(KeyActiveConns, n)
}

// MaxConns returns a slog.Attr for the configured connection cap.
func MaxConns(n int) slog.Attr {
	return slog.Int(KeyMaxConns, n)
}

// ConnectionID returns a slog.Attr for the dispatcher-assigned connection id.
func ConnectionID(id uint64) slog.Attr {
	return slog.Uint64(KeyConnectionID, id)
}

// ClientAddr returns a slog.Attr for the client's remote address.
func ClientAddr(addr string) slog.Attr {
	return slog.String(KeyClientAddr, addr)
}

// InFlight returns a slog.Attr for the number of requests a connection is
// still owed responses for.
func InFlight(n int) slog.Attr {
	return slog.Int(KeyInFlight, n)
}

// Draining returns a slog.Attr marking a connection as read-closed but still
// owed responses.
func Draining(draining bool) slog.Attr {
	return slog.Bool(KeyDraining, draining)
}

// Cookie returns a slog.Attr for the forwardee cookie bound to a request.
func Cookie(id uint64) slog.Attr {
	return slog.Uint64(KeyCookie, id)
}

// PacketLen returns a slog.Attr for a packet's payload length.
func PacketLen(n int) slog.Attr {
	return slog.Int(KeyPacketLen, n)
}

// QueueBackend returns a slog.Attr naming the upstream queue implementation.
func QueueBackend(name string) slog.Attr {
	return slog.String(KeyQueueBackend, name)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr naming the dispatcher operation in progress.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
