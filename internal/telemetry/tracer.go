package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for dispatcher spans, grouped by the component that emits
// them: listener admission, active connection, forwardee/request, and the
// upstream queue a request is forwarded to.
const (
	// Client / connection attributes
	AttrClientAddr   = "client.address"
	AttrListenerAddr = "listener.address"
	AttrConnectionID = "connection.id"

	// Admission control attributes
	AttrActiveConns = "listener.active_connections"
	AttrMaxConns    = "listener.max_connections"
	AttrSoliciting  = "listener.soliciting"

	// Forwardee / request attributes
	AttrCookie    = "forwardee.cookie"
	AttrPacketLen = "forwardee.packet_len"
	AttrInFlight  = "connection.in_flight"
	AttrDraining  = "connection.draining"

	// Upstream queue attributes
	AttrQueueBackend = "queue.backend"
	AttrQueueAddr    = "queue.address"

	// Outcome attributes
	AttrStatus    = "dispatch.status"
	AttrStatusMsg = "dispatch.status_message"
)

// Span names for dispatcher operations.
const (
	// SpanAccept covers a single listener Accept() call through handoff to
	// an active connection.
	SpanAccept = "listener.accept"

	// SpanConnection wraps the lifetime of one active connection, from
	// accept to drop.
	SpanConnection = "connection.serve"

	// SpanReadRequest covers reading and framing one request off the wire.
	SpanReadRequest = "connection.read_request"

	// SpanDispatch covers handing a framed request to the upstream queue
	// and awaiting its response.
	SpanDispatch = "forwardee.dispatch"

	// SpanWriteResponse covers writing a completed response back to its
	// owning connection.
	SpanWriteResponse = "connection.write_response"

	// SpanUpstreamFailed marks the transition into upstream-failed mode.
	SpanUpstreamFailed = "dispatcher.upstream_failed"
)

// ClientAddr returns an attribute for a connection's remote address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// ListenerAddr returns an attribute for a listener's bound address.
func ListenerAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrListenerAddr, addr)
}

// ConnectionID returns an attribute for the dispatcher-assigned connection
// identifier.
func ConnectionID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrConnectionID, int64(id))
}

// ActiveConns returns an attribute for the current active connection count.
func ActiveConns(n int) attribute.KeyValue {
	return attribute.Int(AttrActiveConns, n)
}

// MaxConns returns an attribute for the configured connection cap.
func MaxConns(n int) attribute.KeyValue {
	return attribute.Int(AttrMaxConns, n)
}

// Soliciting returns an attribute marking whether a listener is currently
// accepting new connections.
func Soliciting(soliciting bool) attribute.KeyValue {
	return attribute.Bool(AttrSoliciting, soliciting)
}

// Cookie returns an attribute for the forwardee cookie identifying an
// in-flight request.
func Cookie(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrCookie, int64(id))
}

// PacketLen returns an attribute for a packet's payload length in bytes.
func PacketLen(n int) attribute.KeyValue {
	return attribute.Int(AttrPacketLen, n)
}

// InFlight returns an attribute for the number of requests a connection is
// still owed responses for.
func InFlight(n int) attribute.KeyValue {
	return attribute.Int(AttrInFlight, n)
}

// Draining returns an attribute marking a connection as read-closed but
// still owed responses.
func Draining(draining bool) attribute.KeyValue {
	return attribute.Bool(AttrDraining, draining)
}

// QueueBackend returns an attribute naming the upstream queue implementation
// a request was forwarded to.
func QueueBackend(name string) attribute.KeyValue {
	return attribute.String(AttrQueueBackend, name)
}

// QueueAddr returns an attribute for the upstream queue's dial address.
func QueueAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrQueueAddr, addr)
}

// Status returns an attribute for a dispatch outcome code.
func Status(status int) attribute.KeyValue {
	return attribute.Int(AttrStatus, status)
}

// StatusMsg returns an attribute for a human-readable dispatch outcome.
func StatusMsg(msg string) attribute.KeyValue {
	return attribute.String(AttrStatusMsg, msg)
}

// StartAcceptSpan starts a span covering one listener Accept() call.
func StartAcceptSpan(ctx context.Context, listenerAddr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{ListenerAddr(listenerAddr)}, attrs...)
	return StartSpan(ctx, SpanAccept, trace.WithAttributes(allAttrs...))
}

// StartConnectionSpan starts a span covering one active connection's
// lifetime.
func StartConnectionSpan(ctx context.Context, connID uint64, clientAddr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{ConnectionID(connID), ClientAddr(clientAddr)}, attrs...)
	return StartSpan(ctx, SpanConnection, trace.WithAttributes(allAttrs...))
}

// StartDispatchSpan starts a span covering a forwardee's round trip to the
// upstream queue.
func StartDispatchSpan(ctx context.Context, cookie uint64, backend string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Cookie(cookie), QueueBackend(backend)}, attrs...)
	return StartSpan(ctx, SpanDispatch, trace.WithAttributes(allAttrs...))
}
