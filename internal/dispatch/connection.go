package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/muxd/dispatchd/internal/logger"
	"github.com/muxd/dispatchd/internal/telemetry"
	"github.com/muxd/dispatchd/internal/wire"
	"github.com/muxd/dispatchd/pkg/bufpool"
)

// Connection is one accepted client socket: its buffered framing, its
// outstanding-request counter, and its membership in the dispatcher's
// active set.
//
// Reads are pipelined but strictly sequential: the read loop below never
// has more than one wire.ReadPacket call outstanding, and it starts the
// next read immediately after handing a packet off to be dispatched
// rather than waiting for that dispatch to complete. Dispatch and
// response delivery happen on a separate per-request goroutine so a slow
// or stalled upstream round trip never blocks the read loop from
// draining the client's send buffer.
type Connection struct {
	id         uint64
	listener   string
	conn       net.Conn
	dispatcher *Dispatcher

	writeMu sync.Mutex // serializes packet writes; completion order follows upstream, not arrival

	mu         sync.Mutex
	inFlight   int
	readClosed bool // the read loop has exited; no further reads will start

	dropOnce sync.Once
}

// errDispatcherFailed marks a read loop exit discovered by polling
// Dispatcher.failed at the top of the loop, rather than by a read deadline
// actually expiring — see serve's check below.
var errDispatcherFailed = errors.New("dispatcher: upstream failed, no longer accepting new requests")

func newConnection(d *Dispatcher, listenerName string, id uint64, nc net.Conn) *Connection {
	return &Connection{
		id:         id,
		listener:   listenerName,
		conn:       nc,
		dispatcher: d,
	}
}

// serve runs the connection's read loop until the client disconnects, a
// read fails, or the dispatcher quiesces this connection's reads (on
// upstream failure or shutdown). It returns once the read side is
// closed; the connection record itself may outlive this call if
// responses are still owed to the client (the "draining" state).
func (c *Connection) serve() {
	clientAddr := c.conn.RemoteAddr().String()
	ctx := logger.WithContext(context.Background(), logger.NewLogContext(c.listener, clientAddr, c.id))
	ctx, span := telemetry.StartConnectionSpan(ctx, c.id, clientAddr, telemetry.ListenerAddr(c.conn.LocalAddr().String()))
	defer span.End()

	logger.InfoCtx(ctx, "connection accepted",
		logger.Listener(c.listener), logger.ClientAddr(clientAddr), logger.ConnectionID(c.id))

	for {
		// Checked before arming the next read rather than relying solely
		// on a cancelled deadline: without this, a connection caught
		// between reads when cancelAllReads fires would simply re-arm a
		// fresh future deadline here and keep forwarding new requests
		// after the dispatcher has already failed.
		if c.dispatcher.failed.Load() {
			c.onReadClosed(ctx, errDispatcherFailed)
			return
		}

		// A connection with no request currently in flight is genuinely
		// idle, waiting on whatever the client sends next; one with an
		// in-flight request is pipelining further reads while that
		// request is outstanding. Timeouts.Idle and Timeouts.Read bound
		// these two waits separately.
		timeout := c.dispatcher.readTimeout
		if c.inFlightCount() == 0 && c.dispatcher.idleTimeout > 0 {
			timeout = c.dispatcher.idleTimeout
		}
		if timeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		}

		pkt, err := wire.ReadPacket(c.conn)
		if err != nil {
			c.onReadClosed(ctx, err)
			return
		}

		c.dispatch(ctx, pkt)
	}
}

// onReadClosed handles end-of-stream, a read failure, or a deliberate
// read cancellation (upstream-failed cascade, shutdown). Per spec: if no
// responses are owed, the connection drops immediately; otherwise it is
// left to drain, and is dropped when its last in-flight response is
// written back.
func (c *Connection) onReadClosed(ctx context.Context, err error) {
	c.mu.Lock()
	c.readClosed = true
	inFlight := c.inFlight
	c.mu.Unlock()

	switch {
	case err == io.EOF:
		logger.DebugCtx(ctx, "connection closed by client", logger.ConnectionID(c.id))
	case errors.Is(err, errDispatcherFailed), wire.IsTimeout(err):
		logger.DebugCtx(ctx, "connection read cancelled", logger.ConnectionID(c.id))
	default:
		logger.DebugCtx(ctx, "connection read failed", logger.ConnectionID(c.id), logger.Err(err))
	}

	if inFlight == 0 {
		c.dispatcher.dropConnection(c)
		return
	}

	logger.DebugCtx(ctx, "connection draining", logger.ConnectionID(c.id), logger.InFlight(inFlight))
}

// dispatch hands a freshly read packet to the upstream queue. Submission
// and response delivery run on their own goroutine so pipelined reads on
// this connection are never blocked behind an in-flight round trip.
func (c *Connection) dispatch(ctx context.Context, pkt *wire.Packet) {
	c.mu.Lock()
	c.inFlight++
	inFlight := c.inFlight
	c.mu.Unlock()

	cookie := c.dispatcher.nextCookie()
	f := &forwardee{conn: c, packet: pkt, cookie: cookie}

	if m := c.dispatcher.metrics; m != nil {
		m.RecordRequestDispatched(c.dispatcher.queueBackend)
		m.SetInFlight(c.dispatcher.totalInFlight())
	}

	reqCtx := logger.WithContext(ctx, logger.FromContext(ctx).WithCookie(cookie))
	logger.DebugCtx(reqCtx, "request dispatched",
		logger.ConnectionID(c.id), logger.Cookie(cookie), logger.PacketLen(len(pkt.Buf)), logger.InFlight(inFlight))

	go c.roundTrip(reqCtx, f)
}

// roundTrip submits the forwardee's request upstream and, on success,
// writes the response back to the originating connection. It always
// finishes by releasing the forwardee's in-flight count, regardless of
// outcome — including a failed write, whose failure flag is
// deliberately ignored (see onWriteComplete).
func (c *Connection) roundTrip(ctx context.Context, f *forwardee) {
	start := time.Now()
	dctx, span := telemetry.StartDispatchSpan(ctx, f.cookie, c.dispatcher.queueBackend, telemetry.PacketLen(len(f.packet.Buf)))
	defer span.End()

	resp, err := c.dispatcher.queue.Submit(dctx, f.packet.Buf)

	if err != nil {
		c.onUpstreamFailure(ctx, f, err, start)
		return
	}

	c.onUpstreamSuccess(ctx, f, resp, start)
}

// onUpstreamFailure releases the forwardee and this request's in-flight
// slot, then triggers the dispatcher-wide upstream-failed cascade. The
// cascade is idempotent: only the first failure observed by any
// connection actually transitions the dispatcher.
func (c *Connection) onUpstreamFailure(ctx context.Context, f *forwardee, err error, start time.Time) {
	logger.WarnCtx(ctx, "upstream request failed", logger.Cookie(f.cookie), logger.Err(err))

	if m := c.dispatcher.metrics; m != nil {
		m.RecordRequestCompleted(c.dispatcher.queueBackend, "upstream_failed", durationMs(start))
	}

	c.dispatcher.recordFailure(c, f, err)
	bufpool.Put(f.packet.Buf)
	c.finishRequest()
	c.dispatcher.enterUpstreamFailed(err)
}

// onUpstreamSuccess swaps the forwardee's packet payload for the
// response bytes and writes it back on the originating connection.
func (c *Connection) onUpstreamSuccess(ctx context.Context, f *forwardee, resp []byte, start time.Time) {
	respPkt := &wire.Packet{Buf: resp}

	_, span := telemetry.StartSpan(ctx, telemetry.SpanWriteResponse,
		trace.WithAttributes(telemetry.Cookie(f.cookie), telemetry.PacketLen(len(resp))))
	defer span.End()

	c.writeMu.Lock()
	if timeout := c.dispatcher.writeTimeout; timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := wire.WritePacket(c.conn, respPkt)
	c.writeMu.Unlock()

	c.onWriteComplete(ctx, f, err, start)
}

// onWriteComplete finishes a request regardless of whether the write to
// the client succeeded. A failed write means the client will not see
// this response — typically because it raced a client-initiated close —
// but that is not treated as a dispatcher error: the failure flag is
// logged and otherwise ignored, matching the upstream design's
// documented behavior.
func (c *Connection) onWriteComplete(ctx context.Context, f *forwardee, writeErr error, start time.Time) {
	outcome := "ok"
	if writeErr != nil {
		outcome = "write_failed"
		logger.DebugCtx(ctx, "response write failed", logger.Cookie(f.cookie), logger.Err(writeErr))
	}

	if m := c.dispatcher.metrics; m != nil {
		m.RecordRequestCompleted(c.dispatcher.queueBackend, outcome, durationMs(start))
	}

	// The write has already copied f.packet.Buf's bytes onto the wire (or
	// failed trying), so it's safe to release now even though resp may be
	// this same slice — the local backend's echo handler returns the
	// request buffer as the response rather than a freshly allocated one.
	bufpool.Put(f.packet.Buf)
	c.finishRequest()
}

// finishRequest decrements in_flight and drops the connection if it has
// become idle: no responses owed, and the read loop already exited.
func (c *Connection) finishRequest() {
	c.mu.Lock()
	c.inFlight--
	idle := c.inFlight == 0 && c.readClosed
	c.mu.Unlock()

	if m := c.dispatcher.metrics; m != nil {
		m.SetInFlight(c.dispatcher.totalInFlight())
	}

	if idle {
		c.dispatcher.dropConnection(c)
	}
}

// cancelRead interrupts a blocked read so the connection notices a
// dispatcher-wide quiesce (upstream failure or shutdown) without waiting
// out its full read timeout. It is safe to call whether or not a read is
// currently outstanding.
func (c *Connection) cancelRead() {
	_ = c.conn.SetReadDeadline(time.Now())
}

// inFlightCount returns the connection's current in_flight value.
func (c *Connection) inFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// close releases the underlying socket. It is called from
// dispatcher.dropConnection and from dispatcher.forceCloseAll; dropOnce
// makes any call after the first a no-op.
func (c *Connection) close() {
	c.dropOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
