// Package dispatch implements the connection-multiplexing dispatcher: it
// accepts client connections over one or more listeners, reads
// length-prefixed request packets, forwards them to an upstream queue,
// and routes each response back to its originating connection.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muxd/dispatchd/internal/audit"
	"github.com/muxd/dispatchd/internal/logger"
	"github.com/muxd/dispatchd/internal/queue"
	"github.com/muxd/dispatchd/internal/telemetry"
	"github.com/muxd/dispatchd/pkg/config"
	"github.com/muxd/dispatchd/pkg/metrics"
)

// Dispatcher is the owning aggregate tying together the listener set, the
// active-connection set, and the upstream queue. There is exactly one per
// process; it holds no global mutable state of its own beyond its fields.
type Dispatcher struct {
	listeners []*Listener
	queue     queue.Queue

	queueBackend string
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	shutdownTimeout time.Duration

	activeMax int
	sem       chan struct{} // one held slot per active connection; gates admission set-wide

	activeMu sync.Mutex
	active   map[uint64]*Connection

	failed      atomic.Bool
	quiesced    chan struct{}
	quiesceOnce sync.Once

	nextConnID atomic.Uint64
	cookieSeq  atomic.Uint64

	metrics metrics.DispatchMetrics
	auditor audit.Ledger
}

// New constructs a Dispatcher from cfg (already validated by
// config.Validate) and starts every listener's accept loop. On any
// listener failing to bind, the listeners started so far are closed and
// the error is returned — the construction-time unwind the source's
// dispatch_init performs on partial failure.
func New(cfg *config.Config, q queue.Queue, m metrics.DispatchMetrics, auditor audit.Ledger) (*Dispatcher, error) {
	d := &Dispatcher{
		queue:           q,
		queueBackend:    cfg.Queue.Backend,
		readTimeout:     cfg.Timeouts.Read,
		writeTimeout:    cfg.Timeouts.Write,
		idleTimeout:     cfg.Timeouts.Idle,
		shutdownTimeout: cfg.ShutdownTimeout,
		activeMax:       cfg.MaxConnections,
		sem:             make(chan struct{}, cfg.MaxConnections),
		active:          make(map[uint64]*Connection),
		quiesced:        make(chan struct{}),
		metrics:         m,
		auditor:         auditor,
	}

	for _, lc := range cfg.Listeners {
		ln, err := newListener(lc.Name, lc.Address)
		if err != nil {
			d.closeListeners()
			return nil, fmt.Errorf("dispatcher: bind listener %q on %s: %w", lc.Name, lc.Address, err)
		}
		d.listeners = append(d.listeners, ln)
	}

	if m != nil {
		m.SetMaxConnections(cfg.MaxConnections)
	}

	for _, l := range d.listeners {
		go l.serve(d)
	}

	logger.Info("dispatcher started",
		logger.MaxConns(cfg.MaxConnections), logger.QueueBackend(cfg.Queue.Backend))

	return d, nil
}

// Alive reports whether the dispatcher is still doing useful work: its
// upstream connection has not failed, or it still has active client
// connections to drain.
func (d *Dispatcher) Alive() bool {
	return !d.failed.Load() || d.ActiveCount() > 0
}

// ActiveCount returns the current size of the active-connection set.
func (d *Dispatcher) ActiveCount() int {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	return len(d.active)
}

// installConnection is called by a Listener once it has accepted a
// socket. It installs the new Connection into the active set and starts
// its read loop. The semaphore slot acquired by the listener before
// Accept is held for the connection's entire lifetime and released only
// in dropConnection — this is what makes admission control set-wide
// across every listener rather than per-listener.
func (d *Dispatcher) installConnection(l *Listener, nc net.Conn) {
	id := d.nextConnID.Add(1)
	conn := newConnection(d, l.name, id, nc)

	d.activeMu.Lock()
	d.active[id] = conn
	count := len(d.active)
	listenerCount := 0
	for _, c := range d.active {
		if c.listener == l.name {
			listenerCount++
		}
	}
	d.activeMu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordAccept(l.name)
		d.metrics.SetActiveConnections(l.name, listenerCount)
	}

	ctx, span := telemetry.StartAcceptSpan(context.Background(), l.Addr(),
		telemetry.ConnectionID(id), telemetry.ActiveConns(count), telemetry.MaxConns(d.activeMax))
	span.End()
	_ = ctx

	go conn.serve()
}

// dropConnection removes a connection from the active set, releases its
// semaphore slot, and closes its socket. Precondition (checked by every
// call site): the connection's read loop has exited and in_flight is
// zero.
func (d *Dispatcher) dropConnection(c *Connection) {
	d.activeMu.Lock()
	delete(d.active, c.id)
	count := len(d.active)
	listenerCount := 0
	for _, other := range d.active {
		if other.listener == c.listener {
			listenerCount++
		}
	}
	d.activeMu.Unlock()

	<-d.sem
	c.close()

	if d.metrics != nil {
		d.metrics.RecordConnectionDropped(c.listener)
		d.metrics.SetActiveConnections(c.listener, listenerCount)
	}

	logger.Debug("connection dropped", logger.ConnectionID(c.id), logger.ActiveConns(count))
}

// enterUpstreamFailed transitions the dispatcher into upstream-failed
// mode on the first observed upstream failure. The transition is
// monotonic and idempotent: concurrent callers from different
// connections' round trips only ever run the cascade once.
func (d *Dispatcher) enterUpstreamFailed(err error) {
	if !d.failed.CompareAndSwap(false, true) {
		return
	}

	ctx, span := telemetry.StartSpan(context.Background(), telemetry.SpanUpstreamFailed)
	defer span.End()

	logger.ErrorCtx(ctx, "upstream failed, entering drain", logger.Err(err))
	if d.metrics != nil {
		d.metrics.RecordUpstreamFailure(d.queueBackend)
	}

	d.quiesceListeners()
	d.cancelAllReads()
}

// quiesceListeners stops every listener from accepting further
// connections and wakes any listener currently blocked waiting for a
// semaphore slot.
func (d *Dispatcher) quiesceListeners() {
	d.quiesceOnce.Do(func() {
		close(d.quiesced)
	})
	d.closeListeners()
}

func (d *Dispatcher) closeListeners() {
	for _, l := range d.listeners {
		if err := l.close(); err != nil {
			logger.Debug("error closing listener", logger.Listener(l.name), logger.Err(err))
		}
	}
}

// cancelAllReads interrupts every active connection's blocked read so
// connections notice the upstream-failed transition promptly instead of
// waiting out their full read timeout. Connections with in_flight == 0
// drop immediately as a result; connections with requests still
// outstanding are left draining.
func (d *Dispatcher) cancelAllReads() {
	d.activeMu.Lock()
	conns := make([]*Connection, 0, len(d.active))
	for _, c := range d.active {
		conns = append(conns, c)
	}
	d.activeMu.Unlock()

	for _, c := range conns {
		c.cancelRead()
	}
}

// totalInFlight sums in_flight across every active connection, for the
// dispatcher-wide in-flight gauge.
func (d *Dispatcher) totalInFlight() int {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()

	total := 0
	for _, c := range d.active {
		total += c.inFlightCount()
	}
	return total
}

// nextCookie hands out a process-unique identifier for a forwardee, used
// only for logging, tracing, and the audit ledger — the dispatcher holds
// no index keyed by it.
func (d *Dispatcher) nextCookie() uint64 {
	return d.cookieSeq.Add(1)
}

// recordFailure appends the forwardee that just failed its upstream round
// trip to the audit ledger, when one is configured. Best-effort: a ledger
// write failure is logged but never affects the cascade it is reporting
// on.
func (d *Dispatcher) recordFailure(c *Connection, f *forwardee, cause error) {
	if d.auditor == nil {
		return
	}

	entry := audit.FailedRequest{
		Cookie:       f.cookie,
		ConnectionID: c.id,
		Listener:     c.listener,
		PacketLen:    len(f.packet.Buf),
		Reason:       cause.Error(),
		Timestamp:    time.Now(),
	}

	if err := d.auditor.Record(context.Background(), entry); err != nil {
		logger.Debug("audit record failed", logger.Cookie(f.cookie), logger.Err(err))
	}
}

// Shutdown drives the dispatcher into upstream-failed mode if it is not
// already there (an operator-initiated shutdown follows the same drain
// path as an upstream failure: stop soliciting, cancel reads, wait for
// in-flight work to finish), then waits up to the configured shutdown
// timeout for the active set to empty before force-closing stragglers.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.enterUpstreamFailed(fmt.Errorf("dispatcher: shutdown requested"))

	timeout := d.shutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.After(timeout)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.ActiveCount() == 0 {
			break
		}
		select {
		case <-ticker.C:
			continue
		case <-deadline:
			d.forceCloseAll()
			return fmt.Errorf("dispatcher: shutdown timeout, %d connections force-closed", d.ActiveCount())
		case <-ctx.Done():
			d.forceCloseAll()
			return ctx.Err()
		}
	}

	return d.queue.Close()
}

// forceCloseAll closes every remaining active connection's socket
// directly, used only after the graceful shutdown timeout elapses.
func (d *Dispatcher) forceCloseAll() {
	d.activeMu.Lock()
	conns := make([]*Connection, 0, len(d.active))
	for _, c := range d.active {
		conns = append(conns, c)
	}
	d.activeMu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
