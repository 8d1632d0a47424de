package dispatch

import (
	"errors"
	"net"

	"github.com/muxd/dispatchd/internal/logger"
)

// Listener is one bound, listening socket the dispatcher accepts
// connections on. Admission control — "at most one outstanding accept,
// gated by the global connection cap, set-wide across every listener" —
// is implemented not by toggling a per-listener accept handle but by
// every listener contending for the same bounded semaphore before
// calling Accept: when the cap is reached, every listener blocks there
// simultaneously, which is the set-wide on/off behavior the source's
// accept_start/accept_stop pair provides, without needing an explicit
// registered/cancelled accept per listener.
type Listener struct {
	name string
	ln   net.Listener
}

// newListener binds name to address.
func newListener(name, address string) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{name: name, ln: ln}, nil
}

// Addr returns the address actually bound, which may differ from the
// configured address if it used a wildcard port.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// serve runs the accept loop for this listener until the dispatcher
// quiesces (closes the listener) or this listener hits a permanent
// error of its own. A listener that fails on its own does not affect
// the dispatcher's liveness or any other listener (spec S6).
func (l *Listener) serve(d *Dispatcher) {
	logger.Info("listener accepting", logger.Listener(l.name))

	for {
		select {
		case d.sem <- struct{}{}:
		case <-d.quiesced:
			return
		}

		conn, err := l.ln.Accept()
		if err != nil {
			<-d.sem

			if errors.Is(err, net.ErrClosed) {
				return
			}

			if d.metrics != nil {
				d.metrics.RecordAcceptError(l.name)
			}
			logger.Warn("listener accept failed, listener stopping", logger.Listener(l.name), logger.Err(err))
			return
		}

		d.installConnection(l, conn)
	}
}

// close stops this listener from accepting further connections. Callers
// needing set-wide quiesce close every listener and then close
// d.quiesced so blocked contenders for the semaphore wake up too.
func (l *Listener) close() error {
	return l.ln.Close()
}
