package dispatch

import (
	"github.com/muxd/dispatchd/internal/wire"
)

// forwardee is the per-in-flight-request binding between an origin
// connection and the packet it sent upstream. It has no independent
// identity beyond that pairing and is never indexed by the dispatcher:
// it is reachable only as the cookie threaded through a queue.Submit
// call and back.
//
// conn is a direct pointer rather than a handle/lookup table. In the
// reference implementation the forwardee outlives nothing: the
// connection it points to is only ever destroyed once in_flight reaches
// zero, and a forwardee always represents one unit of that count, so the
// connection cannot be freed out from under a live forwardee. Go's
// garbage collector enforces the same property structurally — the
// pointer itself keeps the Connection reachable — so the indirection
// the original design sketched to guard against dangling references has
// no work left to do here.
type forwardee struct {
	conn   *Connection
	packet *wire.Packet
	cookie uint64
}
