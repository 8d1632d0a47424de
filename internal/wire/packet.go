// Package wire implements the dispatcher's packet framing: a 4-byte
// big-endian length prefix followed by that many opaque payload bytes. The
// dispatcher never inspects the payload; it only needs to know where one
// packet ends and the next begins.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/muxd/dispatchd/pkg/bufpool"
)

// MaxPacketSize bounds a single packet's payload to guard against a
// malicious or confused client driving unbounded allocation via the length
// prefix. The upstream queue is expected to reject anything it considers
// too large on its own terms; this is purely a framing-layer backstop.
const MaxPacketSize = 16 << 20 // 16MB

// Packet is the request/response envelope the dispatcher shuttles between
// a client connection and the upstream queue. A request's Buf is
// pool-allocated by ReadPacket; the response is written from a separate
// Packet wrapping the bytes the queue returned.
type Packet struct {
	Buf []byte
}

// ReadPacket reads one length-prefixed packet from r. The returned packet's
// Buf is obtained from bufpool and must be released with bufpool.Put once
// the caller is done with it (ordinarily after the forwardee holding it is
// freed).
//
// io.EOF is returned verbatim when the connection is closed between
// packets. Any other error indicates a malformed or truncated frame.
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read packet length: %w", err)
	}

	var length uint32
	if _, err := xdr.Unmarshal(bytes.NewReader(header[:]), &length); err != nil {
		return nil, fmt.Errorf("decode packet length: %w", err)
	}

	if length > MaxPacketSize {
		return nil, fmt.Errorf("packet length %d exceeds maximum %d", length, MaxPacketSize)
	}

	buf := bufpool.Get(int(length))
	if _, err := io.ReadFull(r, buf); err != nil {
		bufpool.Put(buf)
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read packet payload: %w", err)
	}

	return &Packet{Buf: buf}, nil
}

// WritePacket writes one length-prefixed packet to w. It does not take
// ownership of p.Buf; the caller releases it after the write returns.
func WritePacket(w io.Writer, p *Packet) error {
	var header bytes.Buffer
	if _, err := xdr.Marshal(&header, uint32(len(p.Buf))); err != nil {
		return fmt.Errorf("encode packet length: %w", err)
	}

	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("write packet header: %w", err)
	}
	if _, err := w.Write(p.Buf); err != nil {
		return fmt.Errorf("write packet payload: %w", err)
	}

	return nil
}

// IsTimeout reports whether err is a net.Error timeout, the signal the
// dispatcher uses to distinguish a deliberately interrupted read (shutdown,
// cancellation) from a genuine client-side close or protocol error.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
