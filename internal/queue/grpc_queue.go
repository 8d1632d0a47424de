package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// rawCodecName is registered with grpc's encoding package so Invoke can be
// told, per-call, to skip protobuf marshaling entirely. The dispatcher's
// packets are already opaque byte strings (spec §6: "Packet format:
// opaque to the dispatcher") — there is no message schema to generate
// stubs from, so Submit talks to the upstream as raw bytes in, raw bytes
// out over a single fixed method.
const rawCodecName = "raw"

// submitMethod is the fixed gRPC method the upstream queue service
// exposes. There is deliberately no generated service definition: the
// upstream contract is "bytes in, bytes out, or an error", which grpc's
// codec registration lets a client express without a .proto file.
const submitMethod = "/dispatchd.queue.Queue/Submit"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec marshals/unmarshals gRPC messages as their raw bytes, with no
// protobuf framing beyond what grpc-go already applies at the wire level.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0:0], data...)
	return nil
}

func (rawCodec) Name() string { return rawCodecName }

// GRPCQueue forwards requests to an upstream queue service over gRPC,
// using rawCodec so the upstream's request/response bodies pass through
// as the exact bytes the dispatcher read off the client connection.
type GRPCQueue struct {
	conn        *grpc.ClientConn
	dialTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewGRPCQueue dials the upstream at addr. Dialing with grpc.NewClient is
// lazy (no connection attempt happens here); dialTimeout instead bounds
// Submit calls made with a context that carries no deadline of its own.
func NewGRPCQueue(addr string, dialTimeout time.Duration) (*GRPCQueue, error) {
	if addr == "" {
		return nil, fmt.Errorf("grpc queue: address is required")
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc queue: dial %s: %w", addr, err)
	}

	return &GRPCQueue{conn: conn, dialTimeout: dialTimeout}, nil
}

// Submit sends req to the upstream Queue service and returns its response
// bytes, or an error if the RPC fails. A canceled or failed RPC is
// reported to the caller as an upstream failure (spec §4.4): the
// dispatcher never retries or resubmits.
func (q *GRPCQueue) Submit(ctx context.Context, req []byte) ([]byte, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("grpc queue: closed")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && q.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.dialTimeout)
		defer cancel()
	}

	var reply []byte
	if err := q.conn.Invoke(ctx, submitMethod, &req, &reply); err != nil {
		return nil, fmt.Errorf("grpc queue: submit: %w", err)
	}

	return reply, nil
}

// Close tears down the underlying gRPC connection.
func (q *GRPCQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.conn.Close()
}
