// Package queue defines the dispatcher's upstream request queue contract
// and the two backends that satisfy it: a gRPC-transported queue for a
// real out-of-process upstream, and an in-process queue for tests, local
// development, and single-binary deployments.
package queue

import (
	"context"
	"fmt"

	"github.com/muxd/dispatchd/pkg/config"
)

// Queue is the upstream request queue the dispatcher forwards client
// packets to. Submit takes ownership of neither slice: the returned
// response (or error) is the only thing the caller retains.
//
// A Queue implementation must honor at-most-once completion per call to
// Submit: exactly one of (response, nil) or (nil, error) is returned.
// Submit itself may block the calling goroutine; the dispatcher calls it
// from a per-request goroutine specifically so that blocking here never
// stalls the connection's read loop (see internal/dispatch's pipelining
// of reads against forwardee dispatch).
type Queue interface {
	// Submit forwards req upstream and blocks until a response or failure
	// is observed. ctx cancellation aborts the wait (not necessarily the
	// upstream work itself).
	Submit(ctx context.Context, req []byte) (resp []byte, err error)

	// Close releases any resources held by the queue (connections, worker
	// pools). Submit must not be called after Close returns.
	Close() error
}

// New constructs the Queue backend selected by cfg.Backend ("grpc" or
// "local"). cfg has already passed config.Validate, so Backend is known
// good and Address is present when required.
func New(cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "grpc":
		return NewGRPCQueue(cfg.Address, cfg.DialTimeout)
	case "local":
		return NewLocalQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
