// Package transport carries relay text messages between a peer and the relay.
//
// Implementations deliver inbound messages to the registered handler one at
// a time, on a single goroutine, in arrival order. Send may be called from
// any goroutine; writes are serialized by the implementation.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a bidirectional text-message channel to the relay.
type Transport interface {
	Send(ctx context.Context, msg string) error
	SetMessageHandler(handler func(msg string))
}
