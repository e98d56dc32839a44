package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed rejects calls made on, or pending at, a closed dispatcher.
	ErrClosed = errors.New("relay: dispatcher closed")
	// ErrRequestTimeout rejects a call whose response did not arrive in time.
	ErrRequestTimeout = errors.New("relay: request timed out")
	// ErrNotSubscribed is returned when unsubscribing from an unknown topic.
	ErrNotSubscribed = errors.New("relay: not subscribed to topic")
)

// TransportError wraps a failure to hand a message to the transport. It
// says nothing about delivery.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay: send %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
