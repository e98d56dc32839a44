package session

import (
	"errors"

	"wc-rpc/message"
)

var (
	ErrSessionNotFound        = errors.New("session: no session matching topic")
	ErrSessionNotAcknowledged = errors.New("session: session not acknowledged")
	// ErrUnauthorizedNonControllerCall fails a local update attempted by
	// the peer that does not control the session.
	ErrUnauthorizedNonControllerCall = errors.New("session: update attempted by non-controller")
	ErrInvalidUpdateValue            = errors.New("session: invalid update value")

	// Returned by the inbound handlers when the sender does not control
	// the session.
	ErrUnauthorizedMethodsUpdate = errors.New("session: unauthorized methods update")
	ErrUnauthorizedEventsUpdate  = errors.New("session: unauthorized events update")
)

// RPCErrorFor maps a session error to the error sent back to the peer.
// Errors this package does not define become internal errors.
func RPCErrorFor(err error) *message.RPCError {
	var rpcErr *message.RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, ErrSessionNotFound):
		return message.NewRPCError(message.CodeNoMatchingSession, "%v", err)
	case errors.Is(err, ErrInvalidUpdateValue):
		return message.NewRPCError(message.CodeInvalidUpdateValue, "%v", err)
	case errors.Is(err, ErrUnauthorizedMethodsUpdate):
		return message.NewRPCError(message.CodeUnauthorizedMethods, "%v", err)
	case errors.Is(err, ErrUnauthorizedEventsUpdate):
		return message.NewRPCError(message.CodeUnauthorizedEvents, "%v", err)
	default:
		return message.NewRPCError(message.CodeInternal, "internal error: %v", err)
	}
}
