package message

import "fmt"

// Wire error codes. The negative codes are JSON-RPC 2.0's own; the positive
// ones belong to the session protocol.
const (
	CodeRateLimited    = -32005
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeInvalidUpdateValue  = 1004
	CodeNoMatchingSession   = 1301
	CodeUnauthorizedMethods = 3004
	CodeUnauthorizedEvents  = 3005
)

// RPCError is the error member of a Response. It implements error so a
// remote failure can be returned to local callers unchanged.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewRPCError(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
