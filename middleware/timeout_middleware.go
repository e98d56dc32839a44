package middleware

import (
	"context"
	"slices"
	"time"

	"wc-rpc/message"
)

// TimeOutMiddleware answers -32603 when a handler runs past timeout.
// The handler keeps running after the deadline, so methods whose side
// effects must match the answer sent are listed in exempt and run inline
// with no deadline.
func TimeOutMiddleware(timeout time.Duration, exempt ...string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if slices.Contains(exempt, req.Method) {
				return next(ctx, req)
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeInternal, "request timed out"))
			}
		}
	}
}
