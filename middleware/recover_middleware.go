package middleware

import (
	"context"

	"go.uber.org/zap"

	"wc-rpc/message"
)

// RecoverMiddleware turns a handler panic into an internal error response.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked",
						zap.String("method", req.Method),
						zap.Int64("id", req.ID),
						zap.Any("panic", r),
						zap.Stack("stack"))
					resp = message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeInternal, "internal error"))
				}
			}()
			return next(ctx, req)
		}
	}
}
