package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wc-rpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Int64("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case resp == nil:
				logger.Debug("request dropped", fields...)
			case resp.Error != nil:
				logger.Info("request failed", append(fields, zap.Int("code", resp.Error.Code), zap.String("error", resp.Error.Message))...)
			default:
				logger.Debug("request handled", fields...)
			}
			return resp
		}
	}
}
