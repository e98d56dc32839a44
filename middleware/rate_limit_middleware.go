package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"wc-rpc/message"
)

// RateLimitMiddleware admits r requests per second with the given burst,
// using a token bucket shared by every method.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeRateLimited, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
