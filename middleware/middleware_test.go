package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"wc-rpc/codec"
	"wc-rpc/message"
)

// echoHandler answers every request with result true.
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return &message.Response{ID: req.ID, Result: codec.Bool(true)}
}

// slowHandler sleeps 200ms before answering.
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, req)
}

func panicHandler(ctx context.Context, req *message.Request) *message.Response {
	panic("boom")
}

func dropHandler(ctx context.Context, req *message.Request) *message.Response {
	return nil
}

func newRequest() *message.Request {
	return &message.Request{ID: 1, Method: "wc_sessionPing", Params: codec.Object(nil)}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zaptest.NewLogger(t))(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if !resp.Result.Equal(codec.Bool(true)) {
		t.Fatalf("expect result true, got %s", resp.Result)
	}

	if resp := LoggingMiddleware(nil)(dropHandler)(context.Background(), newRequest()); resp != nil {
		t.Fatalf("expect dropped request to stay nil, got %+v", resp)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error != nil {
		t.Fatalf("expect no error, got %v", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Message != "request timed out" {
		t.Fatalf("expect timeout error, got %+v", resp)
	}
	if resp.ID != 1 {
		t.Fatalf("expect timeout response to keep id 1, got %d", resp.ID)
	}
}

func TestTimeoutExemptMethod(t *testing.T) {
	handler := TimeOutMiddleware(50*time.Millisecond, "wc_sessionUpdateMethods")(slowHandler)

	req := newRequest()
	req.Method = "wc_sessionUpdateMethods"
	resp := handler(context.Background(), req)
	if resp.Error != nil {
		t.Fatalf("expect exempt method to finish, got %v", resp.Error)
	}

	resp = handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Message != "request timed out" {
		t.Fatalf("expect other methods to time out, got %+v", resp)
	}
}

func TestRateLimit(t *testing.T) {
	// burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %v", i, resp.Error)
		}
	}

	resp := handler(context.Background(), newRequest())
	if resp.Error == nil || resp.Error.Code != message.CodeRateLimited {
		t.Fatalf("request 3 should be rate limited, got: %+v", resp)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware(zaptest.NewLogger(t))(panicHandler)

	resp := handler(context.Background(), newRequest())
	if resp == nil || resp.Error == nil || resp.Error.Code != message.CodeInternal {
		t.Fatalf("expect internal error, got %+v", resp)
	}
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(tag("a"), LoggingMiddleware(nil), tag("b"), TimeOutMiddleware(500*time.Millisecond))
	resp := chained(echoHandler)(context.Background(), newRequest())

	if resp == nil || resp.Error != nil {
		t.Fatalf("expect success, got %+v", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect outer-to-inner order [a b], got %v", order)
	}
}
