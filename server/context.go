package server

import (
	"context"
	"sync"
)

type topicKey struct{}

// WithTopic records the topic a request arrived on.
func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, topicKey{}, topic)
}

// TopicFromContext returns the topic recorded by WithTopic.
func TopicFromContext(ctx context.Context) (string, bool) {
	topic, ok := ctx.Value(topicKey{}).(string)
	return topic, ok
}

type replyHooksKey struct{}

// ReplyHooks collects work a handler wants run once its response has gone
// out. The zero value is not usable; create one with WithReplyHooks.
type ReplyHooks struct {
	mu    sync.Mutex
	fns   []func()
	fired bool
}

// WithReplyHooks attaches a fresh ReplyHooks to ctx. Whoever sends the
// response calls Done after sending it.
func WithReplyHooks(ctx context.Context) (context.Context, *ReplyHooks) {
	h := &ReplyHooks{}
	return context.WithValue(ctx, replyHooksKey{}, h), h
}

// AfterReply queues fn to run after the response to the current request
// is sent. Without hooks on ctx, or once they have fired, fn runs now.
func AfterReply(ctx context.Context, fn func()) {
	h, _ := ctx.Value(replyHooksKey{}).(*ReplyHooks)
	if h == nil {
		fn()
		return
	}
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Done runs the queued functions in order. Later calls do nothing.
func (h *ReplyHooks) Done() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
