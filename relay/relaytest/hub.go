// Package relaytest provides an in-memory relay that speaks the waku_*
// methods, for tests and local development.
package relaytest

import (
	"context"
	mathrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"wc-rpc/codec"
	"wc-rpc/message"
	"wc-rpc/protocol"
	"wc-rpc/relay"
	"wc-rpc/transport"
)

type client struct {
	t transport.Transport
}

// Hub relays published messages to every other client subscribed to the
// topic. Messages published while nobody else is subscribed are dropped.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]struct{}
	topics    map[string]map[string]*client // topic -> subscription id -> client
	published []relay.PublishParams
	entropy   *ulid.MonotonicEntropy

	codec  codec.Codec
	ids    *message.IDGenerator
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		topics:  make(map[string]map[string]*client),
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		ids:     message.NewIDGenerator(),
		logger:  logger.Named("hub"),
	}
}

// Connect returns the client end of a new in-memory connection.
func (h *Hub) Connect() *transport.PipeEnd {
	clientEnd, hubEnd := transport.NewPipe()
	h.Attach(hubEnd)
	return clientEnd
}

// Attach serves the relay protocol on t. The returned function detaches
// the client and drops its subscriptions.
func (h *Hub) Attach(t transport.Transport) func() {
	c := &client{t: t}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	t.SetMessageHandler(func(msg string) { h.handle(c, msg) })
	return func() { h.detach(c) }
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for topic, subs := range h.topics {
		for id, owner := range subs {
			if owner == c {
				delete(subs, id)
			}
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Clients is the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Published returns every publish the hub has accepted, oldest first.
func (h *Hub) Published() []relay.PublishParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]relay.PublishParams, len(h.published))
	copy(out, h.published)
	return out
}

// Subscribers returns the subscription ids on topic, sorted.
func (h *Hub) Subscribers(topic string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) handle(c *client, raw string) {
	frame, err := protocol.Decode(h.codec, []byte(raw))
	if err != nil {
		h.logger.Warn("dropping malformed message", zap.Error(err))
		return
	}
	if frame.MsgType == protocol.MsgTypeResponse {
		// acknowledgements of pushes
		return
	}

	req := frame.Request
	switch req.Method {
	case relay.MethodSubscribe:
		params, err := codec.Into[relay.SubscribeParams](req.Params)
		if err != nil {
			h.invalidParams(c, req, err)
			return
		}
		h.reply(c, req.ID, h.subscribe(c, params.Topic))
	case relay.MethodUnsubscribe:
		params, err := codec.Into[relay.UnsubscribeParams](req.Params)
		if err != nil {
			h.invalidParams(c, req, err)
			return
		}
		h.reply(c, req.ID, h.unsubscribe(c, params))
	case relay.MethodPublish:
		params, err := codec.Into[relay.PublishParams](req.Params)
		if err != nil {
			h.invalidParams(c, req, err)
			return
		}
		h.reply(c, req.ID, true)
		h.publish(c, params)
	default:
		h.send(c, message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeMethodNotFound, "method not found: %s", req.Method)))
	}
}

func (h *Hub) subscribe(c *client, topic string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), h.entropy).String()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*client)
		h.topics[topic] = subs
	}
	subs[id] = c
	return id
}

func (h *Hub) unsubscribe(c *client, params relay.UnsubscribeParams) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[params.Topic]
	if owner, ok := subs[params.ID]; !ok || owner != c {
		return false
	}
	delete(subs, params.ID)
	if len(subs) == 0 {
		delete(h.topics, params.Topic)
	}
	return true
}

func (h *Hub) publish(from *client, params relay.PublishParams) {
	type target struct {
		id     string
		client *client
	}
	h.mu.Lock()
	h.published = append(h.published, params)
	var targets []target
	for id, c := range h.topics[params.Topic] {
		if c != from {
			targets = append(targets, target{id, c})
		}
	}
	h.mu.Unlock()

	for _, tg := range targets {
		push, err := message.NewRequest(h.ids.Next(), relay.MethodSubscription, relay.SubscriptionParams{
			ID:   tg.id,
			Data: relay.SubscriptionData{Topic: params.Topic, Message: params.Message},
		})
		if err != nil {
			h.logger.Error("failed to build push", zap.Error(err))
			continue
		}
		h.send(tg.client, push)
	}
}

func (h *Hub) reply(c *client, id int64, result any) {
	resp, err := message.NewResult(id, result)
	if err != nil {
		h.logger.Error("failed to build reply", zap.Error(err))
		return
	}
	h.send(c, resp)
}

func (h *Hub) invalidParams(c *client, req *message.Request, err error) {
	h.send(c, message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeInvalidParams, "invalid params: %v", err)))
}

func (h *Hub) send(c *client, envelope any) {
	data, err := h.codec.Encode(envelope)
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.Error(err))
		return
	}
	if err := c.t.Send(context.Background(), string(data)); err != nil {
		h.logger.Debug("send to client failed", zap.Error(err))
	}
}
