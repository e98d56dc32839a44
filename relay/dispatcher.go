// Package relay implements the dispatcher that multiplexes one relay socket
// between subscription management, publishing, and peer-to-peer JSON-RPC.
//
// Peer requests do not travel as top-level envelopes. They are serialized,
// optionally sealed, and published on a topic; the relay pushes them to the
// other peer inside a waku_subscription request:
//
//	peer A ──waku_publish{topic, message: <request>}──► relay
//	relay  ──waku_subscription{id, data{topic, message: <request>}}──► peer B
//	peer B ──waku_publish{topic, message: <response>}──► relay ──► peer A
//
// Every outbound call that expects an answer is recorded in the pending
// table before it is sent, and resolved exactly once: by its response, by
// its deadline, or by Close.
package relay

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"wc-rpc/codec"
	"wc-rpc/message"
	"wc-rpc/protocol"
	"wc-rpc/server"
	"wc-rpc/transport"
)

// DefaultRequestTimeout bounds how long a call waits for its response.
const DefaultRequestTimeout = 30 * time.Second

// PayloadCipher seals peer messages before they are published and opens
// them when they are delivered.
type PayloadCipher interface {
	Seal(topic, plaintext string) (string, error)
	Open(topic, ciphertext string) (string, error)
}

type Options struct {
	// RequestTimeout is the per-call deadline. Zero selects
	// DefaultRequestTimeout; a negative value disables deadlines.
	RequestTimeout time.Duration
	// TTL is the publish time-to-live in seconds. Zero selects DefaultTTL.
	TTL    int64
	Cipher PayloadCipher
	Codec  codec.Codec
	Logger *zap.Logger
	// OnPublishError is told about failed publishes that have no caller to
	// return an error to, such as replies to inbound peer requests.
	OnPublishError func(topic string, err error)
}

// ResponseEvent reports a peer response delivered on a subscribed topic.
// Method is empty when the response matched no pending call.
type ResponseEvent struct {
	Topic    string
	Method   string
	Response *message.Response
}

// PublishEvent reports a message delivered on a subscribed topic, after it
// has been opened.
type PublishEvent struct {
	Topic   string
	Message string
}

// MalformedEvent reports an inbound message that could not be decoded.
// Topic is empty for messages that arrived directly from the relay.
type MalformedEvent struct {
	Topic string
	Raw   string
	Err   error
}

type outcome struct {
	resp *message.Response
	err  error
}

// Dispatcher owns a transport and routes everything that arrives on it.
type Dispatcher struct {
	transport transport.Transport
	server    *server.Server
	codec     codec.Codec
	cipher    PayloadCipher
	ids       *message.IDGenerator
	pending   pendingTable
	timeout   time.Duration
	ttl       int64
	logger    *zap.Logger

	subsMu        sync.RWMutex
	subscriptions map[string]Subscription

	responses      listeners[ResponseEvent]
	publishes      listeners[PublishEvent]
	malformed      listeners[MalformedEvent]
	onPublishError func(topic string, err error)

	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.RWMutex
	closed  bool
}

// New creates a dispatcher on t and installs itself as t's message handler.
// Inbound peer requests are answered by srv; a nil srv gets an empty server.
func New(t transport.Transport, srv *server.Server, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if srv == nil {
		srv = server.NewServer(logger)
	}
	c := opts.Codec
	if c == nil {
		c = codec.GetCodec(codec.CodecTypeJSON)
	}
	timeout := opts.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		transport:      t,
		server:         srv,
		codec:          c,
		cipher:         opts.Cipher,
		ids:            message.NewIDGenerator(),
		timeout:        timeout,
		ttl:            ttl,
		logger:         logger.Named("relay"),
		subscriptions:  make(map[string]Subscription),
		onPublishError: opts.OnPublishError,
		ctx:            ctx,
		cancel:         cancel,
	}
	t.SetMessageHandler(d.handleMessage)
	return d
}

// Server returns the method server that answers inbound peer requests.
func (d *Dispatcher) Server() *server.Server { return d.server }

// Subscribe asks the relay for delivery on topic and records the
// subscription.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	id, err := CallAs[string](ctx, d, MethodSubscribe, SubscribeParams{Topic: topic})
	if err != nil {
		return Subscription{}, err
	}
	sub := Subscription{Topic: topic, ID: id}

	d.subsMu.Lock()
	d.subscriptions[topic] = sub
	d.subsMu.Unlock()

	d.logger.Debug("subscribed", zap.String("topic", topic), zap.String("subscription", id))
	return sub, nil
}

// Unsubscribe cancels delivery on topic. The local record is removed once
// the relay has answered.
func (d *Dispatcher) Unsubscribe(ctx context.Context, topic string) error {
	d.subsMu.RLock()
	sub, ok := d.subscriptions[topic]
	d.subsMu.RUnlock()
	if !ok {
		return ErrNotSubscribed
	}

	if _, err := CallAs[bool](ctx, d, MethodUnsubscribe, UnsubscribeParams{Topic: topic, ID: sub.ID}); err != nil {
		return err
	}

	d.subsMu.Lock()
	delete(d.subscriptions, topic)
	d.subsMu.Unlock()

	d.logger.Debug("unsubscribed", zap.String("topic", topic))
	return nil
}

func (d *Dispatcher) IsSubscribed(topic string) bool {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	_, ok := d.subscriptions[topic]
	return ok
}

// Subscriptions lists active subscriptions ordered by topic.
func (d *Dispatcher) Subscriptions() []Subscription {
	d.subsMu.RLock()
	subs := make([]Subscription, 0, len(d.subscriptions))
	for _, sub := range d.subscriptions {
		subs = append(subs, sub)
	}
	d.subsMu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Topic < subs[j].Topic })
	return subs
}

// Publish hands payload to the relay for delivery on topic. It only reports
// failures to send; the relay's acknowledgement is not awaited. A zero ttl
// selects the dispatcher's default.
func (d *Dispatcher) Publish(ctx context.Context, topic, payload string, ttl int64, prompt bool) error {
	if d.isClosed() {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = d.ttl
	}
	msg := payload
	if d.cipher != nil {
		sealed, err := d.cipher.Seal(topic, payload)
		if err != nil {
			return err
		}
		msg = sealed
	}
	req, err := message.NewRequest(d.ids.Next(), MethodPublish, PublishParams{
		Topic:   topic,
		Message: msg,
		TTL:     ttl,
		Prompt:  prompt,
	})
	if err != nil {
		return err
	}
	return d.send(ctx, protocol.RequestFrame(req))
}

// RequestAsync publishes a peer request on topic and returns its id. done
// runs exactly once, on the transport's delivery goroutine or a timer
// goroutine, and must not block.
func (d *Dispatcher) RequestAsync(ctx context.Context, topic, method string, params any, done Continuation) (int64, error) {
	req, err := message.NewRequest(d.ids.Next(), method, params)
	if err != nil {
		return 0, err
	}
	payload, err := protocol.Encode(d.codec, protocol.RequestFrame(req))
	if err != nil {
		return 0, err
	}
	if err := d.track(req.ID, method, true, topic, done); err != nil {
		return 0, err
	}
	if err := d.Publish(ctx, topic, string(payload), d.ttl, false); err != nil {
		d.pending.take(req.ID)
		return 0, err
	}
	d.logger.Debug("peer request sent", zap.String("topic", topic), zap.String("method", method), zap.Int64("id", req.ID))
	return req.ID, nil
}

// Request publishes a peer request on topic and waits for the response. A
// peer error comes back as a Response whose Error is set, not as err.
//
// Request must not be called from a method handler: handlers run on the
// goroutine that would deliver the response.
func (d *Dispatcher) Request(ctx context.Context, topic, method string, params any) (*message.Response, error) {
	ch := make(chan outcome, 1)
	id, err := d.RequestAsync(ctx, topic, method, params, func(resp *message.Response, err error) {
		ch <- outcome{resp, err}
	})
	if err != nil {
		return nil, err
	}
	return d.await(ctx, id, ch)
}

// Call sends a request straight to the relay and waits for its response.
func (d *Dispatcher) Call(ctx context.Context, method string, params any) (*message.Response, error) {
	req, err := message.NewRequest(d.ids.Next(), method, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan outcome, 1)
	if err := d.track(req.ID, method, false, "", func(resp *message.Response, err error) {
		ch <- outcome{resp, err}
	}); err != nil {
		return nil, err
	}
	if err := d.send(ctx, protocol.RequestFrame(req)); err != nil {
		d.pending.take(req.ID)
		return nil, err
	}
	return d.await(ctx, req.ID, ch)
}

// RequestAs is Request with the result decoded into Out. A peer error is
// returned as a *message.RPCError.
func RequestAs[Out any](ctx context.Context, d *Dispatcher, topic, method string, params any) (Out, error) {
	resp, err := d.Request(ctx, topic, method, params)
	if err != nil {
		var zero Out
		return zero, err
	}
	return decodeResult[Out](resp)
}

// CallAs is Call with the result decoded into Out.
func CallAs[Out any](ctx context.Context, d *Dispatcher, method string, params any) (Out, error) {
	resp, err := d.Call(ctx, method, params)
	if err != nil {
		var zero Out
		return zero, err
	}
	return decodeResult[Out](resp)
}

func decodeResult[Out any](resp *message.Response) (Out, error) {
	if resp.Error != nil {
		var zero Out
		return zero, resp.Error
	}
	return codec.Into[Out](resp.Result)
}

// OnResponse registers fn for every peer response delivered on a subscribed
// topic, after any pending call has been resolved. The returned function
// unregisters it.
func (d *Dispatcher) OnResponse(fn func(ResponseEvent)) func() {
	return d.responses.add(fn)
}

// OnPublish registers fn for every message delivered on a subscribed topic.
func (d *Dispatcher) OnPublish(fn func(PublishEvent)) func() {
	return d.publishes.add(fn)
}

// OnMalformed registers fn for inbound messages that fail to decode.
func (d *Dispatcher) OnMalformed(fn func(MalformedEvent)) func() {
	return d.malformed.add(fn)
}

// Pending is the number of calls waiting for a response.
func (d *Dispatcher) Pending() int { return d.pending.len() }

// Close rejects every pending call with ErrClosed, stops delivery and
// closes the transport if it can be closed.
func (d *Dispatcher) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	d.closeMu.Unlock()

	d.cancel()
	d.transport.SetMessageHandler(nil)
	d.pending.rejectAll(ErrClosed)

	d.subsMu.Lock()
	d.subscriptions = make(map[string]Subscription)
	d.subsMu.Unlock()

	if c, ok := d.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Dispatcher) isClosed() bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	return d.closed
}

// track records a pending call. Holding the read lock keeps Close from
// draining the table between the closed check and the store.
func (d *Dispatcher) track(id int64, method string, peer bool, topic string, done Continuation) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	c := &pendingCall{id: id, method: method, peer: peer, topic: topic, done: done}
	if d.timeout > 0 {
		c.timer = time.AfterFunc(d.timeout, func() {
			if d.pending.reject(id, ErrRequestTimeout) {
				d.logger.Warn("request timed out", zap.String("method", method), zap.String("topic", topic), zap.Int64("id", id))
			}
		})
	}
	d.pending.store(c)
	return nil
}

// await waits for the call's outcome. If ctx ends first the call is
// abandoned, unless its outcome is already on the way.
func (d *Dispatcher) await(ctx context.Context, id int64, ch <-chan outcome) (*message.Response, error) {
	select {
	case o := <-ch:
		return o.resp, o.err
	case <-ctx.Done():
		if _, ok := d.pending.take(id); ok {
			return nil, ctx.Err()
		}
		o := <-ch
		return o.resp, o.err
	}
}

func (d *Dispatcher) send(ctx context.Context, frame *protocol.Frame) error {
	data, err := protocol.Encode(d.codec, frame)
	if err != nil {
		return err
	}
	method := "response"
	if frame.MsgType == protocol.MsgTypeRequest {
		method = frame.Request.Method
	}
	if err := d.transport.Send(ctx, string(data)); err != nil {
		return &TransportError{Method: method, Err: err}
	}
	return nil
}

// handleMessage is the transport's message handler. Messages arrive one at
// a time and each is handled to completion before the next.
func (d *Dispatcher) handleMessage(raw string) {
	frame, err := protocol.Decode(d.codec, []byte(raw))
	if err != nil {
		d.reportMalformed("", raw, err)
		return
	}

	switch frame.MsgType {
	case protocol.MsgTypeRequest:
		if frame.Request.Method == MethodSubscription {
			d.handleSubscription(frame.Request)
			return
		}
		if resp := d.server.Dispatch(d.ctx, frame.Request); resp != nil {
			if err := d.send(d.ctx, protocol.ResponseFrame(resp)); err != nil {
				d.logger.Warn("failed to answer relay request", zap.String("method", frame.Request.Method), zap.Error(err))
			}
		}
	case protocol.MsgTypeResponse:
		if _, ok := d.pending.resolve(false, "", frame.Response); !ok {
			d.logger.Debug("discarding response with unknown id", zap.Int64("id", frame.Response.ID))
		}
	}
}

// handleSubscription acknowledges a relay push and delivers its message.
func (d *Dispatcher) handleSubscription(req *message.Request) {
	params, err := codec.Into[SubscriptionParams](req.Params)
	if err != nil {
		d.reportMalformed("", req.Params.String(), err)
		d.reply(message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeInvalidParams, "invalid params: %v", err)))
		return
	}
	d.reply(&message.Response{ID: req.ID, Result: codec.Bool(true)})

	topic := params.Data.Topic
	if !d.IsSubscribed(topic) {
		d.logger.Warn("message for unsubscribed topic", zap.String("topic", topic), zap.String("subscription", params.ID))
		return
	}

	msg := params.Data.Message
	if d.cipher != nil {
		opened, err := d.cipher.Open(topic, msg)
		if err != nil {
			d.reportMalformed(topic, msg, err)
			return
		}
		msg = opened
	}

	d.publishes.emit(PublishEvent{Topic: topic, Message: msg})
	d.handlePeerMessage(topic, msg)
}

// handlePeerMessage routes a message that another peer published on topic.
func (d *Dispatcher) handlePeerMessage(topic, msg string) {
	frame, err := protocol.Decode(d.codec, []byte(msg))
	if err != nil {
		d.reportMalformed(topic, msg, err)
		return
	}

	switch frame.MsgType {
	case protocol.MsgTypeRequest:
		ctx, hooks := server.WithReplyHooks(server.WithTopic(d.ctx, topic))
		defer hooks.Done()
		resp := d.server.Dispatch(ctx, frame.Request)
		if resp == nil {
			return
		}
		data, err := protocol.Encode(d.codec, protocol.ResponseFrame(resp))
		if err != nil {
			d.logger.Error("failed to encode response", zap.String("topic", topic), zap.Error(err))
			return
		}
		if err := d.Publish(d.ctx, topic, string(data), d.ttl, false); err != nil {
			d.logger.Warn("failed to publish response", zap.String("topic", topic), zap.Int64("id", resp.ID), zap.Error(err))
			if d.onPublishError != nil {
				d.onPublishError(topic, err)
			}
		}
	case protocol.MsgTypeResponse:
		method := ""
		if c, ok := d.pending.resolve(true, topic, frame.Response); ok {
			method = c.method
		} else {
			d.logger.Debug("discarding peer response with unknown id", zap.String("topic", topic), zap.Int64("id", frame.Response.ID))
		}
		d.responses.emit(ResponseEvent{Topic: topic, Method: method, Response: frame.Response})
	}
}

func (d *Dispatcher) reply(resp *message.Response) {
	if err := d.send(d.ctx, protocol.ResponseFrame(resp)); err != nil {
		d.logger.Warn("failed to acknowledge relay push", zap.Int64("id", resp.ID), zap.Error(err))
	}
}

func (d *Dispatcher) reportMalformed(topic, raw string, err error) {
	d.logger.Warn("dropping malformed message", zap.String("topic", topic), zap.Int("size", len(raw)), zap.Error(err))
	d.malformed.emit(MalformedEvent{Topic: topic, Raw: raw, Err: err})
}
