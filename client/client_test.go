package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"wc-rpc/config"
	"wc-rpc/loadbalance"
	"wc-rpc/message"
	"wc-rpc/relay"
	"wc-rpc/relay/relaytest"
	"wc-rpc/server"
	"wc-rpc/session"
	"wc-rpc/store"
	"wc-rpc/transport"
)

type update struct {
	topic string
	set   session.Set
}

// recorder collects callback invocations from another goroutine.
type recorder struct {
	mu      sync.Mutex
	methods []update
	events  []update
	signal  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 16)}
}

func (r *recorder) callbacks() session.Callbacks {
	return session.Callbacks{
		OnMethodsUpdate: func(topic string, s session.Set) {
			r.mu.Lock()
			r.methods = append(r.methods, update{topic, s})
			r.mu.Unlock()
			r.signal <- struct{}{}
		},
		OnEventsUpdate: func(topic string, s session.Set) {
			r.mu.Lock()
			r.events = append(r.events, update{topic, s})
			r.mu.Unlock()
			r.signal <- struct{}{}
		},
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
}

func (r *recorder) snapshot() (methods, events []update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.methods...), append([]update(nil), r.events...)
}

type peer struct {
	*Client
	store *store.Memory
	rec   *recorder
}

func newPeer(t *testing.T, hub *relaytest.Hub, seqs ...session.Sequence) *peer {
	t.Helper()
	st := store.NewMemory()
	for _, seq := range seqs {
		if err := st.SetSession(context.Background(), seq); err != nil {
			t.Fatal(err)
		}
	}
	rec := newRecorder()
	c, err := New(hub.Connect(), st, Options{
		Relay:       relay.Options{RequestTimeout: 2 * time.Second},
		Callbacks:   rec.callbacks(),
		Middlewares: Middlewares(config.Default().Server, zaptest.NewLogger(t)),
		Logger:      zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return &peer{Client: c, store: st, rec: rec}
}

func sequence(topic string, controller bool) session.Sequence {
	return session.Sequence{
		Topic:            topic,
		Acknowledged:     true,
		SelfIsController: controller,
		Methods:          session.NewSet("eth_sign"),
		Events:           session.NewSet("accountsChanged"),
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func subscribeAll(t *testing.T, ctx context.Context, topic string, peers ...*peer) {
	t.Helper()
	for _, p := range peers {
		if err := p.Subscribe(ctx, topic); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUpdateMethodsEndToEnd(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(zaptest.NewLogger(t))
	dapp := newPeer(t, hub, sequence("T", true))
	wallet := newPeer(t, hub, sequence("T", false))
	subscribeAll(t, ctx, "T", dapp, wallet)

	if err := dapp.UpdateMethods(ctx, "T", session.NewSet("personal_sign")); err != nil {
		t.Fatal(err)
	}

	wallet.rec.wait(t)
	methods, _ := wallet.rec.snapshot()
	if len(methods) != 1 || methods[0].topic != "T" || !methods[0].set.Equal(session.NewSet("personal_sign")) {
		t.Fatalf("unexpected wallet callback %+v", methods)
	}
	seq, _, _ := wallet.store.Session(ctx, "T")
	if !seq.Methods.Equal(session.NewSet("personal_sign")) {
		t.Fatalf("expect wallet to store the update, got %v", seq.Methods.Sorted())
	}

	// The controller hears back once the wallet has answered.
	dapp.rec.wait(t)
	methods, _ = dapp.rec.snapshot()
	if len(methods) != 1 || !methods[0].set.Equal(session.NewSet("personal_sign")) {
		t.Fatalf("unexpected dapp callback %+v", methods)
	}
	if dapp.Dispatcher().Pending() != 0 {
		t.Fatalf("expect no pending calls, got %d", dapp.Dispatcher().Pending())
	}
}

func TestUpdateEventsEndToEnd(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	dapp := newPeer(t, hub, sequence("T", true))
	wallet := newPeer(t, hub, sequence("T", false))
	subscribeAll(t, ctx, "T", dapp, wallet)

	if err := dapp.UpdateEvents(ctx, "T", session.NewSet("chainChanged", "accountsChanged")); err != nil {
		t.Fatal(err)
	}
	wallet.rec.wait(t)
	_, events := wallet.rec.snapshot()
	if len(events) != 1 || !events[0].set.Equal(session.NewSet("chainChanged", "accountsChanged")) {
		t.Fatalf("unexpected wallet callback %+v", events)
	}
}

// sendRaw sends an update request straight through the dispatcher, skipping
// the controller's local checks.
func sendRaw(ctx context.Context, p *peer, topic, method string, params any) error {
	_, err := relay.RequestAs[bool](ctx, p.Dispatcher(), topic, method, params)
	return err
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	var rpcErr *message.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != code {
		t.Fatalf("expect error %d, got %v", code, err)
	}
}

func TestUpdateForUnknownSession(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	dapp := newPeer(t, hub)
	wallet := newPeer(t, hub)
	subscribeAll(t, ctx, "", dapp, wallet)

	err := sendRaw(ctx, dapp, "", session.MethodSessionUpdateMethods, session.UpdateMethodsParams{Methods: session.NewSet("personal_sign")})
	expectCode(t, err, message.CodeNoMatchingSession)

	methods, events := wallet.rec.snapshot()
	if len(methods)+len(events) != 0 {
		t.Fatal("no callback may fire for an unknown session")
	}
}

func TestUpdateFromNonController(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	// Both sides claim control, so each sees the other as unauthorized.
	dapp := newPeer(t, hub, sequence("T", true))
	wallet := newPeer(t, hub, sequence("T", true))
	subscribeAll(t, ctx, "T", dapp, wallet)

	err := sendRaw(ctx, dapp, "T", session.MethodSessionUpdateMethods, session.UpdateMethodsParams{Methods: session.NewSet("personal_sign")})
	expectCode(t, err, message.CodeUnauthorizedMethods)
	err = sendRaw(ctx, dapp, "T", session.MethodSessionUpdateEvents, session.UpdateEventsParams{Events: session.NewSet("chainChanged")})
	expectCode(t, err, message.CodeUnauthorizedEvents)

	seq, _, _ := wallet.store.Session(ctx, "T")
	if !seq.Methods.Equal(session.NewSet("eth_sign")) || !seq.Events.Equal(session.NewSet("accountsChanged")) {
		t.Fatalf("expect wallet session unchanged, got %+v", seq)
	}
}

func TestInvalidUpdateValue(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	dapp := newPeer(t, hub, sequence("T", true))
	wallet := newPeer(t, hub, sequence("T", false))
	subscribeAll(t, ctx, "T", dapp, wallet)

	err := sendRaw(ctx, dapp, "T", session.MethodSessionUpdateMethods, map[string]any{"methods": []string{""}})
	expectCode(t, err, message.CodeInvalidUpdateValue)
}

func TestLocalPreconditionsSendNothing(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	wallet := newPeer(t, hub, sequence("T", false))
	subscribeAll(t, ctx, "T", wallet)

	err := wallet.UpdateMethods(ctx, "T", session.NewSet("personal_sign"))
	if !errors.Is(err, session.ErrUnauthorizedNonControllerCall) {
		t.Fatalf("expect ErrUnauthorizedNonControllerCall, got %v", err)
	}
	if err := wallet.UpdateEvents(ctx, "missing", session.NewSet("x")); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expect ErrSessionNotFound, got %v", err)
	}
	if n := len(hub.Published()); n != 0 {
		t.Fatalf("expect nothing published, got %d messages", n)
	}
}

func TestPing(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	dapp := newPeer(t, hub, sequence("T", true), sequence("orphan", true))
	wallet := newPeer(t, hub, sequence("T", false))
	subscribeAll(t, ctx, "T", dapp, wallet)
	subscribeAll(t, ctx, "orphan", dapp, wallet)

	if err := dapp.Ping(ctx, "T"); err != nil {
		t.Fatal(err)
	}
	expectCode(t, dapp.Ping(ctx, "orphan"), message.CodeNoMatchingSession)
}

func TestResubscribeAndForget(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	p := newPeer(t, hub, sequence("A", true), sequence("B", false))

	if err := p.Resubscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if !p.Dispatcher().IsSubscribed("A") || !p.Dispatcher().IsSubscribed("B") {
		t.Fatalf("expect both topics subscribed, got %+v", p.Dispatcher().Subscriptions())
	}
	if len(hub.Subscribers("A")) != 1 {
		t.Fatalf("expect one subscriber at the relay, got %v", hub.Subscribers("A"))
	}

	if err := p.Forget(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if p.Dispatcher().IsSubscribed("A") || len(hub.Subscribers("A")) != 0 {
		t.Fatal("expect A to be unsubscribed")
	}
	if err := p.Forget(ctx, "A"); err != nil {
		t.Fatalf("forgetting twice must be harmless, got %v", err)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	ctx := testContext(t)
	hub := relaytest.NewHub(nil)
	dapp := newPeer(t, hub, sequence("T", true))
	subscribeAll(t, ctx, "T", dapp)

	// Nobody else is on T, so the ping is never answered.
	errc := make(chan error, 1)
	go func() { errc <- dapp.Ping(ctx, "T") }()

	deadline := time.Now().Add(2 * time.Second)
	for dapp.Dispatcher().Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ping never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := dapp.Close(); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; !errors.Is(err, relay.ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestMiddlewares(t *testing.T) {
	cfg := config.Default().Server
	if n := len(Middlewares(cfg, nil)); n != 3 {
		t.Fatalf("expect logging, timeout and recover, got %d", n)
	}
	cfg.RateLimit, cfg.Burst, cfg.HandlerTimeout = 10, 2, 0
	if n := len(Middlewares(cfg, nil)); n != 3 {
		t.Fatalf("expect logging, rate limit and recover, got %d", n)
	}
}

// slowStore delays every write.
type slowStore struct {
	*store.Memory
	delay time.Duration
}

func (s *slowStore) SetSession(ctx context.Context, seq session.Sequence) error {
	time.Sleep(s.delay)
	return s.Memory.SetSession(ctx, seq)
}

func TestHandlerTimeoutSparesSessionUpdates(t *testing.T) {
	hub := relaytest.NewHub(zaptest.NewLogger(t))
	st := &slowStore{Memory: store.NewMemory(), delay: 100 * time.Millisecond}
	if err := st.Memory.SetSession(context.Background(), sequence("T", false)); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	cfg := config.Default().Server
	cfg.HandlerTimeout = 20 * time.Millisecond
	c, err := New(hub.Connect(), st, Options{
		Callbacks:   rec.callbacks(),
		Middlewares: Middlewares(cfg, zaptest.NewLogger(t)),
		Logger:      zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	srv := c.Dispatcher().Server()

	req, _ := message.NewRequest(1, session.MethodSessionUpdateMethods, map[string]any{"methods": []string{"personal_sign"}})
	resp := srv.Dispatch(server.WithTopic(context.Background(), "T"), req)
	if resp == nil || resp.IsError() {
		t.Fatalf("expect success despite the slow store, got %+v", resp)
	}
	seq, _, _ := st.Session(context.Background(), "T")
	if !seq.Methods.Equal(session.NewSet("personal_sign")) {
		t.Fatalf("expect stored methods personal_sign, got %v", seq.Methods.Sorted())
	}
	rec.wait(t)

	err = server.RegisterFunc(srv, "test_slow", func(ctx context.Context, _ struct{}) (bool, *message.RPCError) {
		time.Sleep(100 * time.Millisecond)
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	req, _ = message.NewRequest(2, "test_slow", struct{}{})
	resp = srv.Dispatch(context.Background(), req)
	if resp == nil || resp.Error == nil || resp.Error.Code != message.CodeInternal {
		t.Fatalf("expect -32603 for other slow methods, got %+v", resp)
	}
}

func TestDialRelayFailsOver(t *testing.T) {
	hub := relaytest.NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	good := "ws" + strings.TrimPrefix(srv.URL, "http")

	dead := httptest.NewServer(nil)
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	ctx := testContext(t)
	endpoints := []loadbalance.Endpoint{{URL: deadURL}, {URL: good}}
	ws, ep, err := DialRelay(ctx, endpoints, &loadbalance.RoundRobinBalancer{}, "", transport.WebSocketOptions{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	if ep.URL != good {
		t.Fatalf("expect %s, got %s", good, ep.URL)
	}
	go ws.Run(ctx)

	d := relay.New(ws, nil, relay.Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { d.Close() })
	if _, err := d.Subscribe(ctx, "T"); err != nil {
		t.Fatalf("subscribe over websocket: %v", err)
	}
	if len(hub.Subscribers("T")) != 1 {
		t.Fatalf("expect one subscriber, got %v", hub.Subscribers("T"))
	}
}

func TestDialRelayAllDead(t *testing.T) {
	dead := httptest.NewServer(nil)
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	_, _, err := DialRelay(testContext(t), []loadbalance.Endpoint{{URL: deadURL}}, &loadbalance.WeightedRandomBalancer{}, "", transport.WebSocketOptions{})
	if err == nil {
		t.Fatal("expect dial error")
	}
	if _, _, err := DialRelay(testContext(t), nil, &loadbalance.RoundRobinBalancer{}, "", transport.WebSocketOptions{}); !errors.Is(err, loadbalance.ErrNoEndpoints) {
		t.Fatalf("expect ErrNoEndpoints, got %v", err)
	}
}
