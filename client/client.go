// Package client wires one peer together: a relay dispatcher on a
// transport, the method server behind it, a session store and both session
// state machines.
//
//	Client
//	  ├─ relay.Dispatcher ── transport.Transport ── relay
//	  │    └─ server.Server ── middleware chain ── session.NonController
//	  ├─ session.Controller ──► Dispatcher.RequestAsync
//	  └─ session.Store
package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wc-rpc/config"
	"wc-rpc/middleware"
	"wc-rpc/relay"
	"wc-rpc/server"
	"wc-rpc/session"
	"wc-rpc/transport"
)

type Options struct {
	Relay     relay.Options
	Callbacks session.Callbacks
	// Middlewares wrap every inbound request, in order.
	Middlewares     []middleware.Middleware
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

type Client struct {
	dispatcher    *relay.Dispatcher
	server        *server.Server
	store         session.Store
	controller    *session.Controller
	noncontroller *session.NonController

	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// New builds a client on t. The client takes ownership of t and closes it
// on Close when t can be closed.
func New(t transport.Transport, store session.Store, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 5 * time.Second
	}

	srv := server.NewServer(logger)
	for _, mw := range opts.Middlewares {
		srv.Use(mw)
	}
	noncontroller, err := session.NewNonController(srv, store, opts.Callbacks, logger)
	if err != nil {
		return nil, err
	}

	relayOpts := opts.Relay
	if relayOpts.Logger == nil {
		relayOpts.Logger = logger
	}
	dispatcher := relay.New(t, srv, relayOpts)

	return &Client{
		dispatcher:      dispatcher,
		server:          srv,
		store:           store,
		controller:      session.NewController(store, dispatcher, opts.Callbacks, logger),
		noncontroller:   noncontroller,
		shutdownTimeout: shutdown,
		logger:          logger.Named("client"),
	}, nil
}

func (c *Client) Dispatcher() *relay.Dispatcher { return c.dispatcher }
func (c *Client) Server() *server.Server         { return c.server }
func (c *Client) Store() session.Store           { return c.store }

// Subscribe starts delivery on topic.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	_, err := c.dispatcher.Subscribe(ctx, topic)
	return err
}

// Resubscribe subscribes to the topic of every stored session, for use
// after a (re)connect. It returns the first failure after trying them all.
func (c *Client) Resubscribe(ctx context.Context) error {
	seqs, err := c.store.Sessions(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, seq := range seqs {
		if c.dispatcher.IsSubscribed(seq.Topic) {
			continue
		}
		if _, err := c.dispatcher.Subscribe(ctx, seq.Topic); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("topic", seq.Topic), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget drops delivery for a session that has been removed from the
// store.
func (c *Client) Forget(ctx context.Context, topic string) error {
	if !c.dispatcher.IsSubscribed(topic) {
		return nil
	}
	c.logger.Info("session removed, unsubscribing", zap.String("topic", topic))
	return c.dispatcher.Unsubscribe(ctx, topic)
}

func (c *Client) UpdateMethods(ctx context.Context, topic string, methods session.Set) error {
	return c.controller.UpdateMethods(ctx, topic, methods)
}

func (c *Client) UpdateEvents(ctx context.Context, topic string, events session.Set) error {
	return c.controller.UpdateEvents(ctx, topic, events)
}

func (c *Client) Ping(ctx context.Context, topic string) error {
	return c.controller.Ping(ctx, topic)
}

// Close stops answering requests, rejects pending calls and closes the
// transport.
func (c *Client) Close() error {
	errShutdown := c.server.Shutdown(c.shutdownTimeout)
	errClose := c.dispatcher.Close()
	return errors.Join(errShutdown, errClose)
}

// Middlewares builds the inbound chain cfg describes: logging, then rate
// limiting and a handler deadline when configured, then panic recovery.
// Recovery sits innermost so it runs on the goroutine the deadline
// middleware starts. Session updates are exempt from the deadline: their
// store write and callback must agree with the answer the peer receives.
func Middlewares(cfg config.ServerConfig, logger *zap.Logger) []middleware.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.Burst))
	}
	if cfg.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.HandlerTimeout,
			session.MethodSessionUpdateMethods, session.MethodSessionUpdateEvents))
	}
	return append(mws, middleware.RecoverMiddleware(logger))
}
