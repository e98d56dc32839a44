package commands

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wc-rpc/client"
	"wc-rpc/loadbalance"
	"wc-rpc/registry"
	"wc-rpc/relay"
	"wc-rpc/session"
	"wc-rpc/store"
	"wc-rpc/transport"
)

type peer struct {
	*client.Client
	ws      *transport.WebSocket
	backend store.Backend
	relay   loadbalance.Endpoint
}

// openRegistry returns the etcd registry when one is configured and the
// static endpoint list otherwise. closeFn releases it.
func (a *app) openRegistry() (reg registry.Registry, closeFn func() error, err error) {
	rc := a.cfg.Relay.Registry
	if len(rc.Endpoints) == 0 {
		return registry.NewStatic(a.cfg.Relay.Endpoints), func() error { return nil }, nil
	}
	etcd, err := registry.NewEtcdRegistry(registry.EtcdOptions{
		Endpoints:   rc.Endpoints,
		DialTimeout: a.cfg.Store.DialTimeout,
		Prefix:      rc.Prefix,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return etcd, etcd.Close, nil
}

// relayEndpoints lists the relays to dial: those announced in the
// registry, or the configured ones when none are announced.
func (a *app) relayEndpoints(ctx context.Context) ([]loadbalance.Endpoint, error) {
	reg, closeReg, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	defer closeReg()
	endpoints, err := reg.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		endpoints = a.cfg.Relay.Endpoints
	}
	if len(endpoints) == 0 {
		return nil, loadbalance.ErrNoEndpoints
	}
	return endpoints, nil
}

// openPeer opens the configured store, dials a relay and builds a client
// on the connection. The caller must run p.ws and close p.
func (a *app) openPeer(ctx context.Context, callbacks session.Callbacks) (*peer, error) {
	backend, err := store.Open(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return nil, err
	}
	bal, err := loadbalance.New(a.cfg.Relay.Balancer)
	if err != nil {
		backend.Close()
		return nil, err
	}
	endpoints, err := a.relayEndpoints(ctx)
	if err != nil {
		backend.Close()
		return nil, err
	}
	ws, ep, err := client.DialRelay(ctx, endpoints, bal, a.topic, transport.WebSocketOptions{
		PingInterval: a.cfg.Relay.PingInterval,
		Logger:       a.logger,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	a.logger.Debug("connected to relay", zap.String("url", ep.URL), zap.String("balancer", bal.Name()))

	opts := relay.Options{
		RequestTimeout: a.cfg.Relay.RequestTimeout,
		TTL:            a.cfg.Relay.TTL,
		Logger:         a.logger,
	}
	if a.keys != nil {
		opts.Cipher = a.keys
	}
	c, err := client.New(ws, backend, client.Options{
		Relay:           opts,
		Callbacks:       callbacks,
		Middlewares:     client.Middlewares(a.cfg.Server, a.logger),
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		Logger:          a.logger,
	})
	if err != nil {
		ws.Close()
		backend.Close()
		return nil, err
	}
	return &peer{Client: c, ws: ws, backend: backend, relay: ep}, nil
}

func (p *peer) close() error {
	return errors.Join(p.Client.Close(), p.backend.Close())
}

// withPeer runs fn against a connected peer while the connection's read
// loop runs beside it. The connection is torn down when fn returns or the
// read loop fails, whichever comes first.
func (a *app) withPeer(ctx context.Context, callbacks session.Callbacks, fn func(ctx context.Context, p *peer) error) error {
	p, err := a.openPeer(ctx, callbacks)
	if err != nil {
		return err
	}
	defer p.close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ws.Run(ctx) })
	g.Go(func() error {
		defer stop()
		return fn(ctx, p)
	})
	return g.Wait()
}
