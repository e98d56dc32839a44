package registry

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"wc-rpc/loadbalance"
)

// DefaultPrefix is where relays are announced when no prefix is configured:
//
//	Key:   /wc-rpc/relays/{escaped url}
//	Value: JSON-encoded loadbalance.Endpoint
//
// Entries are written with a lease, so a relay that dies without
// deregistering disappears once the lease runs out.
const DefaultPrefix = "/wc-rpc/relays/"

type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
	Logger      *zap.Logger
}

type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
	logger *zap.Logger
}

func NewEtcdRegistry(opts EtcdOptions) (*EtcdRegistry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: timeout,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, prefix: prefix, logger: logger.Named("registry")}, nil
}

func (r *EtcdRegistry) key(rawURL string) string {
	return r.prefix + url.PathEscape(rawURL)
}

// Register writes ep under a ttl lease and keeps the lease alive until ctx
// is done.
//
// leaseID stays local so one EtcdRegistry can announce several relays.
func (r *EtcdRegistry) Register(ctx context.Context, ep loadbalance.Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	if _, err := r.client.Put(ctx, r.key(ep.URL), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// drain keepalive responses so the channel never fills
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("url", ep.URL))
	}()
	r.logger.Info("relay registered", zap.String("url", ep.URL), zap.Int64("ttl", ttl))
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, rawURL string) error {
	_, err := r.client.Delete(ctx, r.key(rawURL))
	return err
}

// Discover returns every announced relay. Malformed entries are skipped.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]loadbalance.Endpoint, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}
	endpoints := make([]loadbalance.Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep loadbalance.Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("skipping malformed relay entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch re-reads the full list on every change under the prefix, which is
// simpler than applying individual events.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []loadbalance.Endpoint {
	ch := make(chan []loadbalance.Endpoint, 1)
	watch := r.client.Watch(ctx, r.prefix, clientv3.WithPrefix())
	go func() {
		defer close(ch)
		for resp := range watch {
			if err := resp.Err(); err != nil {
				r.logger.Warn("relay watch failed", zap.Error(err))
				return
			}
			endpoints, err := r.Discover(ctx)
			if err != nil {
				r.logger.Warn("relay discovery failed", zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (r *EtcdRegistry) Close() error { return r.client.Close() }
