package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"wc-rpc/session"
)

// DefaultEtcdPrefix is where sequences live when no prefix is configured:
//
//	Key:   /wc-rpc/sessions/{topic}
//	Value: JSON-encoded session.Sequence
const DefaultEtcdPrefix = "/wc-rpc/sessions/"

type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
	Logger      *zap.Logger
}

// Etcd stores sequences under a key prefix so several processes can share
// them. A sequence with an Expiry is written with a lease, and etcd removes
// it when the session expires.
type Etcd struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewEtcd(opts EtcdOptions) (*Etcd, error) {
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
		prefix = DefaultEtcdPrefix
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
	return &Etcd{client: c, prefix: prefix, logger: logger.Named("store"), now: time.Now}, nil
}

func (e *Etcd) key(topic string) string { return e.prefix + topic }

func (e *Etcd) Session(ctx context.Context, topic string) (session.Sequence, bool, error) {
	resp, err := e.client.Get(ctx, e.key(topic))
	if err != nil {
		return session.Sequence{}, false, err
	}
	if len(resp.Kvs) == 0 {
		return session.Sequence{}, false, nil
	}
	var seq session.Sequence
	if err := json.Unmarshal(resp.Kvs[0].Value, &seq); err != nil {
		return session.Sequence{}, false, fmt.Errorf("decode session %q: %w", topic, err)
	}
	return seq, true, nil
}

// SetSession writes seq. When seq.Expiry (unix seconds) is set, the key is
// attached to a lease that runs out at that time.
func (e *Etcd) SetSession(ctx context.Context, seq session.Sequence) error {
	val, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	var opts []clientv3.OpOption
	if seq.Expiry > 0 {
		ttl := seq.Expiry - e.now().Unix()
		if ttl <= 0 {
			return e.DeleteSession(ctx, seq.Topic)
		}
		lease, err := e.client.Grant(ctx, ttl)
		if err != nil {
			return err
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}
	_, err = e.client.Put(ctx, e.key(seq.Topic), string(val), opts...)
	return err
}

func (e *Etcd) DeleteSession(ctx context.Context, topic string) error {
	_, err := e.client.Delete(ctx, e.key(topic))
	return err
}

// Sessions returns every sequence under the prefix, ordered by topic.
// Entries that fail to decode are skipped.
func (e *Etcd) Sessions(ctx context.Context) ([]session.Sequence, error) {
	resp, err := e.client.Get(ctx, e.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}
	out := make([]session.Sequence, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var seq session.Sequence
		if err := json.Unmarshal(kv.Value, &seq); err != nil {
			e.logger.Warn("skipping malformed session", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		out = append(out, seq)
	}
	return out, nil
}

// Watch reports the topic of every sequence removed from the store, by
// DeleteSession in any process or by lease expiry. The channel closes when
// ctx is done.
func (e *Etcd) Watch(ctx context.Context) <-chan string {
	ch := make(chan string, 16)
	watch := e.client.Watch(ctx, e.prefix, clientv3.WithPrefix(), clientv3.WithFilterPut())
	go func() {
		defer close(ch)
		for resp := range watch {
			if err := resp.Err(); err != nil {
				e.logger.Warn("session watch failed", zap.Error(err))
				return
			}
			for _, ev := range resp.Events {
				topic := strings.TrimPrefix(string(ev.Kv.Key), e.prefix)
				select {
				case ch <- topic:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func (e *Etcd) Close() error { return e.client.Close() }
