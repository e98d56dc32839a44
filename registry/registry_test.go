package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"

	"wc-rpc/loadbalance"
)

var (
	_ Registry = (*Static)(nil)
	_ Registry = (*EtcdRegistry)(nil)
)

// exerciseRegistry runs register, discover and deregister against any
// implementation.
func exerciseRegistry(t *testing.T, reg Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relay1 := loadbalance.Endpoint{URL: "ws://127.0.0.1:8001/relay", Weight: 10}
	relay2 := loadbalance.Endpoint{URL: "ws://127.0.0.1:8002/relay", Weight: 5}
	if err := reg.Register(ctx, relay1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, relay2, 10); err != nil {
		t.Fatal(err)
	}

	endpoints, err := reg.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expect 2 relays, got %+v", endpoints)
	}

	if err := reg.Deregister(ctx, relay1.URL); err != nil {
		t.Fatal(err)
	}
	endpoints, err = reg.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 1 || endpoints[0] != relay2 {
		t.Fatalf("expect only %+v after deregister, got %+v", relay2, endpoints)
	}
}

func TestStatic(t *testing.T) {
	exerciseRegistry(t, NewStatic(nil))
}

func TestStaticReregisterReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewStatic([]loadbalance.Endpoint{{URL: "ws://a", Weight: 1}})
	s.Register(ctx, loadbalance.Endpoint{URL: "ws://a", Weight: 7}, 0)
	endpoints, _ := s.Discover(ctx)
	if len(endpoints) != 1 || endpoints[0].Weight != 7 {
		t.Fatalf("expect one updated entry, got %+v", endpoints)
	}
}

func TestStaticWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStatic(nil)
	updates := s.Watch(ctx)

	s.Register(ctx, loadbalance.Endpoint{URL: "ws://a"}, 0)
	s.Register(ctx, loadbalance.Endpoint{URL: "ws://b"}, 0)
	// unread updates collapse into the latest list
	select {
	case got := <-updates:
		if len(got) != 2 {
			t.Fatalf("expect the latest list, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatal("expect the channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func newTestEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	env := os.Getenv("WCRPC_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("WCRPC_ETCD_ENDPOINTS not set")
	}
	reg, err := NewEtcdRegistry(EtcdOptions{
		Endpoints: strings.Split(env, ","),
		Prefix:    "/wc-rpc-test/relays/" + time.Now().Format("150405.000000"),
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		reg.client.Delete(context.Background(), reg.prefix, clientv3.WithPrefix())
		reg.Close()
	})
	return reg
}

func TestEtcdRegistry(t *testing.T) {
	exerciseRegistry(t, newTestEtcd(t))
}

func TestEtcdRegistryWatch(t *testing.T) {
	reg := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updates := reg.Watch(ctx)
	ep := loadbalance.Endpoint{URL: "ws://127.0.0.1:9000", Weight: 1}
	if err := reg.Register(ctx, ep, 10); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-updates:
		if len(got) != 1 || got[0] != ep {
			t.Fatalf("expect %+v, got %+v", ep, got)
		}
	case <-ctx.Done():
		t.Fatal("no update after register")
	}
}
