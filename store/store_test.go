package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"

	"wc-rpc/config"
	"wc-rpc/session"
)

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Etcd)(nil)
)

// exerciseStore runs the same round trip against any backend.
func exerciseStore(t *testing.T, s session.Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Session(ctx, "T"); err != nil || ok {
		t.Fatalf("expect no session, got ok=%v err=%v", ok, err)
	}

	seq := session.Sequence{
		Topic:            "T",
		Acknowledged:     true,
		SelfIsController: false,
		Methods:          session.NewSet("personal_sign", "eth_sign"),
		Events:           session.NewSet("accountsChanged"),
		Accounts:         []string{"eip155:1:0xab16a96d359ec26a11e2c2b3d8f8b8942d5bfcdb"},
		Permissions:      json.RawMessage(`{"notifications":{"types":[]}}`),
	}
	if err := s.SetSession(ctx, seq); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Session(ctx, "T")
	if err != nil || !ok {
		t.Fatalf("expect session, got ok=%v err=%v", ok, err)
	}
	if got.Topic != "T" || !got.Acknowledged || got.SelfIsController {
		t.Fatalf("unexpected session %+v", got)
	}
	if !got.Methods.Equal(seq.Methods) || !got.Events.Equal(seq.Events) {
		t.Fatalf("expect sets to round trip, got %v %v", got.Methods.Sorted(), got.Events.Sorted())
	}
	if len(got.Accounts) != 1 || got.Accounts[0] != seq.Accounts[0] {
		t.Fatalf("expect accounts to round trip, got %v", got.Accounts)
	}
	if string(got.Permissions) != string(seq.Permissions) {
		t.Fatalf("expect permissions to round trip, got %s", got.Permissions)
	}

	// Overwrite
	seq.Methods = session.NewSet("personal_sign")
	if err := s.SetSession(ctx, seq); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Session(ctx, "T")
	if !got.Methods.Equal(session.NewSet("personal_sign")) {
		t.Fatalf("expect overwrite, got %v", got.Methods.Sorted())
	}

	if err := s.SetSession(ctx, session.Sequence{Topic: "A", Methods: session.NewSet("x")}); err != nil {
		t.Fatal(err)
	}
	all, err := s.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Topic != "A" || all[1].Topic != "T" {
		t.Fatalf("expect sessions A and T in order, got %+v", all)
	}

	if err := s.DeleteSession(ctx, "T"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Session(ctx, "T"); ok {
		t.Fatal("expect session to be deleted")
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seq := session.Sequence{Topic: "T", Methods: session.NewSet("a")}
	m.SetSession(ctx, seq)
	seq.Methods["b"] = struct{}{}

	got, _, _ := m.Session(ctx, "T")
	got.Methods["c"] = struct{}{}

	again, _, _ := m.Session(ctx, "T")
	if !again.Methods.Equal(session.NewSet("a")) {
		t.Fatalf("expect stored set isolated from callers, got %v", again.Methods.Sorted())
	}
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetSession(ctx, session.Sequence{Topic: "T", Acknowledged: true, Methods: session.NewSet("m")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	got, ok, err := s.Session(ctx, "T")
	if err != nil || !ok || !got.Acknowledged || !got.Methods.Has("m") {
		t.Fatalf("expect session to survive reopen, got %+v ok=%v err=%v", got, ok, err)
	}
}

// etcdEndpoints returns the endpoints named by WCRPC_ETCD_ENDPOINTS and
// skips the test when it is unset.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("WCRPC_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("WCRPC_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func newTestEtcd(t *testing.T) *Etcd {
	t.Helper()
	e, err := NewEtcd(EtcdOptions{
		Endpoints: etcdEndpoints(t),
		Prefix:    "/wc-rpc-test/" + t.Name() + "/" + time.Now().Format("150405.000000"),
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		e.client.Delete(context.Background(), e.prefix, clientv3.WithPrefix())
		e.Close()
	})
	return e
}

func TestEtcd(t *testing.T) {
	exerciseStore(t, newTestEtcd(t))
}

func TestEtcdWatchReportsDeletes(t *testing.T) {
	e := newTestEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	evicted := e.Watch(ctx)
	if err := e.SetSession(ctx, session.Sequence{Topic: "T", Methods: session.NewSet("m")}); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteSession(ctx, "T"); err != nil {
		t.Fatal(err)
	}
	select {
	case topic := <-evicted:
		if topic != "T" {
			t.Fatalf("expect T, got %s", topic)
		}
	case <-ctx.Done():
		t.Fatal("no eviction reported")
	}
}

func TestEtcdExpiredSessionIsNotStored(t *testing.T) {
	e := newTestEtcd(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute).Unix()
	if err := e.SetSession(ctx, session.Sequence{Topic: "T", Expiry: past, Methods: session.NewSet("m")}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.Session(ctx, "T"); ok {
		t.Fatal("expect expired session to be dropped")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, config.StoreConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*Memory); !ok {
		t.Fatalf("expect *Memory, got %T", b)
	}

	b, err = Open(ctx, config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	if _, ok := b.(*SQLite); !ok {
		t.Fatalf("expect *SQLite, got %T", b)
	}

	if _, err := Open(ctx, config.StoreConfig{Backend: "redis"}, nil); err == nil {
		t.Fatal("expect error for unknown backend")
	}
}
