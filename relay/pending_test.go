package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wc-rpc/message"
)

func TestPendingResolveExactlyOnce(t *testing.T) {
	var table pendingTable
	var calls atomic.Int32
	table.store(&pendingCall{id: 1, method: "m", done: func(resp *message.Response, err error) {
		calls.Add(1)
	}})

	resp, _ := message.NewResult(1, true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			table.resolve(false, "", resp)
		}()
		go func() {
			defer wg.Done()
			table.reject(1, ErrRequestTimeout)
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expect continuation to run once, ran %d times", got)
	}
	if table.len() != 0 {
		t.Fatalf("expect empty table, got %d", table.len())
	}
}

func TestPendingUnknownID(t *testing.T) {
	var table pendingTable
	resp, _ := message.NewResult(42, "x")
	if _, ok := table.resolve(false, "", resp); ok {
		t.Fatal("expect unknown id to be ignored")
	}
	if table.reject(42, ErrClosed) {
		t.Fatal("expect reject of unknown id to report false")
	}
}

func TestPendingResolveChecksRoute(t *testing.T) {
	var table pendingTable
	var calls atomic.Int32
	done := func(*message.Response, error) { calls.Add(1) }
	table.store(&pendingCall{id: 1, peer: true, topic: "A", done: done})
	table.store(&pendingCall{id: 2, done: done})

	one, _ := message.NewResult(1, true)
	two, _ := message.NewResult(2, true)
	cases := []struct {
		name  string
		peer  bool
		topic string
		resp  *message.Response
	}{
		{"peer call answered on another topic", true, "B", one},
		{"peer call answered by the relay", false, "", one},
		{"relay call answered by a peer", true, "", two},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := table.resolve(tc.peer, tc.topic, tc.resp); ok {
				t.Fatal("expect the call to stay pending")
			}
		})
	}
	if calls.Load() != 0 || table.len() != 2 {
		t.Fatalf("expect both calls waiting, got %d resolved and %d pending", calls.Load(), table.len())
	}

	if _, ok := table.resolve(true, "A", one); !ok {
		t.Fatal("expect the answer on A to resolve call 1")
	}
	if _, ok := table.resolve(false, "", two); !ok {
		t.Fatal("expect the relay answer to resolve call 2")
	}
	if calls.Load() != 2 {
		t.Fatalf("expect two continuations, got %d", calls.Load())
	}
}

func TestPendingTakeStopsTimer(t *testing.T) {
	var table pendingTable
	fired := make(chan struct{}, 1)
	c := &pendingCall{id: 7, done: func(*message.Response, error) {}}
	c.timer = time.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	table.store(c)

	if _, ok := table.take(7); !ok {
		t.Fatal("expect entry")
	}
	select {
	case <-fired:
		t.Fatal("timer fired after take")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestPendingRejectAll(t *testing.T) {
	var table pendingTable
	errs := make(chan error, 3)
	for id := int64(1); id <= 3; id++ {
		table.store(&pendingCall{id: id, done: func(_ *message.Response, err error) { errs <- err }})
	}
	table.rejectAll(ErrClosed)

	for i := 0; i < 3; i++ {
		if err := <-errs; !errors.Is(err, ErrClosed) {
			t.Fatalf("expect ErrClosed, got %v", err)
		}
	}
	if table.len() != 0 {
		t.Fatalf("expect empty table, got %d", table.len())
	}
}

func TestListenersOrderAndRemoval(t *testing.T) {
	var l listeners[int]
	var got []string
	removeA := l.add(func(v int) { got = append(got, "a") })
	l.add(func(v int) { got = append(got, "b") })

	l.emit(1)
	removeA()
	removeA()
	l.emit(2)

	want := []string{"a", "b", "b"}
	if len(got) != len(want) {
		t.Fatalf("expect %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, got)
		}
	}
}
