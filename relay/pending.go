package relay

import (
	"sync"
	"time"

	"wc-rpc/message"
)

// Continuation receives the outcome of a call exactly once: either the
// peer's Response (which may carry an RPCError) or a local error such as
// ErrRequestTimeout or ErrClosed.
type Continuation func(resp *message.Response, err error)

type pendingCall struct {
	id     int64
	method string
	peer   bool   // published on topic, answered by the other peer
	topic  string // empty for calls to the relay itself
	done   Continuation
	timer  *time.Timer
}

// pendingTable correlates responses with the calls that are waiting for
// them. An entry is stored before its request is sent and removed with
// LoadAndDelete, so whoever removes it (response, timeout, teardown) is the
// only one to run its continuation.
type pendingTable struct {
	calls sync.Map // map[int64]*pendingCall
}

func (t *pendingTable) store(c *pendingCall) {
	t.calls.Store(c.id, c)
}

// take removes and returns the call for id.
func (t *pendingTable) take(id int64) (*pendingCall, bool) {
	v, ok := t.calls.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	c := v.(*pendingCall)
	if c.timer != nil {
		c.timer.Stop()
	}
	return c, true
}

// resolve hands resp to the waiting call with the same id, but only when
// that call was sent the way resp arrived: to the relay when peer is
// false, or to the peer on topic. A response from anywhere else leaves the
// call waiting.
func (t *pendingTable) resolve(peer bool, topic string, resp *message.Response) (*pendingCall, bool) {
	v, ok := t.calls.Load(resp.ID)
	if !ok {
		return nil, false
	}
	c := v.(*pendingCall)
	if c.peer != peer || c.topic != topic {
		return nil, false
	}
	if !t.calls.CompareAndDelete(resp.ID, c) {
		return nil, false
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.done(resp, nil)
	return c, true
}

// reject fails the call for id with err.
func (t *pendingTable) reject(id int64, err error) bool {
	c, ok := t.take(id)
	if !ok {
		return false
	}
	c.done(nil, err)
	return true
}

// rejectAll fails every waiting call with err.
func (t *pendingTable) rejectAll(err error) {
	t.calls.Range(func(key, _ any) bool {
		t.reject(key.(int64), err)
		return true
	})
}

func (t *pendingTable) len() int {
	n := 0
	t.calls.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
