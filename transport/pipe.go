package transport

import (
	"context"
	"sync"
)

const pipeBuffer = 256

// PipeEnd is one side of an in-memory transport pair. Messages sent on one
// end are delivered to the other end's handler.
type PipeEnd struct {
	inbox chan string
	peer  *PipeEnd

	mu      sync.Mutex
	handler func(string)
	started bool

	done      chan struct{}
	closeOnce *sync.Once
}

// NewPipe returns two connected ends. Delivery on an end starts when its
// handler is set; earlier messages wait in a buffer.
func NewPipe() (*PipeEnd, *PipeEnd) {
	done := make(chan struct{})
	once := new(sync.Once)
	a := &PipeEnd{inbox: make(chan string, pipeBuffer), done: done, closeOnce: once}
	b := &PipeEnd{inbox: make(chan string, pipeBuffer), done: done, closeOnce: once}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Send(ctx context.Context, msg string) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.peer.inbox <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) SetMessageHandler(handler func(msg string)) {
	p.mu.Lock()
	p.handler = handler
	start := !p.started && handler != nil
	if start {
		p.started = true
	}
	p.mu.Unlock()
	if start {
		go p.deliverLoop()
	}
}

// deliverLoop hands inbound messages to the handler one at a time.
func (p *PipeEnd) deliverLoop() {
	for {
		select {
		case msg := <-p.inbox:
			p.mu.Lock()
			handler := p.handler
			p.mu.Unlock()
			if handler != nil {
				handler(msg)
			}
		case <-p.done:
			return
		}
	}
}

// Close shuts down both ends.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
