package registry

import (
	"context"
	"slices"
	"sync"

	"wc-rpc/loadbalance"
)

// Static is a Registry over a fixed list, for configurations that name
// their relays directly.
type Static struct {
	mu        sync.Mutex
	endpoints []loadbalance.Endpoint
	watchers  []chan []loadbalance.Endpoint
}

func NewStatic(endpoints []loadbalance.Endpoint) *Static {
	return &Static{endpoints: slices.Clone(endpoints)}
}

func (s *Static) Register(_ context.Context, ep loadbalance.Endpoint, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = slices.DeleteFunc(s.endpoints, func(e loadbalance.Endpoint) bool { return e.URL == ep.URL })
	s.endpoints = append(s.endpoints, ep)
	s.notify()
	return nil
}

func (s *Static) Deregister(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = slices.DeleteFunc(s.endpoints, func(e loadbalance.Endpoint) bool { return e.URL == url })
	s.notify()
	return nil
}

func (s *Static) Discover(context.Context) ([]loadbalance.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.endpoints), nil
}

func (s *Static) Watch(ctx context.Context) <-chan []loadbalance.Endpoint {
	ch := make(chan []loadbalance.Endpoint, 1)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.watchers = slices.DeleteFunc(s.watchers, func(w chan []loadbalance.Endpoint) bool { return w == ch })
		s.mu.Unlock()
		close(ch)
	}()
	return ch
}

// notify hands each watcher the latest list, replacing one it has not
// read yet. Called with s.mu held.
func (s *Static) notify() {
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- slices.Clone(s.endpoints)
	}
}
