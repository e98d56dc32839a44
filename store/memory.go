// Package store provides session.Store backends: an in-memory map, a
// SQLite file and an etcd key prefix.
package store

import (
	"context"
	"sort"
	"sync"

	"wc-rpc/session"
)

// Backend is a session store that holds resources until closed.
type Backend interface {
	session.Store
	Close() error
}

// Memory keeps sequences in a map. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	seqs map[string]session.Sequence
}

func NewMemory() *Memory {
	return &Memory{seqs: make(map[string]session.Sequence)}
}

func (m *Memory) Session(_ context.Context, topic string) (session.Sequence, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.seqs[topic]
	if !ok {
		return session.Sequence{}, false, nil
	}
	return seq.Clone(), true, nil
}

func (m *Memory) SetSession(_ context.Context, seq session.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[seq.Topic] = seq.Clone()
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seqs, topic)
	return nil
}

// Sessions returns every sequence ordered by topic.
func (m *Memory) Sessions(_ context.Context) ([]session.Sequence, error) {
	m.mu.RLock()
	out := make([]session.Sequence, 0, len(m.seqs))
	for _, seq := range m.seqs {
		out = append(out, seq.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func (m *Memory) Close() error { return nil }
