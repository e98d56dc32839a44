package session

import (
	"context"
	"fmt"

	"wc-rpc/message"
	"wc-rpc/relay"
)

// Store persists sequences by topic. Implementations live in package store.
type Store interface {
	// Session returns the sequence for topic. ok is false when there is
	// none; err is reserved for backend failures.
	Session(ctx context.Context, topic string) (seq Sequence, ok bool, err error)
	SetSession(ctx context.Context, seq Sequence) error
	DeleteSession(ctx context.Context, topic string) error
	Sessions(ctx context.Context) ([]Sequence, error)
}

// Requester sends peer requests on a topic. *relay.Dispatcher implements it.
type Requester interface {
	RequestAsync(ctx context.Context, topic, method string, params any, done relay.Continuation) (int64, error)
	Request(ctx context.Context, topic, method string, params any) (*message.Response, error)
}

// Callbacks are told about capability sets that both peers now agree on.
// Either may be nil.
type Callbacks struct {
	OnMethodsUpdate func(topic string, methods Set)
	OnEventsUpdate  func(topic string, events Set)
}

func lookup(ctx context.Context, store Store, topic string) (Sequence, error) {
	seq, ok, err := store.Session(ctx, topic)
	if err != nil {
		return Sequence{}, err
	}
	if !ok {
		return Sequence{}, fmt.Errorf("%w: %q", ErrSessionNotFound, topic)
	}
	return seq, nil
}
