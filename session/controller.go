package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wc-rpc/codec"
	"wc-rpc/message"
)

// Controller initiates capability updates. Every precondition is checked
// before anything is written or sent.
type Controller struct {
	store     Store
	requester Requester
	callbacks Callbacks
	logger    *zap.Logger
}

func NewController(store Store, requester Requester, callbacks Callbacks, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		requester: requester,
		callbacks: callbacks,
		logger:    logger.Named("controller"),
	}
}

// UpdateMethods replaces the session's methods, persists the change and
// asks the peer to apply it. The peer's answer arrives later: success fires
// OnMethodsUpdate with the persisted set, failure is logged and the local
// change is kept.
func (c *Controller) UpdateMethods(ctx context.Context, topic string, methods Set) error {
	seq, err := c.prepare(ctx, topic, methods)
	if err != nil {
		return err
	}
	seq.Methods = methods.Clone()
	if err := c.store.SetSession(ctx, seq); err != nil {
		return err
	}
	c.logger.Debug("updating methods", zap.String("topic", topic), zap.Strings("methods", methods.Sorted()))

	_, err = c.requester.RequestAsync(ctx, topic, MethodSessionUpdateMethods,
		UpdateMethodsParams{Methods: seq.Methods},
		c.onAnswer(ctx, topic, "methods", func(seq Sequence) {
			if c.callbacks.OnMethodsUpdate != nil {
				c.callbacks.OnMethodsUpdate(seq.Topic, seq.Methods)
			}
		}))
	return err
}

// UpdateEvents is UpdateMethods for the session's events.
func (c *Controller) UpdateEvents(ctx context.Context, topic string, events Set) error {
	seq, err := c.prepare(ctx, topic, events)
	if err != nil {
		return err
	}
	seq.Events = events.Clone()
	if err := c.store.SetSession(ctx, seq); err != nil {
		return err
	}
	c.logger.Debug("updating events", zap.String("topic", topic), zap.Strings("events", events.Sorted()))

	_, err = c.requester.RequestAsync(ctx, topic, MethodSessionUpdateEvents,
		UpdateEventsParams{Events: seq.Events},
		c.onAnswer(ctx, topic, "events", func(seq Sequence) {
			if c.callbacks.OnEventsUpdate != nil {
				c.callbacks.OnEventsUpdate(seq.Topic, seq.Events)
			}
		}))
	return err
}

// Ping checks that the peer still knows the session. Either role may ping.
func (c *Controller) Ping(ctx context.Context, topic string) error {
	if _, err := lookup(ctx, c.store, topic); err != nil {
		return err
	}
	resp, err := c.requester.Request(ctx, topic, MethodSessionPing, PingParams{})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	ok, err := codec.Into[bool](resp.Result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: peer answered ping with false")
	}
	return nil
}

// prepare loads the session and runs the checks shared by both updates,
// in order: found, acknowledged, controller, well-formed value.
func (c *Controller) prepare(ctx context.Context, topic string, value Set) (Sequence, error) {
	seq, err := lookup(ctx, c.store, topic)
	if err != nil {
		return Sequence{}, err
	}
	if !seq.Acknowledged {
		return Sequence{}, fmt.Errorf("%w: %q", ErrSessionNotAcknowledged, topic)
	}
	if !seq.SelfIsController {
		return Sequence{}, ErrUnauthorizedNonControllerCall
	}
	if !value.valid() {
		return Sequence{}, fmt.Errorf("%w: %q", ErrInvalidUpdateValue, value.Sorted())
	}
	return seq, nil
}

// onAnswer builds the continuation for an update request. On success it
// reads the session back so the callback sees what was persisted.
func (c *Controller) onAnswer(ctx context.Context, topic, what string, notify func(Sequence)) func(*message.Response, error) {
	ctx = context.WithoutCancel(ctx)
	return func(resp *message.Response, err error) {
		if err == nil && resp.Error != nil {
			err = resp.Error
		}
		if err != nil {
			c.logger.Error("peer failed to update "+what, zap.String("topic", topic), zap.Error(err))
			return
		}
		seq, ok, err := c.store.Session(ctx, topic)
		if err != nil || !ok {
			c.logger.Warn("session gone before update was confirmed", zap.String("topic", topic), zap.Error(err))
			return
		}
		notify(seq)
	}
}
