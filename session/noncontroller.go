package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wc-rpc/message"
	"wc-rpc/server"
)

// NonController answers update and ping requests from the peer. Every
// failure becomes an error response; a rejected update leaves the stored
// session untouched. Update callbacks run after the success response has
// been sent.
type NonController struct {
	store     Store
	callbacks Callbacks
	logger    *zap.Logger
}

// NewNonController registers the inbound handlers on srv. srv holds the
// returned NonController weakly, so the caller must keep it alive for as
// long as it should answer.
func NewNonController(srv *server.Server, store Store, callbacks Callbacks, logger *zap.Logger) (*NonController, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &NonController{
		store:     store,
		callbacks: callbacks,
		logger:    logger.Named("noncontroller"),
	}
	if err := server.Register(srv, MethodSessionUpdateMethods, n, (*NonController).handleUpdateMethods); err != nil {
		return nil, err
	}
	if err := server.Register(srv, MethodSessionUpdateEvents, n, (*NonController).handleUpdateEvents); err != nil {
		return nil, err
	}
	if err := server.Register(srv, MethodSessionPing, n, (*NonController).handlePing); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *NonController) handleUpdateMethods(ctx context.Context, params UpdateMethodsParams) (bool, *message.RPCError) {
	topic, _ := server.TopicFromContext(ctx)
	seq, err := n.accept(ctx, topic, params.Methods, ErrUnauthorizedMethodsUpdate)
	if err != nil {
		n.logger.Warn("rejected methods update", zap.String("topic", topic), zap.Error(err))
		return false, RPCErrorFor(err)
	}
	seq.Methods = params.Methods.Clone()
	if err := n.store.SetSession(ctx, seq); err != nil {
		n.logger.Error("failed to persist methods update", zap.String("topic", topic), zap.Error(err))
		return false, RPCErrorFor(err)
	}
	if n.callbacks.OnMethodsUpdate != nil {
		updated := seq.Methods.Clone()
		server.AfterReply(ctx, func() { n.callbacks.OnMethodsUpdate(topic, updated) })
	}
	return true, nil
}

func (n *NonController) handleUpdateEvents(ctx context.Context, params UpdateEventsParams) (bool, *message.RPCError) {
	topic, _ := server.TopicFromContext(ctx)
	seq, err := n.accept(ctx, topic, params.Events, ErrUnauthorizedEventsUpdate)
	if err != nil {
		n.logger.Warn("rejected events update", zap.String("topic", topic), zap.Error(err))
		return false, RPCErrorFor(err)
	}
	seq.Events = params.Events.Clone()
	if err := n.store.SetSession(ctx, seq); err != nil {
		n.logger.Error("failed to persist events update", zap.String("topic", topic), zap.Error(err))
		return false, RPCErrorFor(err)
	}
	if n.callbacks.OnEventsUpdate != nil {
		updated := seq.Events.Clone()
		server.AfterReply(ctx, func() { n.callbacks.OnEventsUpdate(topic, updated) })
	}
	return true, nil
}

func (n *NonController) handlePing(ctx context.Context, _ PingParams) (bool, *message.RPCError) {
	topic, _ := server.TopicFromContext(ctx)
	if _, err := lookup(ctx, n.store, topic); err != nil {
		return false, RPCErrorFor(err)
	}
	return true, nil
}

// accept runs the inbound checks in order: session exists, value is
// well-formed, sender controls the session. The sender is the controller
// exactly when this side is not.
func (n *NonController) accept(ctx context.Context, topic string, value Set, unauthorized error) (Sequence, error) {
	seq, err := lookup(ctx, n.store, topic)
	if err != nil {
		return Sequence{}, err
	}
	if !value.valid() {
		return Sequence{}, fmt.Errorf("%w: %q", ErrInvalidUpdateValue, value.Sorted())
	}
	if seq.SelfIsController {
		return Sequence{}, fmt.Errorf("%w: %q", unauthorized, topic)
	}
	return seq, nil
}
