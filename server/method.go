package server

import (
	"context"
	"reflect"
	"weak"

	"wc-rpc/codec"
	"wc-rpc/message"
)

// MethodDescriptor describes a registered method: its wire name and the Go
// types its params decode into and its result encodes from.
type MethodDescriptor struct {
	Name      string
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// invokeFunc runs a handler. alive is false when the handler's owner has
// been garbage collected, in which case nothing was invoked.
type invokeFunc func(ctx context.Context, params codec.Value) (result any, rpcErr *message.RPCError, alive bool)

type methodType struct {
	MethodDescriptor
	invoke invokeFunc
}

// Register binds method to fn, invoked on owner. The server holds owner
// weakly: once the owner is unreachable elsewhere, requests for method are
// dropped without a response. fn should be a method expression such as
// (*Engine).handleUpdate so that it does not capture owner itself.
func Register[O, In, Out any](s *Server, method string, owner *O, fn func(*O, context.Context, In) (Out, *message.RPCError)) error {
	if owner == nil {
		return errNilOwner
	}
	ref := weak.Make(owner)
	return s.register(&methodType{
		MethodDescriptor: describe[In, Out](method),
		invoke: func(ctx context.Context, params codec.Value) (any, *message.RPCError, bool) {
			target := ref.Value()
			if target == nil {
				return nil, nil, false
			}
			in, err := codec.Into[In](params)
			if err != nil {
				return nil, message.NewRPCError(message.CodeInvalidParams, "invalid params: %v", err), true
			}
			out, rpcErr := fn(target, ctx, in)
			if rpcErr != nil {
				return nil, rpcErr, true
			}
			return out, nil, true
		},
	})
}

// RegisterFunc binds method to a plain function with no owner.
func RegisterFunc[In, Out any](s *Server, method string, fn func(context.Context, In) (Out, *message.RPCError)) error {
	return s.register(&methodType{
		MethodDescriptor: describe[In, Out](method),
		invoke: func(ctx context.Context, params codec.Value) (any, *message.RPCError, bool) {
			in, err := codec.Into[In](params)
			if err != nil {
				return nil, message.NewRPCError(message.CodeInvalidParams, "invalid params: %v", err), true
			}
			out, rpcErr := fn(ctx, in)
			if rpcErr != nil {
				return nil, rpcErr, true
			}
			return out, nil, true
		},
	})
}

func describe[In, Out any](method string) MethodDescriptor {
	return MethodDescriptor{
		Name:      method,
		ArgType:   reflect.TypeFor[In](),
		ReplyType: reflect.TypeFor[Out](),
	}
}
