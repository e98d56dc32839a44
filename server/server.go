// Package server implements the method registry: typed handlers registered by
// method name, invoked for inbound JSON-RPC requests.
//
// Request processing pipeline:
//
//	Dispatch(req)
//	  → Middleware Chain → businessHandler
//	    → lookup method → codec.Into[In](params) → handler → codec.From(result) → Response
//
// The server does not own a connection. The relay dispatcher hands it every
// inbound request and sends whatever Response comes back.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wc-rpc/message"
	"wc-rpc/middleware"
)

var errNilOwner = errors.New("server: handler owner must not be nil")

// Server holds the method table and the middleware chain wrapped around it.
type Server struct {
	mu          sync.RWMutex
	methods     map[string]*methodType
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
	wg          sync.WaitGroup         // in-flight dispatches, for Shutdown
	shutdown    atomic.Bool
	logger      *zap.Logger
}

// NewServer creates a server with an empty method table. A nil logger
// disables logging.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		methods: make(map[string]*methodType),
		logger:  logger.Named("server"),
	}
	s.handler = s.businessHandler
	return s
}

// Use appends a middleware. Middlewares run in the order they were added.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
}

// register installs m, replacing any previous handler for the same name.
func (s *Server) register(m *methodType) error {
	if m.Name == "" {
		return fmt.Errorf("server: empty method name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[m.Name]; ok {
		s.logger.Debug("replacing method handler", zap.String("method", m.Name))
	}
	s.methods[m.Name] = m
	return nil
}

// Unregister removes method and reports whether it was registered.
func (s *Server) Unregister(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.methods[method]
	delete(s.methods, method)
	return ok
}

// Describe returns the descriptor registered for method.
func (s *Server) Describe(method string) (MethodDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[method]
	if !ok {
		return MethodDescriptor{}, false
	}
	return m.MethodDescriptor, true
}

// Methods lists registered method names in sorted order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs req through the middleware chain and the registered handler.
// It returns nil when no response should be sent: the handler's owner is
// gone, or the server is shutting down.
func (s *Server) Dispatch(ctx context.Context, req *message.Request) *message.Response {
	if s.shutdown.Load() {
		return nil
	}
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	return handler(ctx, req)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// businessHandler is the innermost handler: it has the HandlerFunc signature
// so the middleware chain can wrap it.
func (s *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	s.mu.RLock()
	m := s.methods[req.Method]
	s.mu.RUnlock()
	if m == nil {
		return message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeMethodNotFound, "method not found: %s", req.Method))
	}

	result, rpcErr, alive := m.invoke(ctx, req.Params)
	if !alive {
		s.logger.Debug("handler owner released, dropping request", zap.String("method", req.Method), zap.Int64("id", req.ID))
		return nil
	}
	if rpcErr != nil {
		return message.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := message.NewResult(req.ID, result)
	if err != nil {
		s.logger.Error("failed to encode method result", zap.String("method", req.Method), zap.Error(err))
		return message.NewErrorResponse(req.ID, message.NewRPCError(message.CodeInternal, "failed to encode result"))
	}
	return resp
}
