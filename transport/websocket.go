package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket is a Transport over a single websocket connection.
//
// Run owns the read side: it must be running for inbound messages to be
// delivered, and it delivers them on its own goroutine. Send may be called
// concurrently; the write lock keeps frames from interleaving.
type WebSocket struct {
	conn    *websocket.Conn
	sending sync.Mutex
	handler atomic.Pointer[func(string)]
	logger  *zap.Logger

	pingInterval time.Duration
	closed       atomic.Bool
}

// WebSocketOptions tunes a WebSocket. Zero values select defaults.
type WebSocketOptions struct {
	PingInterval time.Duration // keepalive ping period, default 30s; reads fail after two silent periods
	Header       http.Header   // extra dial headers
	Logger       *zap.Logger
}

// DialWebSocket connects to url and returns a transport ready for Run.
func DialWebSocket(ctx context.Context, url string, opts WebSocketOptions) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, opts), nil
}

// NewWebSocket wraps an established connection, dialed or accepted.
func NewWebSocket(conn *websocket.Conn, opts WebSocketOptions) *WebSocket {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &WebSocket{
		conn:         conn,
		logger:       logger.Named("websocket").With(zap.String("remote", conn.RemoteAddr().String())),
		pingInterval: interval,
	}
}

func (w *WebSocket) SetMessageHandler(handler func(msg string)) {
	w.handler.Store(&handler)
}

// Send writes msg as one text frame. The context deadline, if any, bounds
// the write.
func (w *WebSocket) Send(ctx context.Context, msg string) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.sending.Lock()
	defer w.sending.Unlock()

	deadline, _ := ctx.Deadline()
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Run reads until the connection fails or ctx is done. It closes the
// connection before returning.
func (w *WebSocket) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		w.Close()
	}()
	// A peer that answers neither pings nor with data for two ping periods
	// is gone; the expired deadline fails the read below.
	pongWait := 2 * w.pingInterval
	if err := w.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go w.heartbeatLoop(ctx)

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := w.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			w.logger.Debug("ignoring non-text frame", zap.Int("type", msgType))
			continue
		}
		if handler := w.handler.Load(); handler != nil && *handler != nil {
			(*handler)(string(data))
		}
	}
}

// heartbeatLoop pings the peer. Each pong extends the read deadline Run
// sets, so a silent peer fails the read once the deadline passes.
func (w *WebSocket) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl is safe to call concurrently with WriteMessage.
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.pingInterval/2))
			if err != nil {
				w.logger.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// Close sends a close frame and releases the connection.
func (w *WebSocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		w.logger.Debug("close frame not sent", zap.Error(err))
	}
	return w.conn.Close()
}
