package relaytest

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wc-rpc/transport"
)

var upgrader = websocket.Upgrader{
	// the dev relay accepts any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket and serves the relay
// protocol on it until the connection ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	ws := transport.NewWebSocket(conn, transport.WebSocketOptions{Logger: h.logger})
	detach := h.Attach(ws)
	defer detach()

	h.logger.Debug("client connected", zap.String("remote", r.RemoteAddr))
	if err := ws.Run(r.Context()); err != nil {
		h.logger.Debug("client disconnected", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}
