package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ddevcap/rpc-proxy/api/middleware"
	"github.com/ddevcap/rpc-proxy/backend"
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	// Allow all origins — the proxy already enforces auth via api-key.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHub tracks active passthrough connections so they can be closed during
// graceful shutdown. Create one at startup and pass it to the handler.
type WSHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	done  chan struct{} // closed on shutdown
}

func NewWSHub() *WSHub {
	return &WSHub{
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

func (h *WSHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *WSHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Shutdown closes all active passthrough connections and signals handlers to
// exit.
func (h *WSHub) Shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
}

// WebSocketProxy upgrades the inbound connection and pipes frames to a
// dispatcher-selected healthy backend, both directions, until either side
// closes. Subscription traffic rides this path.
func WebSocketProxy(hub *WSHub, dispatcher *backend.Dispatcher, pool *backend.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		label, backendURL, ok := dispatcher.Select("")
		if !ok {
			c.String(http.StatusServiceUnavailable, "No healthy backends available")
			return
		}
		c.Set(middleware.ContextKeyBackend, label)

		wsURL, err := toWebSocketURL(backendURL)
		if err != nil {
			c.String(http.StatusBadGateway, "Proxy error: %v", err)
			return
		}

		upstream, resp, err := pool.WSDialer().Dial(wsURL, nil)
		if err != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			slog.Info("backend websocket dial failed", "backend", label, "error", err)
			c.String(http.StatusBadGateway, "Proxy error: %v", err)
			return
		}

		client, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			_ = upstream.Close()
			return
		}

		hub.add(client)
		defer func() {
			hub.remove(client)
			_ = client.Close()
			_ = upstream.Close()
		}()

		errc := make(chan error, 2)
		go pump(upstream, client, errc)
		go pump(client, upstream, errc)

		select {
		case <-hub.done:
		case err := <-errc:
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket passthrough closed", "backend", label, "error", err)
			}
		}
	}
}

// pump copies messages from src to dst until a read or write fails.
func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			errc <- err
			return
		}
	}
}

// toWebSocketURL maps the backend's http(s) origin to its ws(s) counterpart.
func toWebSocketURL(backendURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(backendURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
