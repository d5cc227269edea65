package backend

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Pool holds the shared, connection-pooling clients used to reach upstreams.
// A single Pool is created at startup and shared by the forwarder and the
// health monitor, so probes double as connection keep-alives.
type Pool struct {
	rpcClient *http.Client
	wsDialer  *websocket.Dialer
}

// NewPool builds the shared clients. Request deadlines are applied per call
// via context, not on the client, so the forwarder can tell a timeout from a
// transport failure.
func NewPool() *Pool {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Pool{
		rpcClient: &http.Client{Transport: transport},
		wsDialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// RPCClient returns the shared HTTP client for forwarded requests and probes.
func (p *Pool) RPCClient() *http.Client {
	return p.rpcClient
}

// WSDialer returns the shared dialer for WebSocket passthrough connections.
func (p *Pool) WSDialer() *websocket.Dialer {
	return p.wsDialer
}
