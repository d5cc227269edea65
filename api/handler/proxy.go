// Package handler holds the proxy's request handlers: the forwarder, the
// health snapshot endpoint, and the WebSocket passthrough.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/rpc-proxy/api/middleware"
	"github.com/ddevcap/rpc-proxy/backend"
)

// ProxyHandler forwards proxied requests to a dispatcher-selected backend.
type ProxyHandler struct {
	dispatcher *backend.Dispatcher
	pool       *backend.Pool
	timeout    time.Duration
}

// NewProxyHandler creates a ProxyHandler. timeout bounds each forwarded
// upstream request.
func NewProxyHandler(dispatcher *backend.Dispatcher, pool *backend.Pool, timeout time.Duration) *ProxyHandler {
	return &ProxyHandler{
		dispatcher: dispatcher,
		pool:       pool,
		timeout:    timeout,
	}
}

// Forward handles every proxied request: dispatch, URI rewrite, upstream
// call, and passthrough of the response. Admission has already happened in
// the auth middleware; the method tag, if any, was attached by the
// RPCMethod middleware.
func (h *ProxyHandler) Forward(c *gin.Context) {
	rpcMethod := c.GetString(middleware.ContextKeyRPCMethod)

	label, backendURL, ok := h.dispatcher.Select(rpcMethod)
	if !ok {
		slog.Error("no healthy backends available")
		c.String(http.StatusServiceUnavailable, "No healthy backends available")
		return
	}
	c.Set(middleware.ContextKeyBackend, label)

	outURL := rewriteURI(c.Request.URL.RequestURI(), backendURL)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, outURL, c.Request.Body)
	if err != nil {
		c.String(http.StatusBadGateway, "Proxy error: %v", err)
		return
	}
	req.Header = c.Request.Header.Clone()
	req.ContentLength = c.Request.ContentLength
	// Present the backend's own host to the backend, not the proxy's.
	req.Host = req.URL.Host

	resp, err := h.pool.RPCClient().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.String(http.StatusGatewayTimeout,
				"Upstream request timed out after %ds", int(h.timeout.Seconds()))
			return
		}
		slog.Info("backend request failed", "backend", label, "error", err)
		c.String(http.StatusBadGateway, "Proxy error: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

// rewriteURI builds the outbound URL from the inbound path-and-query and the
// selected backend origin. The api-key parameter is stripped by truncating at
// the literal "?api-key=" — when the key is not the first query parameter it
// survives the rewrite, which matches the long-standing deployed behavior.
func rewriteURI(pathAndQuery, backendURL string) string {
	if i := strings.Index(pathAndQuery, "?"+middleware.QueryAPIKey+"="); i >= 0 {
		pathAndQuery = pathAndQuery[:i]
	}

	switch {
	case pathAndQuery == "/":
		// Root requests hit the backend origin without a trailing slash.
		return strings.TrimRight(backendURL, "/")
	case strings.HasSuffix(backendURL, "/") && strings.HasPrefix(pathAndQuery, "/"):
		return backendURL + pathAndQuery[1:]
	default:
		return backendURL + pathAndQuery
	}
}
