package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodySize caps how much of a request body is buffered for method
// inspection. Larger bodies are forwarded with an empty body; the upstream
// decides what to do with them.
const MaxBodySize = 10 << 20 // 10 MiB

const (
	// ContextKeyRPCMethod is the gin context key holding the decoded JSON-RPC
	// method name, when the body carried one.
	ContextKeyRPCMethod = "rpc_method"
	// ContextKeyBackend is the gin context key holding the selected backend
	// label, set by the forwarder after dispatch.
	ContextKeyBackend = "backend"
)

// RPCMethod buffers the request body, extracts the JSON-RPC "method" field
// when the body is a JSON object with a string method, and hands the exact
// original bytes to the next handler. The middleware is transparent to the
// body: downstream sees what the client sent, or an empty body when the read
// failed or exceeded MaxBodySize.
func RPCMethod() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodySize+1))
		if err != nil || len(body) > MaxBodySize {
			c.Request.Body = http.NoBody
			c.Request.ContentLength = 0
			c.Next()
			return
		}

		var parsed any
		if json.Unmarshal(body, &parsed) == nil {
			if obj, ok := parsed.(map[string]any); ok {
				if method, ok := obj["method"].(string); ok {
					c.Set(ContextKeyRPCMethod, method)
				}
			}
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Request.ContentLength = int64(len(body))
		c.Next()
	}
}
