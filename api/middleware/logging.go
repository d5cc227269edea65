package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
)

// RequestLogger emits one structured log line per request at completion,
// carrying the rpc method and selected backend when known.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		args := []any{
			"request_id", requestid.Get(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"ip", c.ClientIP(),
		}
		if m := c.GetString(ContextKeyRPCMethod); m != "" {
			args = append(args, "rpc_method", m)
		}
		if b := c.GetString(ContextKeyBackend); b != "" {
			args = append(args, "backend", b)
		}
		slog.Info("request", args...)
	}
}
