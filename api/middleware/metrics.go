package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/rpc-proxy/observe"
)

// Metrics records per-request counters and durations, labeled by the backend
// the request was dispatched to ("none" when dispatch never happened, e.g.
// a 401 or 503).
func Metrics(m *observe.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		backend := c.GetString(ContextKeyBackend)
		if backend == "" {
			backend = "none"
		}
		m.RequestsTotal.WithLabelValues(backend, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	}
}
