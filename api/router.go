// Package api wires the gin router for the proxy.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ddevcap/rpc-proxy/api/handler"
	"github.com/ddevcap/rpc-proxy/api/middleware"
	"github.com/ddevcap/rpc-proxy/backend"
	"github.com/ddevcap/rpc-proxy/config"
	"github.com/ddevcap/rpc-proxy/observe"
)

// corsMiddleware allows browser RPC clients to POST from any origin. The
// api-key admission is the actual gate; CORS only unblocks the preflight.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"POST", "GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Content-Length", "Accept", "Accept-Encoding"},
		MaxAge:          24 * time.Hour,
	})
}

// NewRouter builds the proxy's http.Handler. The returned stop function
// releases the auth key cache; call it on shutdown.
func NewRouter(
	cfg config.Config,
	store *backend.Store,
	dispatcher *backend.Dispatcher,
	pool *backend.Pool,
	metrics *observe.Metrics,
	reg *prometheus.Registry,
	hub *handler.WSHub,
) (http.Handler, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestid.New(), middleware.RequestLogger(), corsMiddleware())

	keys := middleware.NewKeyChecker(cfg.APIKeys)

	healthH := handler.NewHealthHandler(cfg.Backends, store)
	proxyH := handler.NewProxyHandler(dispatcher, pool,
		time.Duration(cfg.Proxy.TimeoutSecs)*time.Second)

	// Health snapshot and metrics — unauthenticated, for orchestrators and
	// scrapers.
	r.GET("/health", healthH.Health)
	r.GET("/metrics", gin.WrapH(observe.Handler(reg)))

	// WebSocket passthrough for subscription traffic.
	r.GET("/ws", middleware.APIKeyAuth(keys), handler.WebSocketProxy(hub, dispatcher, pool))

	// Everything POSTed anywhere is a proxied RPC call. The catch-all also
	// covers the root path.
	rpc := r.Group("/",
		middleware.Metrics(metrics),
		middleware.APIKeyAuth(keys),
		middleware.RPCMethod(),
	)
	rpc.POST("/*path", proxyH.Forward)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return r, keys.Stop
}
