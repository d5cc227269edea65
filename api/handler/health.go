package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/rpc-proxy/backend"
	"github.com/ddevcap/rpc-proxy/config"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OverallStatus string          `json:"overall_status"`
	Backends      []BackendHealth `json:"backends"`
}

// BackendHealth is one backend's entry in the health snapshot.
type BackendHealth struct {
	Label                string  `json:"label"`
	Healthy              bool    `json:"healthy"`
	LastCheck            *string `json:"last_check"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	LastError            *string `json:"last_error"`
}

// HealthHandler serves the unauthenticated health snapshot.
type HealthHandler struct {
	backends []config.Backend
	store    *backend.Store
}

// NewHealthHandler creates a HealthHandler over the configured pool.
func NewHealthHandler(backends []config.Backend, store *backend.Store) *HealthHandler {
	return &HealthHandler{backends: backends, store: store}
}

// Health handles GET /health. The overall status is healthy as long as at
// least one backend is healthy.
func (h *HealthHandler) Health(c *gin.Context) {
	all := h.store.All()

	resp := HealthResponse{
		OverallStatus: "unhealthy",
		Backends:      make([]BackendHealth, 0, len(h.backends)),
	}
	for _, b := range h.backends {
		rec := all[b.Label]
		if rec.Healthy {
			resp.OverallStatus = "healthy"
		}

		var lastCheck *string
		if !rec.LastCheck.IsZero() {
			s := rec.LastCheck.Format(time.RFC3339Nano)
			lastCheck = &s
		}
		var lastError *string
		if rec.LastError != "" {
			e := rec.LastError
			lastError = &e
		}

		resp.Backends = append(resp.Backends, BackendHealth{
			Label:                b.Label,
			Healthy:              rec.Healthy,
			LastCheck:            lastCheck,
			ConsecutiveFailures:  rec.ConsecutiveFailures,
			ConsecutiveSuccesses: rec.ConsecutiveSuccesses,
			LastError:            lastError,
		})
	}

	c.JSON(http.StatusOK, resp)
}
