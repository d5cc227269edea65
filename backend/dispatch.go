package backend

import (
	"log/slog"
	"math/rand/v2"

	"github.com/ddevcap/rpc-proxy/config"
)

// Dispatcher selects a backend for each request: a per-method override when
// one is configured and its target is healthy, weighted random over the
// healthy subset otherwise. Its routing tables are built once and never
// mutated; the only moving part it consults is the health Store.
type Dispatcher struct {
	backends     []config.Backend
	methodRoutes map[string]string
	labelToURL   map[string]string
	health       *Store

	// intN is rand.IntN unless a test swaps it for a deterministic draw.
	intN func(n int) int
}

// NewDispatcher builds a Dispatcher over the configured pool.
func NewDispatcher(backends []config.Backend, methodRoutes map[string]string, health *Store) *Dispatcher {
	labelToURL := make(map[string]string, len(backends))
	for _, b := range backends {
		labelToURL[b.Label] = b.URL
	}
	return &Dispatcher{
		backends:     backends,
		methodRoutes: methodRoutes,
		labelToURL:   labelToURL,
		health:       health,
		intN:         rand.IntN,
	}
}

// Select returns the label and URL of the backend to forward to. rpcMethod
// may be empty when the request body carried no method name. ok is false
// when no healthy backend exists.
func (d *Dispatcher) Select(rpcMethod string) (label, url string, ok bool) {
	if rpcMethod != "" {
		if routed, found := d.methodRoutes[rpcMethod]; found {
			if routedURL, known := d.labelToURL[routed]; known {
				if d.isHealthy(routed) {
					slog.Info("method routed", "method", rpcMethod, "backend", routed)
					return routed, routedURL, true
				}
				slog.Info("method route target unhealthy, falling back to weighted selection",
					"method", rpcMethod, "backend", routed)
			}
		}
	}

	healthy := make([]config.Backend, 0, len(d.backends))
	total := 0
	for _, b := range d.backends {
		if d.isHealthy(b.Label) {
			healthy = append(healthy, b)
			total += b.Weight
		}
	}
	if len(healthy) == 0 {
		return "", "", false
	}

	r := d.intN(total)
	for _, b := range healthy {
		if r < b.Weight {
			return b.Label, b.URL, true
		}
		r -= b.Weight
	}
	// Unreachable with positive weights; keep the first healthy backend as
	// the safety net.
	return healthy[0].Label, healthy[0].URL, true
}

// isHealthy treats labels the store does not know as healthy. With the store
// keyed at construction this cannot happen, but selection fails open rather
// than dropping the request.
func (d *Dispatcher) isHealthy(label string) bool {
	rec, ok := d.health.Get(label)
	if !ok {
		return true
	}
	return rec.Healthy
}
