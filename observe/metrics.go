// Package observe holds the proxy's Prometheus metrics.
package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all proxy Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BackendHealthy  *prometheus.GaugeVec
	ProbesTotal     *prometheus.CounterVec
	ProbeDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all proxy metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_requests_total",
				Help: "Total number of proxied requests.",
			},
			[]string{"backend", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcproxy_request_duration_seconds",
				Help:    "Request duration in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		BackendHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rpcproxy_backend_healthy",
				Help: "Whether a backend is healthy (1) or not (0).",
			},
			[]string{"backend"},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpcproxy_health_probes_total",
				Help: "Total number of health probes by outcome.",
			},
			[]string{"backend", "outcome"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpcproxy_health_probe_duration_seconds",
				Help:    "Health probe round-trip duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"backend"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.BackendHealthy,
		m.ProbesTotal,
		m.ProbeDuration,
	)

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
