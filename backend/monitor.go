package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ddevcap/rpc-proxy/config"
	"github.com/ddevcap/rpc-proxy/observe"
)

// rpcProbe is the synthetic JSON-RPC call sent to every backend each cycle.
type rpcProbe struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Monitor periodically probes every backend and feeds the outcomes into the
// health Store. One Monitor runs per process.
type Monitor struct {
	pool     *Pool
	store    *Store
	metrics  *observe.Metrics
	backends []config.Backend
	interval time.Duration
	timeout  time.Duration
	method   string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor. metrics may be nil (no gauges updated).
// Call Start to begin probing.
func NewMonitor(pool *Pool, store *Store, backends []config.Backend, hc config.HealthCheck, metrics *observe.Metrics) *Monitor {
	return &Monitor{
		pool:     pool,
		store:    store,
		metrics:  metrics,
		backends: backends,
		interval: time.Duration(hc.IntervalSecs) * time.Second,
		timeout:  time.Duration(hc.TimeoutSecs) * time.Second,
		method:   hc.Method,
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. The first cycle runs immediately so backends
// are classified before real traffic arrives; after each cycle completes the
// monitor sleeps for the configured interval. A cycle that overruns the
// interval therefore delays the next one rather than overlapping it.
// Safe to call once.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	go func() {
		defer close(m.done)
		for {
			m.checkAll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.interval):
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// checkAll probes every backend concurrently and waits for all probes to
// complete or time out.
func (m *Monitor) checkAll(ctx context.Context) {
	cycle := uuid.NewString()
	slog.Debug("health check cycle starting", "cycle", cycle, "backends", len(m.backends))

	var wg sync.WaitGroup
	for _, b := range m.backends {
		wg.Add(1)
		go func(b config.Backend) {
			defer wg.Done()
			m.checkOne(ctx, cycle, b)
		}(b)
	}
	wg.Wait()
}

// checkOne runs a single probe and records its outcome.
func (m *Monitor) checkOne(ctx context.Context, cycle string, b config.Backend) {
	start := time.Now()
	err := m.probe(ctx, b)
	elapsed := time.Since(start)

	rec := m.store.ApplyProbe(b.Label, err)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		slog.Warn("health probe failed",
			"cycle", cycle,
			"backend", b.Label,
			"error", err,
			"consecutive_failures", rec.ConsecutiveFailures)
	} else {
		slog.Debug("health probe succeeded",
			"cycle", cycle,
			"backend", b.Label,
			"consecutive_successes", rec.ConsecutiveSuccesses)
	}

	if m.metrics != nil {
		m.metrics.ProbesTotal.WithLabelValues(b.Label, outcome).Inc()
		m.metrics.ProbeDuration.WithLabelValues(b.Label).Observe(elapsed.Seconds())
		healthyVal := 0.0
		if rec.Healthy {
			healthyVal = 1.0
		}
		m.metrics.BackendHealthy.WithLabelValues(b.Label).Set(healthyVal)
	}
}

// probe POSTs the configured JSON-RPC call to the backend and classifies the
// outcome. A nil return is a success: the response arrived in time with a
// 2xx status and a JSON body carrying a "result" field or no "error" field.
func (m *Monitor) probe(ctx context.Context, b config.Backend) error {
	payload, err := json.Marshal(rpcProbe{
		JSONRPC: "2.0",
		ID:      1,
		Method:  m.method,
		Params:  []any{},
	})
	if err != nil {
		return fmt.Errorf("transport: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.pool.RPCClient().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("timeout")
		}
		return fmt.Errorf("transport: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("rpc error: invalid JSON: %v", err)
	}
	if _, ok := body["result"]; ok {
		return nil
	}
	if rpcErr, ok := body["error"]; ok {
		return fmt.Errorf("rpc error: %s", rpcErr)
	}
	return nil
}
