// Package backend provides the upstream pool for the proxy: the shared HTTP
// client, the per-backend health state, the background health monitor, and
// the dispatcher that picks a backend for each request.
package backend

import (
	"log/slog"
	"sync"
	"time"
)

// Record is a point-in-time snapshot of one backend's health state.
type Record struct {
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	// LastCheck is the completion time of the most recent probe. Zero until
	// the first probe finishes.
	LastCheck time.Time
	// LastError is the reason of the most recent probe failure, cleared on
	// the next success.
	LastError string
}

// record guards one backend's health state. The outer map in Store is
// read-only after construction; all mutation happens under this lock, so a
// probe writing one backend never blocks a reader of another.
type record struct {
	mu sync.RWMutex
	r  Record
}

// Store maps backend labels to health records. The key set is fixed at
// construction; reads happen on every proxied request, writes once per probe.
//
// Transitions follow a hysteresis rule: a healthy backend flips to unhealthy
// only after failThreshold consecutive probe failures, and an unhealthy one
// flips back only after successThreshold consecutive successes. A probe
// outcome always zeroes the opposite counter.
type Store struct {
	failThreshold    int
	successThreshold int
	records          map[string]*record
}

// NewStore creates a Store with one record per label, all initially healthy.
func NewStore(labels []string, failThreshold, successThreshold int) *Store {
	records := make(map[string]*record, len(labels))
	for _, l := range labels {
		records[l] = &record{r: Record{Healthy: true}}
	}
	return &Store{
		failThreshold:    failThreshold,
		successThreshold: successThreshold,
		records:          records,
	}
}

// Get returns a snapshot of the record for label. The second return value is
// false when the label is unknown to the store.
func (s *Store) Get(label string) (Record, bool) {
	rec, ok := s.records[label]
	if !ok {
		return Record{}, false
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.r, true
}

// All returns a snapshot of every record, keyed by label.
func (s *Store) All() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for label, rec := range s.records {
		rec.mu.RLock()
		out[label] = rec.r
		rec.mu.RUnlock()
	}
	return out
}

// ApplyProbe folds one probe outcome into the record for label. A nil
// probeErr is a success, anything else a failure. Returns the updated
// snapshot. Unknown labels are ignored.
func (s *Store) ApplyProbe(label string, probeErr error) Record {
	rec, ok := s.records[label]
	if !ok {
		return Record{}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.r.LastCheck = time.Now()

	if probeErr == nil {
		rec.r.ConsecutiveFailures = 0
		rec.r.ConsecutiveSuccesses++
		rec.r.LastError = ""
		if !rec.r.Healthy && rec.r.ConsecutiveSuccesses >= s.successThreshold {
			rec.r.Healthy = true
			slog.Info("backend recovered",
				"backend", label,
				"successes", rec.r.ConsecutiveSuccesses)
		}
		return rec.r
	}

	rec.r.ConsecutiveSuccesses = 0
	rec.r.ConsecutiveFailures++
	rec.r.LastError = probeErr.Error()
	if rec.r.Healthy && rec.r.ConsecutiveFailures >= s.failThreshold {
		rec.r.Healthy = false
		slog.Warn("backend marked unhealthy",
			"backend", label,
			"failures", rec.r.ConsecutiveFailures,
			"error", probeErr)
	}
	return rec.r
}
