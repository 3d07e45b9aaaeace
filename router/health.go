package router

import (
	"sync"
	"time"
)

const (
	// DefaultHealthWindow is the rolling window of recent requests per
	// target used to judge health.
	DefaultHealthWindow = 20

	// DefaultHealthThreshold is the error fraction inside the window
	// that trips a target unhealthy.
	DefaultHealthThreshold = 0.5

	// DefaultProbeInterval is how long a tripped target is excluded
	// before it may serve traffic again.
	DefaultProbeInterval = 30 * time.Second
)

type targetKey struct {
	model   string
	version int
}

type targetHealth struct {
	outcomes  []bool // ring of recent outcomes, true = success
	next      int
	filled    bool
	trippedAt time.Time
}

// HealthTracker judges per-target health from a rolling window of
// request outcomes. A target whose recent error fraction crosses the
// threshold is excluded from routing until the probe interval elapses,
// then gets a clean window to prove itself.
type HealthTracker struct {
	window    int
	threshold float64
	probe     time.Duration
	now       func() time.Time

	mu      sync.Mutex
	targets map[targetKey]*targetHealth
}

// NewHealthTracker creates a tracker. Non-positive arguments fall back
// to package defaults.
func NewHealthTracker(window int, threshold float64, probe time.Duration) *HealthTracker {
	if window <= 0 {
		window = DefaultHealthWindow
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultHealthThreshold
	}
	if probe <= 0 {
		probe = DefaultProbeInterval
	}
	return &HealthTracker{
		window:    window,
		threshold: threshold,
		probe:     probe,
		now:       time.Now,
		targets:   make(map[targetKey]*targetHealth),
	}
}

// Record registers one request outcome for a target.
func (h *HealthTracker) Record(model string, version int, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := targetKey{model: model, version: version}
	t := h.targets[key]
	if t == nil {
		t = &targetHealth{outcomes: make([]bool, h.window)}
		h.targets[key] = t
	}

	t.outcomes[t.next] = success
	t.next = (t.next + 1) % h.window
	if t.next == 0 {
		t.filled = true
	}

	if t.trippedAt.IsZero() && t.filled && h.errorFraction(t) >= h.threshold {
		t.trippedAt = h.now()
	}
}

// Healthy reports whether a target may serve traffic. Targets with no
// history are healthy.
func (h *HealthTracker) Healthy(model string, version int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.targets[targetKey{model: model, version: version}]
	if t == nil || t.trippedAt.IsZero() {
		return true
	}
	if h.now().Sub(t.trippedAt) < h.probe {
		return false
	}

	// Probe period over: clear the window and let traffic through. If
	// the target is still broken it trips again once the window refills.
	t.outcomes = make([]bool, h.window)
	t.next = 0
	t.filled = false
	t.trippedAt = time.Time{}
	return true
}

func (h *HealthTracker) errorFraction(t *targetHealth) float64 {
	errs := 0
	for _, ok := range t.outcomes {
		if !ok {
			errs++
		}
	}
	return float64(errs) / float64(h.window)
}
