package drift

import (
	"sync"
	"time"
)

// Tracker decides when a sequence of drift scores warrants raising an
// event. A single breached check can be noise; an event fires only
// after the configured number of consecutive breaches, and repeat
// events for the same model are suppressed during the cooldown.
type Tracker struct {
	required int
	cooldown time.Duration

	mu          sync.Mutex
	consecutive int
	lastRaised  time.Time
}

// NewTracker creates a tracker. required below 1 is treated as 1.
func NewTracker(required int, cooldown time.Duration) *Tracker {
	if required < 1 {
		required = 1
	}
	return &Tracker{required: required, cooldown: cooldown}
}

// Observe records one check outcome and reports whether an event should
// be raised now. A non-breached check resets the consecutive count.
func (t *Tracker) Observe(breached bool, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !breached {
		t.consecutive = 0
		return false
	}

	t.consecutive++
	if t.consecutive < t.required {
		return false
	}
	if !t.lastRaised.IsZero() && now.Sub(t.lastRaised) < t.cooldown {
		return false
	}

	t.lastRaised = now
	return true
}

// Reset clears breach history, used when the monitored model version
// changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = 0
	t.lastRaised = time.Time{}
}
