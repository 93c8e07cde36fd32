package detect

import (
	"sync"
	"time"
)

// State of the unknown-presence debouncer.
type State string

const (
	// StateIdle: no unknown face in the last observed frame.
	StateIdle State = "idle"
	// StateAccumulating: unknown faces observed continuously since
	// the window start, threshold not yet reached.
	StateAccumulating State = "accumulating"
	// StateLocked: an alert fired and has not been acknowledged yet.
	StateLocked State = "locked"
)

// Debouncer decides when a continuously observed unknown face becomes
// a genuine unknown-presence event. A single clean frame resets the
// accumulation window; once fired it stays locked until Unlock, so one
// incident raises exactly one alert.
type Debouncer struct {
	mu          sync.Mutex
	threshold   time.Duration
	state       State
	windowStart time.Time
}

func NewDebouncer(threshold time.Duration) *Debouncer {
	if threshold <= 0 {
		threshold = 2 * time.Second
	}
	return &Debouncer{threshold: threshold, state: StateIdle}
}

// Observe consumes the outcome of one completed frame-match cycle and
// reports whether the alert should fire now. It returns true at most
// once per armed cycle.
func (d *Debouncer) Observe(hasUnknown bool, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateLocked:
		return false
	case StateIdle:
		if hasUnknown {
			d.state = StateAccumulating
			d.windowStart = now
		}
		return false
	case StateAccumulating:
		if !hasUnknown {
			d.state = StateIdle
			return false
		}
		if now.Sub(d.windowStart) >= d.threshold {
			d.state = StateLocked
			return true
		}
		return false
	}
	return false
}

// Unlock resets the debouncer to idle. It is idempotent and safe to
// call in any state; the next unknown frame starts a fresh window.
func (d *Debouncer) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateIdle
	d.windowStart = time.Time{}
}

// State reports the current debounce state.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Threshold reports the configured confirmation duration.
func (d *Debouncer) Threshold() time.Duration {
	return d.threshold
}
