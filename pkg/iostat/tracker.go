// Package iostat tracks foreground I/O throughput over a wall-clock window.
//
// A Tracker is attached to the interposing filter node of a streaming job so
// that every guest read or write passing through the node is counted. The
// adaptive throttle samples the tracker to measure how busy the device is.
package iostat

import (
	"sync"
	"time"
)

// minWindow floors the sampling window so a sample taken immediately after a
// reset does not divide by zero. Sub-epsilon windows report an unreliable
// throughput rather than +Inf.
const minWindow = time.Microsecond

// Tracker accumulates an operation count since the start of the current
// window. Record is safe to call from arbitrary I/O completion goroutines
// concurrently with Sample.
type Tracker struct {
	mu          sync.Mutex
	operations  int64
	windowStart time.Time

	now func() time.Time
}

// New creates a Tracker whose window starts now.
func New() *Tracker {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Tracker using the given clock. Tests use this to
// control the sampling window.
func NewWithClock(now func() time.Time) *Tracker {
	return &Tracker{
		windowStart: now(),
		now:         now,
	}
}

// Record adds n operations to the current window.
func (t *Tracker) Record(n int64) {
	t.mu.Lock()
	t.operations += n
	t.mu.Unlock()
}

// Sample returns the throughput (operations per second) observed since the
// window started, then atomically resets the window. There is no
// non-resetting read: every sample restarts accounting, so no operation is
// lost or double-counted across the reset boundary.
func (t *Tracker) Sample() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	elapsed := now.Sub(t.windowStart)
	if elapsed < minWindow {
		elapsed = minWindow
	}

	rate := float64(t.operations) / elapsed.Seconds()

	t.operations = 0
	t.windowStart = now
	return rate
}
