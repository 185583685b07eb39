// Package jobs provides the generic lifecycle host shared by background
// block jobs: progress accounting, cooperative cancellation, a pause gate,
// cancellable sleeps, rate limiting and the on-error action policy.
//
// A job composes a Host rather than embedding job state in a shared base
// struct; the streaming engine reaches its own state through its own typed
// handle, never through a downcast.
package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCancelled is returned from suspension points once the job has been
// cancelled. Cancellation is cooperative: it only takes effect at these
// points, never mid-operation.
var ErrCancelled = errors.New("job cancelled")

// Host carries the lifecycle state of one background job. All suspension
// points (Sleep, the rate limiter's sleep) double as pause and cancellation
// points.
type Host struct {
	remaining atomic.Int64
	current   atomic.Int64

	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu          sync.Mutex
	paused      bool
	pauseReason error
	resumeCh    chan struct{}
}

// NewHost creates a Host in the running state.
func NewHost() *Host {
	return &Host{cancelCh: make(chan struct{})}
}

// SetRemaining sets the total amount of work, in bytes, the job will report
// progress against.
func (h *Host) SetRemaining(n int64) {
	h.remaining.Store(n)
}

// Update advances the job's progress by n bytes.
func (h *Host) Update(n int64) {
	h.current.Add(n)
}

// Progress returns the current and total progress counters.
func (h *Host) Progress() (current, total int64) {
	return h.current.Load(), h.remaining.Load()
}

// Cancel requests cooperative cancellation. It wakes any suspension point
// the job is currently blocked in. Safe to call multiple times.
func (h *Host) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelCh) })
}

// Cancelled reports whether cancellation has been requested.
func (h *Host) Cancelled() bool {
	select {
	case <-h.cancelCh:
		return true
	default:
		return false
	}
}

// Pause blocks the job at its next suspension point until Resume is called.
// reason records why (typically the I/O error that triggered stop mode).
func (h *Host) Pause(reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.paused {
		h.paused = true
		h.pauseReason = reason
		h.resumeCh = make(chan struct{})
	}
}

// Resume lifts a pause set by Pause.
func (h *Host) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused {
		h.paused = false
		h.pauseReason = nil
		close(h.resumeCh)
	}
}

// Paused reports whether the job is paused and, if so, why.
func (h *Host) Paused() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused, h.pauseReason
}

// waitIfPaused blocks while the job is paused. It returns ErrCancelled when
// cancellation interrupts the wait.
func (h *Host) waitIfPaused(ctx context.Context) error {
	for {
		h.mu.Lock()
		if !h.paused {
			h.mu.Unlock()
			return nil
		}
		resume := h.resumeCh
		h.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			h.Cancel()
			return ErrCancelled
		case <-h.cancelCh:
			return ErrCancelled
		}
	}
}

// Sleep suspends the job for d. It is a pause point and a cancellation
// point: a paused job stays here until resumed, and cancellation (via
// Cancel or ctx) ends the sleep early with ErrCancelled. A zero duration
// still passes the pause gate and cancellation check, which makes Sleep
// usable as a bare yield point.
func (h *Host) Sleep(ctx context.Context, d time.Duration) error {
	if err := h.waitIfPaused(ctx); err != nil {
		return err
	}
	if h.Cancelled() {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		h.Cancel()
		return ErrCancelled
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		h.Cancel()
		return ErrCancelled
	case <-h.cancelCh:
		return ErrCancelled
	}
}
