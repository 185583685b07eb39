package jobs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minBurst keeps the bucket large enough for a full copy chunk so a single
// reservation never exceeds the burst.
const minBurst = 512 * 1024

// Limiter applies a bytes-per-second ceiling to a job's copy throughput.
// Processed bytes are reported after the fact; the resulting debt is slept
// off at the start of the next iteration.
type Limiter struct {
	lim *rate.Limiter

	mu      sync.Mutex
	pending time.Duration
}

// NewLimiter creates a Limiter. bytesPerSec <= 0 means unlimited.
func NewLimiter(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}
	burst := int(bytesPerSec)
	if burst < minBurst {
		burst = minBurst
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// RecordProcessed accounts n copied bytes against the limit and accumulates
// the sleep debt the job owes before its next copy.
func (l *Limiter) RecordProcessed(n int64) {
	if l.lim == nil || n <= 0 {
		return
	}
	if burst := l.lim.Burst(); n > int64(burst) {
		n = int64(burst)
	}

	r := l.lim.ReserveN(time.Now(), int(n))
	l.mu.Lock()
	l.pending += r.Delay()
	l.mu.Unlock()
}

// Sleep waits out any accumulated debt through the host's cancellable
// sleep. It is invoked every iteration even with no configured limit so the
// copy loop always passes a suspension point with no pending I/O, letting
// concurrent drain operations make progress.
func (l *Limiter) Sleep(ctx context.Context, h *Host) error {
	l.mu.Lock()
	d := l.pending
	l.pending = 0
	l.mu.Unlock()

	return h.Sleep(ctx, d)
}
