package iostat

import (
	"math"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic windows.
type fakeClock struct {
	t time.Time
}

func TestSampleComputesRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := NewWithClock(func() time.Time { return clock.t })

	tr.Record(100)
	clock.t = clock.t.Add(2 * time.Second)

	if got := tr.Sample(); got != 50 {
		t.Errorf("Sample() = %v, want 50", got)
	}
}

func TestSampleResetsWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := NewWithClock(func() time.Time { return clock.t })

	tr.Record(10)
	clock.t = clock.t.Add(time.Second)
	tr.Sample()

	// No records since the reset: two successive samples return 0.
	clock.t = clock.t.Add(time.Second)
	if got := tr.Sample(); got != 0 {
		t.Errorf("first post-reset Sample() = %v, want 0", got)
	}
	clock.t = clock.t.Add(time.Second)
	if got := tr.Sample(); got != 0 {
		t.Errorf("second post-reset Sample() = %v, want 0", got)
	}
}

func TestSampleNoDoubleCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := NewWithClock(func() time.Time { return clock.t })

	tr.Record(30)
	clock.t = clock.t.Add(time.Second)
	first := tr.Sample()

	tr.Record(70)
	clock.t = clock.t.Add(time.Second)
	second := tr.Sample()

	// Each window saw one second, so the rates are the counted operations.
	if total := first + second; total != 100 {
		t.Errorf("samples account for %v operations, want 100", total)
	}
}

func TestSampleSubEpsilonWindow(t *testing.T) {
	now := time.Unix(0, 0)
	tr := NewWithClock(func() time.Time { return now })

	tr.Record(5)
	// Zero elapsed time must not yield +Inf or NaN.
	got := tr.Sample()
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("Sample() on zero window = %v", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tr := NewWithClock(func() time.Time { return clock.t })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.Record(1)
			}
		}()
	}
	wg.Wait()

	clock.t = clock.t.Add(time.Second)
	if got := tr.Sample(); got != 8000 {
		t.Errorf("Sample() = %v, want 8000 (lost updates)", got)
	}
}
