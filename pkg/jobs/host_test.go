package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProgress(t *testing.T) {
	h := NewHost()
	h.SetRemaining(2048)
	h.Update(512)
	h.Update(512)

	cur, total := h.Progress()
	if cur != 1024 || total != 2048 {
		t.Errorf("Progress() = (%d, %d), want (1024, 2048)", cur, total)
	}
}

func TestCancelInterruptsSleep(t *testing.T) {
	h := NewHost()

	done := make(chan error, 1)
	go func() {
		done <- h.Sleep(context.Background(), time.Minute)
	}()

	time.Sleep(10 * time.Millisecond)
	h.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Sleep error = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Cancel")
	}

	if !h.Cancelled() {
		t.Error("Cancelled() = false after Cancel")
	}
}

func TestContextCancelMarksJobCancelled(t *testing.T) {
	h := NewHost()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.Sleep(ctx, time.Minute); !errors.Is(err, ErrCancelled) {
		t.Errorf("Sleep error = %v, want ErrCancelled", err)
	}
	if !h.Cancelled() {
		t.Error("context cancellation should mark the job cancelled")
	}
}

func TestZeroSleepIsYieldPoint(t *testing.T) {
	h := NewHost()
	if err := h.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}

	h.Cancel()
	if err := h.Sleep(context.Background(), 0); !errors.Is(err, ErrCancelled) {
		t.Errorf("Sleep(0) after Cancel = %v, want ErrCancelled", err)
	}
}

func TestPauseGate(t *testing.T) {
	h := NewHost()
	reason := errors.New("read failed")
	h.Pause(reason)

	if paused, why := h.Paused(); !paused || !errors.Is(why, reason) {
		t.Fatalf("Paused() = (%v, %v), want (true, %v)", paused, why, reason)
	}

	done := make(chan error, 1)
	go func() {
		done <- h.Sleep(context.Background(), 0)
	}()

	select {
	case <-done:
		t.Fatal("Sleep returned while paused")
	case <-time.After(50 * time.Millisecond):
	}

	h.Resume()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sleep after Resume = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Resume")
	}
}

func TestCancelWhilePaused(t *testing.T) {
	h := NewHost()
	h.Pause(errors.New("stuck"))

	done := make(chan error, 1)
	go func() {
		done <- h.Sleep(context.Background(), 0)
	}()

	time.Sleep(10 * time.Millisecond)
	h.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Sleep = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancel did not break the pause gate")
	}
}
