package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2190, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTryAcquire_FirstCallSucceeds(t *testing.T) {
	c := NewCooldown(0)
	if c.Interval() != DefaultInterval {
		t.Errorf("Interval = %v, want %v", c.Interval(), DefaultInterval)
	}
	if !c.TryAcquire(t0) {
		t.Fatal("first TryAcquire = false, want true")
	}
}

func TestTryAcquire_Window(t *testing.T) {
	c := NewCooldown(8 * time.Second)

	if !c.TryAcquire(t0) {
		t.Fatal("first TryAcquire = false")
	}
	if c.TryAcquire(t0.Add(7999 * time.Millisecond)) {
		t.Error("TryAcquire inside the window = true, want false")
	}
	if got := c.Remaining(t0.Add(3 * time.Second)); got != 5*time.Second {
		t.Errorf("Remaining = %v, want 5s", got)
	}
	if !c.TryAcquire(t0.Add(8 * time.Second)) {
		t.Error("TryAcquire at exactly the interval = false, want true")
	}
	// A rejected attempt does not move the window.
	if c.TryAcquire(t0.Add(15 * time.Second)) {
		t.Error("TryAcquire 7s after the last accepted turn = true, want false")
	}
	if !c.TryAcquire(t0.Add(16 * time.Second)) {
		t.Error("TryAcquire 8s after the last accepted turn = false, want true")
	}
}

func TestRemaining_NeverAcquired(t *testing.T) {
	c := NewCooldown(time.Second)
	if got := c.Remaining(t0); got != 0 {
		t.Errorf("Remaining = %v, want 0", got)
	}
}

func TestTryAcquire_ConcurrentOnlyOneWins(t *testing.T) {
	c := NewCooldown(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire(t0) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want 1", wins.Load())
	}
}
