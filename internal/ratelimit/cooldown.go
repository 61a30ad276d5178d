// Package ratelimit provides the process-wide reply cooldown.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// DefaultInterval is the minimum gap between two accepted turns.
const DefaultInterval = 8000 * time.Millisecond

// Cooldown admits at most one turn per interval across all users and
// channels. It is safe for concurrent use.
type Cooldown struct {
	interval time.Duration
	last     atomic.Int64 // unix nanos of the last accepted turn; 0 = never
}

// NewCooldown creates a Cooldown. A non-positive interval uses DefaultInterval.
func NewCooldown(interval time.Duration) *Cooldown {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Cooldown{interval: interval}
}

// Interval returns the configured gap.
func (c *Cooldown) Interval() time.Duration { return c.interval }

// TryAcquire reports whether a turn at now is allowed and, if so, records
// now as the last accepted turn. The check and the update are one atomic
// step.
func (c *Cooldown) TryAcquire(now time.Time) bool {
	n := now.UnixNano()
	for {
		last := c.last.Load()
		if last != 0 && n-last < int64(c.interval) {
			return false
		}
		if c.last.CompareAndSwap(last, n) {
			return true
		}
	}
}

// Remaining returns how long until the next turn would be admitted.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	last := c.last.Load()
	if last == 0 {
		return 0
	}
	left := time.Duration(last + int64(c.interval) - now.UnixNano())
	if left < 0 {
		return 0
	}
	return left
}
