package feeds

import (
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with ±10% jitter for feed
// reconnection. Parameters are policy, not hard-coded behavior: callers
// pick base and cap per deployment.
type Backoff struct {
	base       time.Duration
	max        time.Duration
	multiplier float64

	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{
		base:       base,
		max:        max,
		multiplier: 2.0,
		current:    base,
	}
}

// Next returns the delay to wait before the next attempt and advances
// the schedule.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	b.attempts++

	jitter := time.Duration(float64(delay) * 0.1 * (rand.Float64()*2 - 1))
	return delay + jitter
}

// Reset restores the initial delay after a successful connection.
func (b *Backoff) Reset() {
	b.current = b.base
	b.attempts = 0
}

// Attempts returns how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
