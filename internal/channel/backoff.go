package channel

import "time"

// Backoff is the reconnect policy: delay(n) = min(Min*2^n, Max), at most
// MaxAttempts reconnects between two successful authentications.
type Backoff struct {
	Min         time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns 1s doubling to 30s, 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Min: time.Second, Max: 30 * time.Second, MaxAttempts: 10}
}

// Delay returns the wait before the reconnect with zero-based index attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	min, max := b.Min, b.Max
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	d := min
	for i := 0; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Exhausted reports whether attempt reconnects have already been made.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
