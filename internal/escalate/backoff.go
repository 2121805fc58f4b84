package escalate

import (
	"time"

	"ticketwatch/internal/storage"
)

// Backoff computes the delay before retry attempt n (1-based) under the
// given strategy, capped at max when max > 0.
//
//	linear:      base * n
//	exponential: base * 2^(n-1)
//	fixed:       base
func Backoff(strategy storage.BackoffStrategy, base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch strategy {
	case storage.BackoffLinear:
		delay = base * time.Duration(attempt)
	case storage.BackoffExponential:
		delay = base << uint(attempt-1)
	default:
		delay = base
	}

	if max > 0 && delay > max {
		return max
	}
	return delay
}
