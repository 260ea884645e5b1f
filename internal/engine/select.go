package engine

import (
	"time"

	"tradeloop/internal/models"
)

// SelectMarket is the round-robin index for a tick at now:
// floor((now - start) / cadence) mod n. It is constant within one cadence
// window.
func SelectMarket(start, now time.Time, cadence time.Duration, n int) int {
	if n <= 0 {
		return 0
	}
	if cadence <= 0 || !now.After(start) {
		return 0
	}
	slot := int64(now.Sub(start) / cadence)
	return int(slot % int64(n))
}

// anchor is the time round-robin selection counts from.
func anchor(s models.Session) time.Time {
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return s.CreatedAt
}

// Deadline is the tick budget: the cadence, never less than floor.
func Deadline(cadence, floor time.Duration) time.Duration {
	if cadence < floor {
		return floor
	}
	return cadence
}
