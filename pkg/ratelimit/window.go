package ratelimit

import (
	"time"

	"k8s.io/utils/clock"
)

// NewSlidingWindow returns a Limiter whose window starts at the first
// attempt made after the previous window for the key expired. Nil arguments
// select the wall clock and a MemoryStore.
func NewSlidingWindow(clk clock.PassiveClock, store WindowStore) Limiter {
	return newWindowLimiter(clk, store, slidingBucket)
}

// NewFixedWindow returns a Limiter whose windows are aligned to multiples of
// the window length since the Unix epoch.
func NewFixedWindow(clk clock.PassiveClock, store WindowStore) Limiter {
	return newWindowLimiter(clk, store, fixedBucket)
}

func slidingBucket(w Window, ok bool, now time.Time, window time.Duration) (time.Time, bool) {
	if !ok || now.Sub(w.Start) >= window {
		return now, true
	}
	return w.Start, false
}

func fixedBucket(w Window, ok bool, now time.Time, window time.Duration) (time.Time, bool) {
	n := int64(window)
	start := time.Unix(0, now.UnixNano()/n*n)
	if !ok || !w.Start.Equal(start) {
		return start, true
	}
	return start, false
}
