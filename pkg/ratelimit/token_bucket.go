package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

type tokenBucket struct {
	limiter     *rate.Limiter
	maxAttempts int
	window      time.Duration
	lastSeen    time.Time
}

type tokenBucketLimiter struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	buckets map[string]*tokenBucket
}

// NewTokenBucket returns a Limiter that lets maxAttempts actions through at
// once and then refills one attempt every window/maxAttempts.
func NewTokenBucket(clk clock.PassiveClock) Limiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &tokenBucketLimiter{
		clock:   clk,
		buckets: make(map[string]*tokenBucket),
	}
}

func (l *tokenBucketLimiter) Allow(key string, maxAttempts int, window time.Duration) bool {
	if maxAttempts <= 0 {
		return false
	}
	if window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok || b.maxAttempts != maxAttempts || b.window != window {
		// rate.Every treats a zero interval as unlimited.
		interval := window / time.Duration(maxAttempts)
		if interval <= 0 {
			interval = time.Nanosecond
		}
		b = &tokenBucket{
			limiter:     rate.NewLimiter(rate.Every(interval), maxAttempts),
			maxAttempts: maxAttempts,
			window:      window,
		}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *tokenBucketLimiter) Sweep(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > maxAge {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
