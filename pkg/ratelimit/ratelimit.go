// Package ratelimit provides in-process, advisory throttling of repeated
// actions keyed by an arbitrary string.
//
// State lives in memory and is lost on restart. It reduces nuisance traffic
// from a single process and is not an abuse-prevention boundary.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	// Sliding restarts the counting window at the first attempt seen after
	// the previous window expired.
	Sliding = "sliding"
	// Fixed aligns windows to multiples of the window length.
	Fixed = "fixed"
	// TokenBucket refills maxAttempts tokens evenly over the window.
	TokenBucket = "token_bucket"
)

var (
	// ErrUnknownStrategy is returned by New for an unsupported strategy name.
	ErrUnknownStrategy = errors.New("unknown rate limit strategy")
)

// Limiter decides whether an attempted action may proceed. Allow is called
// once per attempt.
type Limiter interface {
	Allow(key string, maxAttempts int, window time.Duration) bool
	// Sweep drops state that has not been touched for longer than maxAge and
	// returns the number of keys removed.
	Sweep(maxAge time.Duration) int
}

// Window is the counting state kept for one key.
type Window struct {
	Start time.Time
	Count int
}

// WindowStore holds per-key windows. Limiters serialize all access, so
// implementations need not be safe for concurrent use.
type WindowStore interface {
	Get(key string) (Window, bool)
	Put(key string, w Window)
	Delete(key string)
	Keys() []string
}

// MemoryStore is a map backed WindowStore.
type MemoryStore struct {
	windows map[string]Window
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

func (m *MemoryStore) Get(key string) (Window, bool) {
	w, ok := m.windows[key]
	return w, ok
}

func (m *MemoryStore) Put(key string, w Window) {
	m.windows[key] = w
}

func (m *MemoryStore) Delete(key string) {
	delete(m.windows, key)
}

func (m *MemoryStore) Keys() []string {
	keys := make([]string, 0, len(m.windows))
	for k := range m.windows {
		keys = append(keys, k)
	}
	return keys
}

// New returns a Limiter for the named strategy backed by a MemoryStore. An
// empty name selects Sliding. A nil clock selects the wall clock.
func New(strategy string, clk clock.PassiveClock) (Limiter, error) {
	switch strategy {
	case "", Sliding:
		return NewSlidingWindow(clk, nil), nil
	case Fixed:
		return NewFixedWindow(clk, nil), nil
	case TokenBucket:
		return NewTokenBucket(clk), nil
	}
	return nil, ErrUnknownStrategy
}

// bucketFunc returns the start of the window now falls in, and whether the
// stored window must be replaced by a fresh one starting there.
type bucketFunc func(w Window, ok bool, now time.Time, window time.Duration) (time.Time, bool)

type windowLimiter struct {
	mu     sync.Mutex
	clock  clock.PassiveClock
	store  WindowStore
	bucket bucketFunc
}

func newWindowLimiter(clk clock.PassiveClock, store WindowStore, bucket bucketFunc) *windowLimiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &windowLimiter{clock: clk, store: store, bucket: bucket}
}

func (l *windowLimiter) Allow(key string, maxAttempts int, window time.Duration) bool {
	if maxAttempts <= 0 {
		return false
	}
	if window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.store.Get(key)
	if start, reset := l.bucket(w, ok, now, window); reset {
		l.store.Put(key, Window{Start: start, Count: 1})
		return true
	}
	if w.Count < maxAttempts {
		w.Count++
		l.store.Put(key, w)
		return true
	}
	return false
}

func (l *windowLimiter) Sweep(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for _, key := range l.store.Keys() {
		w, ok := l.store.Get(key)
		if ok && now.Sub(w.Start) > maxAge {
			l.store.Delete(key)
			removed++
		}
	}
	return removed
}
