// Package ratelimit provides a fixed-window per-key request limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Result describes the outcome of one limiter check.
type Result struct {
	// Allowed is false when the key has exhausted its window.
	Allowed bool
	// Remaining requests in the current window, after this one.
	Remaining int
	// ResetAt is when the current window ends and the budget refills.
	ResetAt time.Time
}

type bucket struct {
	resetAt   time.Time
	max       int
	remaining int
}

// Limiter tracks request budgets per key over a fixed window. Each key gets
// its own window starting at its first request.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a Limiter with the given window (typically one hour).
func New(window time.Duration) *Limiter {
	return &Limiter{
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Request consumes one unit of key's budget of max requests per window and
// reports whether the request is allowed.
func (l *Limiter) Request(key string, max int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{resetAt: now.Add(l.window), max: max, remaining: max}
		l.buckets[key] = b
	}
	if b.resetAt.Before(now) {
		// Window elapsed, refill.
		b.remaining = b.max
		b.resetAt = now.Add(l.window)
	}

	res := Result{ResetAt: b.resetAt}
	if b.remaining > 0 {
		b.remaining--
		res.Allowed = true
	}
	res.Remaining = b.remaining
	return res
}
