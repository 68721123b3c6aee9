// Package ratelimit implements a fixed-window request counter per client key.
package ratelimit

import (
	"sync"
	"time"
)

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before retrying.
// Zero when the request was allowed.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type bucket struct {
	count       int
	windowStart time.Time
	resetAt     time.Time
}

// Limiter counts requests per key within a fixed window. When the window
// expires the bucket is recreated on the next request.
type Limiter struct {
	window time.Duration
	max    int

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time // injectable for tests
}

// New creates a limiter allowing max requests per window.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one request for key. When the window ceiling is reached the
// count is not advanced and Allowed is false.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketFor(key, now)

	if b.count >= l.max {
		return Result{Allowed: false, Remaining: 0, ResetAt: b.resetAt}
	}

	b.count++
	return Result{Allowed: true, Remaining: l.max - b.count, ResetAt: b.resetAt}
}

// Check reports the current state for key without consuming a request.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketFor(key, now)

	remaining := l.max - b.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: b.count < l.max, Remaining: remaining, ResetAt: b.resetAt}
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// ActiveKeys returns the number of live windows, expired ones included until
// their next touch.
func (l *Limiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// bucketFor returns the live bucket for key, recreating it when the window
// has expired. Caller must hold l.mu.
func (l *Limiter) bucketFor(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{windowStart: now, resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	return b
}
