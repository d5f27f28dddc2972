// Package ratelimit provides a sliding-window admission limiter keyed by
// logical resource name. It guards calls to the remote embedding provider
// so a burst of ingestion or search traffic cannot exhaust the provider
// quota. The limiter is shared, mutable process state: construct one in
// the composition root and pass it by reference to every consumer.
package ratelimit

import (
	"sync"
	"time"
)

// Resource keys used across the pipeline. Callers may use arbitrary keys;
// these constants cover the provider operations this system performs.
const (
	ResourceEmbeddings  = "embeddings"
	ResourceCompletions = "completions"
	ResourceModeration  = "moderation"
)

// DefaultMaxRequests is the default request ceiling per window.
const DefaultMaxRequests = 60

// DefaultWindow is the default sliding-window duration.
const DefaultWindow = 60 * time.Second

// Limiter is a sliding-window rate limiter. Each key tracks the
// timestamps of admitted requests inside the window; a request is
// admitted while fewer than max timestamps remain unexpired.
// Safe for concurrent use.
type Limiter struct {
	// mu protects seen.
	mu sync.Mutex
	// seen maps resource key to admitted-request timestamps, oldest first.
	seen map[string][]time.Time
	// max is the request ceiling per window.
	max int
	// window is the sliding-window duration.
	window time.Duration
	// now is the clock; overridden in tests.
	now func() time.Time
}

// New constructs a Limiter allowing max requests per window for each key.
// Non-positive arguments fall back to the package defaults.
func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		seen:   make(map[string][]time.Time),
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether a request for key is admitted right now.
// An admitted request is recorded against the window; a denied request
// is not.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(key, now)

	if len(l.seen[key]) >= l.max {
		return false
	}
	l.seen[key] = append(l.seen[key], now)
	return true
}

// RetryAfter returns how long a caller must wait before the next request
// for key can be admitted. Zero means a request would be admitted now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(key, now)

	ts := l.seen[key]
	if len(ts) < l.max {
		return 0
	}
	// The oldest admitted request leaving the window frees a slot.
	wait := ts[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Remaining returns the number of requests for key that would still be
// admitted in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(key, l.now())
	n := l.max - len(l.seen[key])
	if n < 0 {
		return 0
	}
	return n
}

// pruneLocked drops timestamps older than the window. Callers must hold mu.
func (l *Limiter) pruneLocked(key string, now time.Time) {
	ts := l.seen[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(ts) {
		delete(l.seen, key)
		return
	}
	l.seen[key] = append(ts[:0:0], ts[i:]...)
}
