package gateway

import (
	"sync"
	"time"
)

// Rejection reasons reported by ClientRateLimiter.
const (
	reasonRateLimited   = "rate limit exceeded"
	reasonTooManyStream = "too many concurrent streams"
)

// ClientRateLimiter implements sliding window rate limiting for one client
// plus a cap on its concurrently open streams. A zero limit disables that check.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	concurrent        int
	lastSeen          time.Time
	now               func() time.Time
}

// NewClientRateLimiter creates a rate limiter with the given limits.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Allow records a request if it fits the per-minute window.
func (r *ClientRateLimiter) Allow() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.lastSeen = now
	r.prune(now)

	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false, reasonRateLimited
	}
	r.requests = append(r.requests, now)
	return true, ""
}

// Acquire reserves a stream slot after counting the connect as a request.
// Callers must call Release once the stream ends.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	if r.maxConcurrent > 0 && r.concurrent >= r.maxConcurrent {
		r.mu.Unlock()
		return false, reasonTooManyStream
	}
	r.mu.Unlock()

	if ok, reason := r.Allow(); !ok {
		return false, reason
	}

	r.mu.Lock()
	r.concurrent++
	r.mu.Unlock()
	return true, ""
}

// Release frees a stream slot.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrent > 0 {
		r.concurrent--
	}
}

// Stats returns the requests in the current window and the open streams.
func (r *ClientRateLimiter) Stats() (requests, concurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.concurrent
}

func (r *ClientRateLimiter) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.concurrent == 0 && now.Sub(r.lastSeen) > time.Minute
}

// prune drops requests older than one minute.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	r.requests = r.requests[i:]
}

// rateLimiters hands out one ClientRateLimiter per client key.
type rateLimiters struct {
	mu                sync.Mutex
	limiters          map[string]*ClientRateLimiter
	requestsPerMinute int
	maxConcurrent     int
}

func newRateLimiters(requestsPerMinute, maxConcurrent int) *rateLimiters {
	return &rateLimiters{
		limiters:          make(map[string]*ClientRateLimiter),
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
	}
}

func (l *rateLimiters) get(key string) *ClientRateLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = NewClientRateLimiter(l.requestsPerMinute, l.maxConcurrent)
		l.limiters[key] = limiter
	}
	return limiter
}

// sweep forgets clients that have been idle for over a minute.
func (l *rateLimiters) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, limiter := range l.limiters {
		if limiter.idle(now) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}
