package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides per-client rate limiting using a token bucket per key.
// Keys are client addresses for verify attempts; idle buckets are pruned.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rps      float64 // Requests per second
	burst    int     // Burst capacity
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a new rate limiter with the specified RPS and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*entry),
		rps:      rps,
		burst:    burst,
		now:      time.Now,
	}
}

// getLimiter returns or creates the bucket for key and marks it used
func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = l.now()
	return e.limiter
}

// Allow returns true if a request for the specified key is allowed
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

// RetryAfter reports how long key must wait for its next token
func (l *Limiter) RetryAfter(key string) time.Duration {
	reservation := l.getLimiter(key).Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// Prune drops buckets not used for longer than idle and returns how many were removed
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Reset clears all limiters
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limiters = make(map[string]*entry)
}
