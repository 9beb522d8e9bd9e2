// Package ratelimit implements the token-bucket and sliding-window
// limiters of spec §4.6, grounded on the teacher's
// infrastructure/ratelimit/ratelimit.go RateLimiter/RateLimitedClient
// wrapper shape. The internal bucket/window math is hand-rolled because
// golang.org/x/time/rate does not expose getTimeUntilAvailable or the
// n>capacity fast-false path the spec requires (see SPEC_FULL.md §B);
// golang.org/x/time/rate is instead kept as the dependency backing the
// provider package's outbound HTTP pacing.
package ratelimit

import (
	"sync"
	"time"
)

// Metrics is the common metrics surface both limiter kinds expose
// (spec §4.6 "Both expose metrics").
type Metrics struct {
	Accepted    int64
	Rejected    int64
	RejectionRate float64
	Utilization float64
	Current     float64
}

// TokenBucket implements spec §4.6's token-bucket limiter: capacity C,
// refill period P, refill rate C/P tokens per second.
type TokenBucket struct {
	mu           sync.Mutex
	capacity     float64
	refillPerSec float64
	tokens       float64
	lastRefill   time.Time
	accepted     int64
	rejected     int64
}

// NewTokenBucket builds a TokenBucket with capacity C and refill period P.
func NewTokenBucket(capacity float64, refillPeriod time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}
	return &TokenBucket{
		capacity:     capacity,
		refillPerSec: capacity / refillPeriod.Seconds(),
		tokens:       capacity,
		lastRefill:   time.Now(),
	}
}

// TryAcquire attempts to atomically subtract n tokens. Requests for
// n > capacity return false immediately without touching state
// (spec §8.12).
func (b *TokenBucket) TryAcquire(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.capacity {
		return false
	}

	b.refillLocked(time.Now())

	if b.tokens >= n {
		b.tokens -= n
		b.accepted++
		return true
	}
	b.rejected++
	return false
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// GetTimeUntilAvailable returns the projected wait before n tokens are
// available (spec §4.6).
func (b *TokenBucket) GetTimeUntilAvailable(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.capacity {
		return time.Duration(1<<63 - 1) // effectively never
	}
	b.refillLocked(time.Now())
	if b.tokens >= n {
		return 0
	}
	deficit := n - b.tokens
	seconds := deficit / b.refillPerSec
	return time.Duration(seconds * float64(time.Second))
}

// Metrics returns the accepted/rejected/utilization snapshot (spec §4.6).
func (b *TokenBucket) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	total := b.accepted + b.rejected
	m := Metrics{Accepted: b.accepted, Rejected: b.rejected, Current: b.tokens}
	if total > 0 {
		m.RejectionRate = float64(b.rejected) / float64(total)
	}
	if b.capacity > 0 {
		m.Utilization = 1 - (b.tokens / b.capacity)
	}
	return m
}
