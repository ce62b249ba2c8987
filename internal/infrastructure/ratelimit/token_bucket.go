// Package ratelimit throttles device commands. Buckets are keyed by device
// serial and live either in process or in Redis.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limits sizes every bucket: Burst commands at once, refilled at PerMinute.
type Limits struct {
	Burst     int
	PerMinute int
}

func (l Limits) capacity() float64 {
	if l.Burst <= 0 {
		return 1
	}
	return float64(l.Burst)
}

// rate is tokens per second.
func (l Limits) rate() float64 {
	if l.PerMinute <= 0 {
		return 1.0 / 60
	}
	return float64(l.PerMinute) / 60
}

// TokenBucket implements the token bucket algorithm with lazy refill.
type TokenBucket struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	capacity   float64
	tokens     float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(limits Limits, clock clockwork.Clock) *TokenBucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenBucket{
		clock:      clock,
		capacity:   limits.capacity(),
		tokens:     limits.capacity(),
		rate:       limits.rate(),
		lastRefill: clock.Now(),
	}
}

// Take consumes one token if available.
func (tb *TokenBucket) Take() Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	d := Decision{Limit: int(tb.capacity)}
	if tb.tokens >= 1 {
		tb.tokens--
		d.Allowed = true
	} else {
		d.RetryAfter = time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
	}
	d.Remaining = int(math.Floor(tb.tokens))
	return d
}

// Must be called with the lock held.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = math.Min(tb.tokens+elapsed*tb.rate, tb.capacity)
	tb.lastRefill = now
}

type bucketEntry struct {
	bucket   *TokenBucket
	lastUsed time.Time
}

// LocalLimiter keeps one bucket per key in memory.
type LocalLimiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	limits  Limits
	buckets map[string]*bucketEntry
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(limits Limits, clock clockwork.Clock) *LocalLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LocalLimiter{
		clock:   clock,
		limits:  limits,
		buckets: make(map[string]*bucketEntry),
	}
}

// Allow takes one token from the bucket for key.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{bucket: NewTokenBucket(l.limits, l.clock)}
		l.buckets[key] = entry
	}
	entry.lastUsed = l.clock.Now()
	l.mu.Unlock()

	return entry.bucket.Take(), nil
}

// Reset forgets the bucket for key.
func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// Cleanup drops buckets idle for longer than maxIdle and returns how many went.
func (l *LocalLimiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, entry := range l.buckets {
		if now.Sub(entry.lastUsed) > maxIdle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live buckets.
func (l *LocalLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
