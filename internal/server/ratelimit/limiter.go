// Implements a concurrent token bucket rate limiter keyed by client.

// Package ratelimit implements token bucket rate limiting for HTTP handlers.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // requests left in current window
	ResetAt    time.Time     // when the bucket will be full again
	RetryAfter time.Duration // how long to wait before retrying (0 if allowed)
}

// Limiter manages one token bucket per key.
type Limiter struct {
	buckets  *xsync.MapOf[string, *bucket]
	rate     rate.Limit
	burst    int
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter *rate.Limiter
	// lastSeen is a unix nanosecond timestamp.
	lastSeen atomic.Int64
}

// NewLimiter creates a rate limiter allowing requests per window with burst
// capacity. Stale buckets are dropped every idle interval until Close.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		buckets: xsync.NewMapOf[string, *bucket](),
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   max(burst, 1),
		window:  window,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop(10 * time.Minute)
	return l
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) Result {
	now := time.Now()
	b, _ := l.buckets.LoadOrCompute(key, func() *bucket {
		return &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
	})
	b.lastSeen.Store(now.UnixNano())

	reservation := b.limiter.ReserveN(now, 1)
	allowed := reservation.OK() && reservation.DelayFrom(now) == 0
	if !allowed && reservation.OK() {
		reservation.CancelAt(now)
	}

	tokens := b.limiter.TokensAt(now)
	refill := time.Duration((float64(l.burst) - tokens) / float64(l.rate) * float64(time.Second))
	res := Result{
		Allowed:   allowed,
		Limit:     int(float64(l.rate)*l.window.Seconds() + 0.5),
		Remaining: max(int(tokens), 0),
		ResetAt:   now.Add(refill),
	}
	if !allowed {
		res.RetryAfter = max(time.Duration(float64(time.Second)/float64(l.rate)), time.Second)
	}
	return res
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.buckets.Size()
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.cleanup(now.Add(-every))
		case <-l.stop:
			return
		}
	}
}

// cleanup removes buckets not used since before and already refilled.
func (l *Limiter) cleanup(before time.Time) {
	l.buckets.Range(func(key string, b *bucket) bool {
		if b.lastSeen.Load() < before.UnixNano() && b.limiter.Tokens() >= float64(l.burst) {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
