// Package ratelimiter throttles callers with one token bucket per key.
package ratelimiter

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds how many callers are tracked at once.
const DefaultMaxKeys = 4096

// RateLimiter applies a token bucket per key (a client address for the
// management API).
//
// Each key may issue requestsPerSecond requests on average with bursts of up
// to burst. The least recently seen keys are evicted once maxKeys buckets
// exist; an evicted key starts again with a full bucket.
//
// A nil *RateLimiter allows everything.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// New creates a RateLimiter. A requestsPerSecond of 0 disables limiting and
// New returns nil. A burst of 0 is raised to 1.
//
// Example:
//
//	// 20 req/s per client, bursts of 40
//	limiter := ratelimiter.New(20, 40, 0)
func New(requestsPerSecond float64, burst, maxKeys int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	// Only fails for a non-positive size
	buckets, _ := lru.New[string, *rate.Limiter](maxKeys)

	return &RateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		buckets: buckets,
	}
}

// Allow reports whether key may proceed now, consuming a token if so.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil {
		return true
	}
	return r.bucket(key).Allow()
}

// RetryAfter estimates how long key must wait for its next token.
func (r *RateLimiter) RetryAfter(key string) time.Duration {
	if r == nil {
		return 0
	}
	res := r.bucket(key).Reserve()
	delay := res.Delay()
	res.Cancel()
	return delay
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	if r == nil {
		return 0
	}
	return r.buckets.Len()
}

func (r *RateLimiter) bucket(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.buckets.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(r.limit, r.burst)
	r.buckets.Add(key, l)
	return l
}
