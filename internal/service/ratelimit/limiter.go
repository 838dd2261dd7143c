// Package ratelimit throttles expensive requests per caller with token buckets.
package ratelimit

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// idleExpiry drops buckets of callers that have gone quiet.
const idleExpiry = time.Hour

// Limiter keeps one token bucket per key. All buckets share burst and rate.
type Limiter struct {
	buckets *gocache.Cache
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// New creates a limiter allowing bursts of capacity and refillPerSec sustained requests.
func New(capacity, refillPerSec float64) *Limiter {
	burst := int(capacity)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: gocache.New(idleExpiry, 10*time.Minute),
		limit:   rate.Limit(refillPerSec),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) bool {
	var lim *rate.Limiter
	if v, ok := l.buckets.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(l.limit, l.burst)
		// a concurrent first request may have won the race; use its bucket
		if err := l.buckets.Add(key, lim, gocache.DefaultExpiration); err != nil {
			if v, ok := l.buckets.Get(key); ok {
				lim = v.(*rate.Limiter)
			}
		}
	}
	// touch so active callers keep their bucket
	l.buckets.Set(key, lim, gocache.DefaultExpiration)
	return lim.AllowN(l.now(), 1)
}
