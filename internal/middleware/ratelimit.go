// Package middleware holds gin middleware shared by the HTTP API.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/aimd54/lingo-progression/internal/config"
)

// idleTTL is how long a client's limiter survives without requests.
const idleTTL = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides per-key token bucket rate limiting.
type RateLimiter struct {
	mu        sync.Mutex
	limits    map[string]*client
	rps       rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter. Non-positive settings fall back
// to 10 requests per second with a burst of 20.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limits:    make(map[string]*client),
		rps:       rate.Limit(rps),
		burst:     burst,
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > idleTTL {
		for k, c := range rl.limits {
			if now.Sub(c.lastSeen) > idleTTL {
				delete(rl.limits, k)
			}
		}
		rl.lastPrune = now
	}

	if c, ok := rl.limits[key]; ok {
		c.lastSeen = now
		return c.limiter
	}

	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = &client{limiter: limiter, lastSeen: now}
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or the wait would exceed its deadline.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// RateLimit rejects requests beyond the client IP's budget with 429.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "rate limit exceeded",
				"timestamp": time.Now().UTC(),
			})
			return
		}
		c.Next()
	}
}
