// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a process-local token-bucket rate limiter keyed per
// caller. The public form and the accept endpoint are the targets: both are
// cheap to call and expensive downstream (a submission fans out to every
// specialist of its type).
//
// Buckets idle for longer than the TTL are evicted opportunistically.
// Idempotent replays skip the limiter.
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// HeaderSpecialistID identifies the specialist on HTTP accept calls.
const HeaderSpecialistID = "X-Specialist-ID"

// KeyFunc maps a request to its bucket.
type KeyFunc func(*gin.Context) string

// KeyBySpecialistOrIP keys specialists by X-Specialist-ID and everyone else
// by client IP.
func KeyBySpecialistOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id := strings.TrimSpace(c.GetHeader(HeaderSpecialistID)); id != "" {
			return "specialist:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
	sweepN   uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (minimum 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyBySpecialistOrIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		sweepN:   5000,
	}
}

// limiter returns the bucket for key, sweeping idle buckets every sweepN
// lookups. The sweep runs before the lookup so a stale bucket is replaced
// rather than refreshed.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= rl.sweepN {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler enforces the limit, answering 429 too_many_requests with
// Retry-After: 1 when a bucket is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.limiter(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
