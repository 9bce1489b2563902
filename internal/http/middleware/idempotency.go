// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for the submit-request form.
// A client that retries a submission with the same key gets the request
// created by the first attempt instead of a second request (and a second
// broadcast to every specialist).
//
// The middleware validates the header, derives the client scope, and asks an
// IdempotencyLookup for a live record. A hit is stashed in the Gin context so
// the handler can replay it and the rate limiter can let it through.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderClientID optionally names the submitting client. Without it the
// client IP is the idempotency scope.
const HeaderClientID = "X-Client-ID"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // string: request id of the stored result
	ctxKeyRateBypass = "rate.bypass"
)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the request id stored for (scope, key) if a
// live record exists. Lookup errors do not block the request.
type IdempotencyLookup func(ctx context.Context, scope, key string, now time.Time) (requestID string, found bool, err error)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IdempotencyScope returns the scope a key is stored under for this request.
func IdempotencyScope(c *gin.Context) string {
	if s := c.GetString(ctxKeyIdemScope); s != "" {
		return s
	}
	return clientScope(c)
}

// ReplayRequestID returns the request id of a previously completed
// submission with the same scope and key.
func ReplayRequestID(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemReplay)
	return s, s != ""
}

// IsReplay reports whether ReplayRequestID would succeed.
func IsReplay(c *gin.Context) bool {
	_, ok := ReplayRequestID(c)
	return ok
}

// IdempotencyValidator validates Idempotency-Key on every request that sends
// one and marks replays.
//
//   - absent header: no-op
//   - malformed header: 400 bad_idempotency_key
//   - lookup hit: replay id stashed, rate limiting bypassed
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		scope := clientScope(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if lookup != nil {
			id, found, err := lookup(c.Request.Context(), scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if found && id != "" {
				c.Set(ctxKeyIdemReplay, id)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// clientScope names the submitting client: X-Client-ID when sent, else the
// client IP.
func clientScope(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(HeaderClientID)); id != "" {
		return "client:" + id
	}
	return "ip:" + c.ClientIP()
}
