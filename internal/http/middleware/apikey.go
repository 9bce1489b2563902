// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides RequireAPIKey, the shared-key guard in front of routes
// that act on behalf of a specialist.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the shared integration key.
const HeaderAPIKey = "X-Dispatch-Key"

// RequireAPIKey rejects requests whose X-Dispatch-Key (or Bearer token) does
// not match key. Digests are compared in constant time.
func RequireAPIKey(key string) gin.HandlerFunc {
	want := sha256.Sum256([]byte(key))
	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		sum := sha256.Sum256([]byte(got))
		if got == "" || subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid " + HeaderAPIKey,
			})
			return
		}
		c.Next()
	}
}
