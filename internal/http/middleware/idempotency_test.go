package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type idemSeen struct {
	key, scope, replay string
	bypass             bool
}

func idemEngine(lookup IdempotencyLookup, seen *idemSeen) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 16}, lookup))
	r.POST("/submit", func(c *gin.Context) {
		seen.key, _ = GetIdempotencyKey(c)
		seen.scope = IdempotencyScope(c)
		seen.replay, _ = ReplayRequestID(c)
		seen.bypass = IsRateBypass(c)
		c.Status(http.StatusCreated)
	})
	return r
}

func submit(r http.Handler, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_NoHeaderIsNoop(t *testing.T) {
	called := false
	lookup := func(context.Context, string, string, time.Time) (string, bool, error) {
		called = true
		return "", false, nil
	}
	var seen idemSeen
	w := submit(idemEngine(lookup, &seen), nil)
	if w.Code != http.StatusCreated || called || seen.key != "" {
		t.Fatalf("unexpected: code=%d called=%v seen=%+v", w.Code, called, seen)
	}
	if seen.scope != "ip:203.0.113.7" {
		t.Fatalf("scope = %q", seen.scope)
	}
}

func TestIdempotency_RejectsMalformedKeys(t *testing.T) {
	var seen idemSeen
	r := idemEngine(nil, &seen)
	for _, k := range []string{"has space", "bad/slash", strings.Repeat("a", 17)} {
		w := submit(r, map[string]string{HeaderIdempotencyKey: k})
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q -> %d %s", k, w.Code, w.Body.String())
		}
	}
}

func TestIdempotency_ReplayMarksContext(t *testing.T) {
	var gotScope, gotKey string
	lookup := func(_ context.Context, scope, key string, _ time.Time) (string, bool, error) {
		gotScope, gotKey = scope, key
		return "req-1", true, nil
	}
	var seen idemSeen
	w := submit(idemEngine(lookup, &seen), map[string]string{
		HeaderIdempotencyKey: "form-42",
		HeaderClientID:       "kiosk-7",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("code %d", w.Code)
	}
	if gotScope != "client:kiosk-7" || gotKey != "form-42" {
		t.Fatalf("lookup got (%q, %q)", gotScope, gotKey)
	}
	if seen.replay != "req-1" || !seen.bypass || seen.key != "form-42" || seen.scope != "client:kiosk-7" {
		t.Fatalf("context not marked: %+v", seen)
	}
}

func TestIdempotency_LookupErrorDoesNotBlock(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (string, bool, error) {
		return "", false, errors.New("db down")
	}
	var seen idemSeen
	w := submit(idemEngine(lookup, &seen), map[string]string{HeaderIdempotencyKey: "k1"})
	if w.Code != http.StatusCreated || seen.replay != "" || seen.bypass {
		t.Fatalf("unexpected: %d %+v", w.Code, seen)
	}
}
