package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func limitedEngine(rl *RateLimiter, pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(rl.Handler())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func post(r http.Handler, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	r := limitedEngine(NewRateLimiter(0.0001, 2, nil))

	for i := 0; i < 2; i++ {
		if w := post(r, nil); w.Code != http.StatusNoContent {
			t.Fatalf("request %d -> %d", i, w.Code)
		}
	}
	w := post(r, nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected 429 with Retry-After, got %d %v", w.Code, w.Header())
	}
}

func TestRateLimiter_SeparateBucketsPerSpecialist(t *testing.T) {
	r := limitedEngine(NewRateLimiter(0.0001, 1, KeyBySpecialistOrIP()))

	if w := post(r, map[string]string{HeaderSpecialistID: "1"}); w.Code != http.StatusNoContent {
		t.Fatalf("specialist 1 -> %d", w.Code)
	}
	if w := post(r, map[string]string{HeaderSpecialistID: "2"}); w.Code != http.StatusNoContent {
		t.Fatalf("specialist 2 must have its own bucket, got %d", w.Code)
	}
	if w := post(r, map[string]string{HeaderSpecialistID: "1"}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("specialist 1 second call -> %d", w.Code)
	}
}

func TestRateLimiter_ReplayBypasses(t *testing.T) {
	bypass := func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() }
	r := limitedEngine(NewRateLimiter(0.0001, 1, nil), bypass)
	for i := 0; i < 5; i++ {
		if w := post(r, nil); w.Code != http.StatusNoContent {
			t.Fatalf("replay %d limited: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.sweepN = 2
	rl.ttl = time.Millisecond

	rl.limiter("a")
	time.Sleep(5 * time.Millisecond)
	rl.limiter("b")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["a"]; ok {
		t.Fatalf("idle bucket not evicted")
	}
	if _, ok := rl.visitors["b"]; !ok {
		t.Fatalf("fresh bucket missing")
	}
}
