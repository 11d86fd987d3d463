package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"attendance/internal/auth"
)

func TestAllowRefillsOverTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	if !l.allow("k") || !l.allow("k") {
		t.Fatalf("burst of capacity rejected")
	}
	if l.allow("k") {
		t.Fatalf("expected limit after capacity")
	}
	if !l.allow("other") {
		t.Fatalf("keys must not share buckets")
	}
	now = now.Add(time.Second)
	if !l.allow("k") {
		t.Fatalf("expected refill after one second at 60/min")
	}
}

func TestMiddlewareKeysByPrincipal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Student"); id != "" {
			auth.SetPrincipal(c, auth.Student{Identity: auth.Identity{ID: id}})
		}
		c.Next()
	}, l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(student string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if student != "" {
			req.Header.Set("X-Student", student)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if do("S1") != http.StatusOK || do("S1") != http.StatusTooManyRequests {
		t.Fatalf("S1 should be limited on second request")
	}
	if do("S2") != http.StatusOK {
		t.Fatalf("S2 shares the address but not the bucket")
	}
	if do("") != http.StatusOK || do("") != http.StatusTooManyRequests {
		t.Fatalf("anonymous callers are limited by IP")
	}
}

func TestRetryAfterAndIdleEviction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(1, 2)
	l.now = func() time.Time { return now }
	r := gin.New()
	r.Use(l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	if w := get(); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := get()
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "30" {
		t.Fatalf("code=%d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}

	now = now.Add(idleBucketTTL)
	l.allow("other")
	l.mu.Lock()
	_, kept := l.buckets["ip:10.0.0.2"]
	l.mu.Unlock()
	if kept {
		t.Fatalf("idle bucket should have been evicted")
	}
}
