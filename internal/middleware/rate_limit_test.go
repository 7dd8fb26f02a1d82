package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 20).Draw(t, "limit")
		attempts := rapid.IntRange(0, 40).Draw(t, "attempts")

		rl := NewRateLimiter(limit, time.Minute)
		defer rl.Stop()

		allowed := 0
		for i := 0; i < attempts; i++ {
			if rl.Allow("10.0.0.1") {
				allowed++
			}
		}
		want := min(attempts, limit)
		if allowed != want {
			t.Fatalf("allowed %d of %d with limit %d, want %d", allowed, attempts, limit, want)
		}
		if got := rl.Remaining("10.0.0.1"); got != limit-want {
			t.Fatalf("Remaining() = %d, want %d", got, limit-want)
		}
	})
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.mu.Lock()
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	rl.mu.Unlock()
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	if !rl.Allow("k") || !rl.Allow("k") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("k") {
		t.Fatal("third request inside the window should be rejected")
	}
	if !rl.Allow("other") {
		t.Fatal("keys are independent")
	}

	advance(61 * time.Second)
	if !rl.Allow("k") {
		t.Error("request after the window should pass")
	}
}

func TestLimitByIP(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	h := rl.LimitByIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("192.0.2.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := do("192.0.2.1:5678")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if rec := do("192.0.2.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d", rec.Code)
	}
}
