package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newSyncHandler(rl *RateLimiter, calls *int) http.Handler {
	return rl.SyncMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
	}))
}

func syncRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{SyncRate: 1, SyncBurst: 3, CleanupInterval: time.Minute})
	defer rl.Stop()

	calls := 0
	handler := newSyncHandler(rl, &calls)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, syncRequest("192.0.2.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	if calls != 3 {
		t.Errorf("handler call count = %d, want 3", calls)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(SyncRateLimiterConfig(2))
	defer rl.Stop()

	calls := 0
	handler := newSyncHandler(rl, &calls)

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), syncRequest("192.0.2.1:1234"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, syncRequest("192.0.2.1:5678"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if calls != 2 {
		t.Errorf("handler call count = %d, want 2", calls)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 30 {
		t.Errorf("Retry-After = %q, want 30", w.Header().Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IndependentPerClientIP(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{SyncRate: 0.01, SyncBurst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	calls := 0
	handler := newSyncHandler(rl, &calls)

	handler.ServeHTTP(httptest.NewRecorder(), syncRequest("192.0.2.1:1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, syncRequest("198.51.100.7:1"))
	if w.Code != http.StatusOK {
		t.Errorf("別クライアントは独立して制限される: status = %d", w.Code)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{SyncRate: 1, SyncBurst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.getOrCreateLimiter("192.0.2.1")
	rl.getOrCreateLimiter("192.0.2.2")

	rl.mu.Lock()
	rl.limiters["192.0.2.1"].lastAccess = time.Now().Add(-3 * time.Hour)
	rl.mu.Unlock()

	rl.cleanup()

	if rl.LimiterCount() != 1 {
		t.Errorf("LimiterCount = %d, want 1", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestSyncRateLimiterConfig(t *testing.T) {
	cfg := SyncRateLimiterConfig(6)
	if float64(cfg.SyncRate) != 0.1 || cfg.SyncBurst != 6 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg := SyncRateLimiterConfig(0); cfg.SyncBurst != 1 {
		t.Errorf("0以下は1として扱う: %+v", cfg)
	}
}

func TestClientIP(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234":    "192.0.2.1",
		"[2001:db8::1]:443": "2001:db8::1",
		"192.0.2.9":         "192.0.2.9",
	}
	for remote, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := ClientIP(req); got != want {
			t.Errorf("ClientIP(%q) = %q, want %q", remote, got, want)
		}
	}
}
