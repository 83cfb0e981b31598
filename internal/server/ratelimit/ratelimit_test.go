package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nb-music/server/internal/storage"
	"golang.org/x/time/rate"
)

func TestLimiter_Allow(t *testing.T) {
	// 5 requests per minute, burst of 5.
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	for i := range 5 {
		result := l.Allow("test:key")
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
		if result.Limit != 5 {
			t.Errorf("expected Limit=5, got %d", result.Limit)
		}
	}
	result := l.Allow("test:key")
	if result.Allowed {
		t.Error("6th request should be rate limited")
	}
	if result.RetryAfter < time.Second {
		t.Errorf("expected RetryAfter >= 1s, got %v", result.RetryAfter)
	}
	if result.Remaining != 0 {
		t.Errorf("Remaining = %d", result.Remaining)
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	for range 5 {
		l.Allow("key1")
	}
	if l.Allow("key1").Allowed {
		t.Error("key1 should be rate limited")
	}
	for range 5 {
		if !l.Allow("key2").Allowed {
			t.Error("key2 should not be rate limited")
		}
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d", l.Len())
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	l := NewLimiter(60, time.Hour, 10)
	defer l.Close()

	l.Allow("idle")
	for range 10 {
		l.Allow("busy")
	}
	l.cleanup(time.Now().Add(time.Minute))
	// "idle" has 9 tokens left of 10 so it is kept until refilled; "busy" too.
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	l.buckets.Store("full", &bucket{limiter: rate.NewLimiter(l.rate, l.burst)})
	l.cleanup(time.Now().Add(time.Minute))
	if _, ok := l.buckets.Load("full"); ok {
		t.Error("full stale bucket not removed")
	}
}

func TestNewLimiters(t *testing.T) {
	ls := NewLimiters(storage.DefaultRateLimits())
	defer ls.Close()
	if ls.Auth == nil || ls.Auth.Scope != ScopeIP {
		t.Error("Auth tier should have IP scope")
	}
	if ls.Write == nil || ls.Write.Scope != ScopeUser {
		t.Error("Write tier should have User scope")
	}
	if ls.ReadAuth == nil || ls.ReadAuth.Scope != ScopeUser {
		t.Error("ReadAuth tier should have User scope")
	}
	if ls.ReadUnauth == nil || ls.ReadUnauth.Scope != ScopeIP {
		t.Error("ReadUnauth tier should have IP scope")
	}

	unlimited := NewLimiters(storage.RateLimits{WriteRatePerMin: 10})
	defer unlimited.Close()
	if unlimited.Auth != nil || unlimited.ReadAuth != nil || unlimited.ReadUnauth != nil || unlimited.Write == nil {
		t.Errorf("zero rates must disable tiers: %+v", unlimited)
	}
}

func tierName(tr *Tier) string {
	if tr == nil {
		return ""
	}
	return tr.Name
}

func TestLimiters_Match(t *testing.T) {
	ls := NewLimiters(storage.DefaultRateLimits())
	defer ls.Close()

	tests := []struct {
		method string
		path   string
		unauth string
		auth   string
	}{
		{"GET", "/v1/health", "", ""},
		{"GET", "/metrics", "", ""},
		{"POST", "/v1/auth/login", "auth", "write"},
		{"GET", "/v1/mappings", "read", "read"},
		{"POST", "/v1/mappings", "", "write"},
		{"DELETE", "/v1/mappings/x", "", "write"},
		{"PUT", "/v1/playlists/x/songs", "", "write"},
		{"OPTIONS", "/v1/mappings", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if got := tierName(ls.MatchUnauth(tt.method, tt.path)); got != tt.unauth {
				t.Errorf("MatchUnauth = %q, want %q", got, tt.unauth)
			}
			if got := tierName(ls.MatchAuth(tt.method, tt.path)); got != tt.auth {
				t.Errorf("MatchAuth = %q, want %q", got, tt.auth)
			}
		})
	}

	var none *Limiters
	if none.MatchAuth("POST", "/v1/mappings") != nil || none.MatchUnauth("GET", "/v1/mappings") != nil {
		t.Error("nil Limiters must not limit")
	}
}

func TestResponseWriter(t *testing.T) {
	result := Result{Allowed: false, Limit: 60, Remaining: 0, ResetAt: time.Unix(1706012345, 0), RetryAfter: 30 * time.Second}
	rec := httptest.NewRecorder()
	w := NewResponseWriter(rec, result)
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte("{}"))

	want := map[string]string{
		"X-RateLimit-Limit":     "60",
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     "1706012345",
		"Retry-After":           "30",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	WriteHeaders(rec, Result{Allowed: true, Limit: 1})
	if rec.Header().Get("Retry-After") != "" {
		t.Error("Retry-After must only be set when limited")
	}
}

func TestBuildKey(t *testing.T) {
	if got := BuildKey(ScopeIP, "1.2.3.4", "auth"); got != "ip:1.2.3.4:auth" {
		t.Errorf("BuildKey = %q", got)
	}
	if got := BuildKey(ScopeUser, "10000001", "write"); got != "user:10000001:write" {
		t.Errorf("BuildKey = %q", got)
	}
}
