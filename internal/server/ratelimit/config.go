// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/nb-music/server/internal/storage"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP uses client IP address as the rate limit key.
	ScopeIP Scope = iota
	// ScopeUser uses the authenticated Bilibili uid as the rate limit key.
	ScopeUser
)

// Tier is a named limiter with its key scope.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Limiters holds the tiers. A nil tier is unlimited.
type Limiters struct {
	Auth       *Tier
	Write      *Tier
	ReadAuth   *Tier // authenticated read
	ReadUnauth *Tier // unauthenticated read
}

func newTier(name string, perMin, burst int, scope Scope) *Tier {
	if perMin <= 0 {
		return nil
	}
	return &Tier{Name: name, Limiter: NewLimiter(perMin, time.Minute, burst), Scope: scope}
}

// NewLimiters creates the tiers from the configured per minute rates. Login
// gets its full minute as burst, other tiers a sixth of it.
func NewLimiters(cfg storage.RateLimits) *Limiters {
	return &Limiters{
		Auth:       newTier("auth", cfg.AuthRatePerMin, cfg.AuthRatePerMin, ScopeIP),
		Write:      newTier("write", cfg.WriteRatePerMin, cfg.WriteRatePerMin/6, ScopeUser),
		ReadAuth:   newTier("read", cfg.ReadAuthRatePerMin, cfg.ReadAuthRatePerMin/6, ScopeUser),
		ReadUnauth: newTier("read", cfg.ReadUnauthRatePerMin, cfg.ReadUnauthRatePerMin/6, ScopeIP),
	}
}

// exempt reports whether path is never rate limited.
func exempt(path string) bool {
	return path == "/v1/health" || path == "/metrics"
}

// MatchUnauth returns the tier for unauthenticated requests.
// Returns nil for paths that should not be rate limited.
func (l *Limiters) MatchUnauth(method, path string) *Tier {
	if l == nil || exempt(path) {
		return nil
	}
	if strings.HasPrefix(path, "/v1/auth/") && method == http.MethodPost {
		return l.Auth
	}
	if method == http.MethodGet {
		return l.ReadUnauth
	}
	return nil
}

// MatchAuth returns the tier for authenticated requests.
// Returns nil for paths that should not be rate limited.
func (l *Limiters) MatchAuth(method, path string) *Tier {
	if l == nil || exempt(path) {
		return nil
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return l.Write
	case http.MethodGet:
		return l.ReadAuth
	}
	return nil
}

// Close stops all limiter cleanup goroutines.
func (l *Limiters) Close() {
	if l == nil {
		return
	}
	for _, t := range []*Tier{l.Auth, l.Write, l.ReadAuth, l.ReadUnauth} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}
