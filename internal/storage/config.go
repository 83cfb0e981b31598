// Manages server configuration stored in server_config.json.

package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/nb-music/server/internal/docstore"
)

// ConfigKey is the document key of the server configuration.
const ConfigKey = "server_config"

// ServerConfig stores all server-wide configuration.
// Loaded from server_config.json, created with defaults if missing.
type ServerConfig struct {
	// JWTSecret is the secret used to sign session tokens.
	// Auto-generated if empty on first load.
	JWTSecret []byte `json:"jwt_secret"`

	// SessionTTLHours is how long a session stays valid after login.
	SessionTTLHours int `json:"session_ttl_hours"`

	// Quotas defines server-wide resource limits.
	Quotas ServerQuotas `json:"quotas"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `json:"rate_limits"`
}

// SessionTTL returns the session lifetime.
func (c *ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// DefaultSessionTTLHours keeps sessions for 30 days.
const DefaultSessionTTLHours = 30 * 24

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// AuthRatePerMin limits login attempts.
	// 0 means unlimited.
	AuthRatePerMin int `json:"auth_rate_per_min"`

	// WriteRatePerMin limits write operations (POST/PUT/DELETE).
	// 0 means unlimited.
	WriteRatePerMin int `json:"write_rate_per_min"`

	// ReadAuthRatePerMin limits authenticated read operations.
	// 0 means unlimited.
	ReadAuthRatePerMin int `json:"read_auth_rate_per_min"`

	// ReadUnauthRatePerMin limits unauthenticated read operations.
	// 0 means unlimited.
	ReadUnauthRatePerMin int `json:"read_unauth_rate_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.AuthRatePerMin < 0 {
		return errors.New("auth_rate_per_min must be non-negative")
	}
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadAuthRatePerMin < 0 {
		return errors.New("read_auth_rate_per_min must be non-negative")
	}
	if r.ReadUnauthRatePerMin < 0 {
		return errors.New("read_unauth_rate_per_min must be non-negative")
	}
	return nil
}

// DefaultRateLimits returns the default rate limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		AuthRatePerMin:       10,    // 10 req/min for login
		WriteRatePerMin:      120,   // 120 req/min for writes, play records included
		ReadAuthRatePerMin:   30000, // 30k req/min for authenticated reads
		ReadUnauthRatePerMin: 6000,  // 6k req/min for unauthenticated reads
	}
}

// ServerQuotas defines server-wide resource limits.
type ServerQuotas struct {
	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes"`

	// MaxSessionsPerUser limits active sessions per user. 0 means unlimited.
	MaxSessionsPerUser int `json:"max_sessions_per_user"`

	// MaxPageSize caps the limit query parameter of list endpoints.
	MaxPageSize int `json:"max_page_size"`

	// MaxPlaylistSongs caps the number of songs in one playlist. 0 means unlimited.
	MaxPlaylistSongs int `json:"max_playlist_songs"`
}

// Validate checks that all quota values are non-negative.
func (q *ServerQuotas) Validate() error {
	if q.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if q.MaxSessionsPerUser < 0 {
		return errors.New("max_sessions_per_user must be non-negative")
	}
	if q.MaxPageSize <= 0 {
		return errors.New("max_page_size must be positive")
	}
	if q.MaxPlaylistSongs < 0 {
		return errors.New("max_playlist_songs must be non-negative")
	}
	return nil
}

// DefaultServerQuotas returns the default server-wide quotas.
func DefaultServerQuotas() ServerQuotas {
	return ServerQuotas{
		MaxRequestBodyBytes: 1024 * 1024, // 1 MiB
		MaxSessionsPerUser:  10,
		MaxPageSize:         100,
		MaxPlaylistSongs:    5000,
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("jwt_secret is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if c.SessionTTLHours <= 0 {
		return errors.New("session_ttl_hours must be positive")
	}
	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// DefaultServerConfig returns a configuration with every default set and no
// JWT secret.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SessionTTLHours: DefaultSessionTTLHours,
		Quotas:          DefaultServerQuotas(),
		RateLimits:      DefaultRateLimits(),
	}
}

// fillDefaults sets zero-valued sections to their defaults and reports
// whether anything changed.
func (c *ServerConfig) fillDefaults() bool {
	modified := false
	if c.SessionTTLHours == 0 {
		c.SessionTTLHours = DefaultSessionTTLHours
		modified = true
	}
	if c.Quotas == (ServerQuotas{}) {
		c.Quotas = DefaultServerQuotas()
		modified = true
	}
	if c.RateLimits == (RateLimits{}) {
		c.RateLimits = DefaultRateLimits()
		modified = true
	}
	return modified
}

var errUnchanged = errors.New("unchanged")

// LoadServerConfig loads the configuration document from the store.
// Creates it with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
//
// Unlike collections, a configuration that fails to decode is an error: falling
// back to defaults would rotate the JWT secret and log everybody out.
func LoadServerConfig(ctx context.Context, store *docstore.Store) (*ServerConfig, error) {
	st, err := store.Stat(ctx, ConfigKey)
	if err != nil {
		return nil, err
	}
	// Valid JSON with a mistyped field still fails the typed decode.
	if _, err := docstore.LoadStrict(ctx, store, ConfigKey, ServerConfig{}); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", st.Path, err)
	}

	var cfg ServerConfig
	err = docstore.Update(ctx, store, ConfigKey, DefaultServerConfig(), func(c *ServerConfig) error {
		modified := !st.Exists || c.fillDefaults()
		if len(c.JWTSecret) == 0 {
			c.JWTSecret = make([]byte, 32)
			if _, err := rand.Read(c.JWTSecret); err != nil {
				return fmt.Errorf("failed to generate JWT secret: %w", err)
			}
			modified = true
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid %s.json: %w", ConfigKey, err)
		}
		cfg = *c
		if !modified {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return nil, err
	}
	return &cfg, nil
}

// Save validates and saves the configuration to the store.
func (c *ServerConfig) Save(ctx context.Context, store *docstore.Store) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return docstore.Save(ctx, store, ConfigKey, c)
}
