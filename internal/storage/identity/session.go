// Handles active user sessions stored in sessions.json.

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/maruel/ksid"
	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/storage"
)

// SessionsKey is the document key of the session table.
const SessionsKey = "sessions"

// Session represents an active user session.
type Session struct {
	ID          ksid.ID      `json:"id,omitzero" jsonschema:"description=Unique session identifier"`
	UID         storage.Text `json:"uid" jsonschema:"description=Bilibili account id (mid)"`
	Nickname    string       `json:"nickname" jsonschema:"description=Bilibili user name at login"`
	Avatar      string       `json:"avatar" jsonschema:"description=Bilibili avatar URL at login"`
	CreatedAt   storage.Time `json:"created_at" jsonschema:"description=Session creation timestamp"`
	DeviceInfo  string       `json:"device_info,omitempty" jsonschema:"description=User-Agent at login"`
	IPAddress   string       `json:"ip_address,omitempty" jsonschema:"description=Client IP address at login"`
	CountryCode string       `json:"country_code,omitempty" jsonschema:"description=ISO 3166-1 alpha-2 country code at login"`
}

// Clone returns a copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Validate checks that the session is valid.
func (s *Session) Validate() error {
	if s.UID == "" {
		return errSessionUIDRequired
	}
	return nil
}

// ExpiresAt returns when the session stops being valid.
func (s *Session) ExpiresAt(ttl time.Duration) storage.Time {
	return s.CreatedAt.Add(ttl)
}

// Sessions is the session table, keyed by session token.
type Sessions map[string]*Session

// SessionService handles session management.
type SessionService struct {
	store *docstore.Store
	ttl   time.Duration
}

// NewSessionService creates a new session service. Sessions expire ttl after
// creation.
func NewSessionService(store *docstore.Store, ttl time.Duration) *SessionService {
	return &SessionService{store: store, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

func (s *SessionService) expired(session *Session, now storage.Time) bool {
	return !session.ExpiresAt(s.ttl).After(now)
}

// Create stores session under token. CreatedAt and ID are set when zero.
// maxSessions limits the number of active sessions per user. Use 0 to disable the limit.
func (s *SessionService) Create(ctx context.Context, token string, session *Session, maxSessions int) (*Session, error) {
	if token == "" {
		return nil, errTokenRequired
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	out := session.Clone()
	if out.ID.IsZero() {
		out.ID = ksid.NewID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = storage.Now()
	}
	err := docstore.Update(ctx, s.store, SessionsKey, Sessions{}, func(all *Sessions) error {
		if *all == nil {
			*all = Sessions{}
		}
		if _, ok := (*all)[token]; ok {
			return errTokenInUse
		}
		if maxSessions > 0 {
			now := storage.Now()
			active := 0
			for _, other := range *all {
				if other != nil && other.UID == out.UID && !s.expired(other, now) {
					active++
				}
			}
			if active >= maxSessions {
				return ErrSessionQuotaExceeded
			}
		}
		(*all)[token] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// Get returns the session stored under token.
//
// Returns ErrSessionNotFound for an unknown token and ErrSessionExpired when
// the session outlived its TTL.
func (s *SessionService) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	all, err := docstore.Load(ctx, s.store, SessionsKey, Sessions{})
	if err != nil {
		return nil, err
	}
	session := all[token]
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if s.expired(session, storage.Now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Revoke removes the session stored under token.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	return docstore.Update(ctx, s.store, SessionsKey, Sessions{}, func(all *Sessions) error {
		if _, ok := (*all)[token]; !ok {
			return ErrSessionNotFound
		}
		delete(*all, token)
		return nil
	})
}

// CountActive returns the number of sessions that have not expired.
func (s *SessionService) CountActive(ctx context.Context) (int, error) {
	all, err := docstore.Load(ctx, s.store, SessionsKey, Sessions{})
	if err != nil {
		return 0, err
	}
	now := storage.Now()
	count := 0
	for _, session := range all {
		if session != nil && !s.expired(session, now) {
			count++
		}
	}
	return count, nil
}

// CleanupExpired removes expired sessions and returns how many were removed.
func (s *SessionService) CleanupExpired(ctx context.Context) (int, error) {
	count := 0
	err := docstore.Update(ctx, s.store, SessionsKey, Sessions{}, func(all *Sessions) error {
		now := storage.Now()
		for token, session := range *all {
			if session == nil || s.expired(session, now) {
				delete(*all, token)
				count++
			}
		}
		if count == 0 {
			return errNothingToDo
		}
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

var (
	errSessionUIDRequired = errors.New("session uid is required")
	errTokenRequired      = errors.New("token is required")
	errTokenInUse         = errors.New("session token already in use")
	errNothingToDo        = errors.New("nothing to do")

	// ErrSessionNotFound is returned for an unknown session token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned for a session older than its TTL.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionQuotaExceeded is returned when a user has too many active sessions.
	ErrSessionQuotaExceeded = errors.New("maximum number of active sessions exceeded")
)
