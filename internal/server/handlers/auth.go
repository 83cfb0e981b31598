// Handles Bilibili login, logout and the current session.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
	"github.com/nb-music/server/internal/bilibili"
	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/server/reqctx"
	"github.com/nb-music/server/internal/storage"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
)

// maxDeviceInfo truncates the stored User-Agent.
const maxDeviceInfo = 200

// AuthHandler handles authentication requests.
type AuthHandler struct {
	verifier bilibili.Verifier
	sessions *identity.SessionService
	plays    *library.PlayService
	cfg      *Config
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *Services, cfg *Config) *AuthHandler {
	return &AuthHandler{verifier: svc.Bilibili, sessions: svc.Sessions, plays: svc.Plays, cfg: cfg}
}

// Login verifies the SESSDATA cookie with Bilibili and opens a session for
// the confirmed account.
func (h *AuthHandler) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	profile, err := h.verifier.Verify(ctx, req.Token)
	if err != nil {
		if errors.Is(err, bilibili.ErrNotLoggedIn) {
			return nil, dto.Unauthorized("Bilibili verification failed").Wrap(err)
		}
		return nil, dto.NewAPIError(http.StatusBadGateway, "Bilibili is unreachable").Wrap(err)
	}
	if profile.UID != string(req.BilibiliUID) {
		slog.WarnContext(ctx, "Login uid mismatch", "claimed", req.BilibiliUID, "verified", profile.UID)
		return nil, dto.Unauthorized("User ID mismatch")
	}

	token, session, err := h.newSession(ctx, profile)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "User logged in", "uid", session.UID, "sid", session.ID, "country", session.CountryCode)
	return &dto.LoginResponse{
		SessionToken: token,
		UserInfo:     userInfo(session),
	}, nil
}

// newSession signs a token for profile and stores its session.
func (h *AuthHandler) newSession(ctx context.Context, profile *bilibili.Profile) (string, *identity.Session, error) {
	now := time.Now()
	sid := ksid.NewID()
	claims := jwt.MapClaims{
		"sub": profile.UID,
		"sid": sid.String(),
		"iat": now.Unix(),
		"exp": now.Add(h.sessions.TTL()).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.cfg.JWTSecret)
	if err != nil {
		return "", nil, dto.InternalWithError(err)
	}
	deviceInfo := reqctx.UserAgent(ctx)
	if len(deviceInfo) > maxDeviceInfo {
		deviceInfo = deviceInfo[:maxDeviceInfo]
	}
	session, err := h.sessions.Create(ctx, token, &identity.Session{
		ID:          sid,
		UID:         storage.Text(profile.UID),
		Nickname:    profile.Nickname,
		Avatar:      profile.Avatar,
		CreatedAt:   storage.ToTime(now),
		DeviceInfo:  deviceInfo,
		IPAddress:   reqctx.ClientIP(ctx),
		CountryCode: reqctx.CountryCode(ctx),
	}, h.cfg.Quotas.MaxSessionsPerUser)
	if err != nil {
		return "", nil, apiError(err, "session")
	}
	return token, session, nil
}

// Logout revokes the current session.
func (h *AuthHandler) Logout(ctx context.Context, session *identity.Session, _ *dto.LogoutRequest) (*dto.LogoutResponse, error) {
	if err := h.sessions.Revoke(ctx, reqctx.TokenString(ctx)); err != nil {
		return nil, apiError(err, "session")
	}
	slog.InfoContext(ctx, "User logged out", "uid", session.UID, "sid", session.ID)
	return &dto.LogoutResponse{LoggedOut: true}, nil
}

// Me returns the current session's user.
func (h *AuthHandler) Me(ctx context.Context, session *identity.Session, _ *dto.GetMeRequest) (*dto.MeResponse, error) {
	plays, err := h.plays.CountForUser(ctx, session.UID)
	if err != nil {
		return nil, apiError(err, "play records")
	}
	return &dto.MeResponse{
		UserInfo:  userInfo(session),
		ExpiresAt: session.ExpiresAt(h.sessions.TTL()).AsTime().Unix(),
		PlayCount: plays,
	}, nil
}

func userInfo(s *identity.Session) dto.UserInfo {
	return dto.UserInfo{UID: string(s.UID), Nickname: s.Nickname, Avatar: s.Avatar}
}
