// Defines shared service dependencies for handlers.

// Package handlers implements the HTTP endpoints on top of the storage
// services. Handlers take and return dto types and are adapted to net/http by
// the server package.
package handlers

import (
	"github.com/nb-music/server/internal/bilibili"
	"github.com/nb-music/server/internal/storage"
	"github.com/nb-music/server/internal/storage/history"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
)

// Services holds all service dependencies for handlers.
type Services struct {
	Mappings  *library.MappingService
	Playlists *library.PlaylistService
	Plays     *library.PlayService
	Sessions  *identity.SessionService
	Bilibili  bilibili.Verifier
	History   *history.Repo // may be nil
}

// Config holds configuration values needed by handlers.
type Config struct {
	JWTSecret []byte
	Version   string
	Quotas    storage.ServerQuotas
}

// defaultPageSize is the page size when the client doesn't ask for one.
const defaultPageSize = 20

// pageBounds clamps a requested page and limit.
func (c *Config) pageBounds(page, limit int) (int, int) {
	page = max(page, 1)
	if limit < 1 {
		limit = defaultPageSize
	}
	if c.Quotas.MaxPageSize > 0 {
		limit = min(limit, c.Quotas.MaxPageSize)
	}
	return page, limit
}
