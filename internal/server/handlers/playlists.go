// Handles the caller's playlists.

package handlers

import (
	"context"

	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
)

// PlaylistHandler handles playlist requests.
type PlaylistHandler struct {
	playlists *library.PlaylistService
}

// NewPlaylistHandler creates a new playlist handler.
func NewPlaylistHandler(svc *Services) *PlaylistHandler {
	return &PlaylistHandler{playlists: svc.Playlists}
}

// ListPlaylists returns the caller's playlists, with songs only on request.
func (h *PlaylistHandler) ListPlaylists(ctx context.Context, session *identity.Session, req *dto.ListPlaylistsRequest) (*dto.ListPlaylistsResponse, error) {
	ps, err := h.playlists.ListForUser(ctx, session.UID, req.WithSongs())
	if err != nil {
		return nil, apiError(err, "playlist")
	}
	out := make([]dto.PlaylistResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, playlistToResponse(p))
	}
	return &dto.ListPlaylistsResponse{Playlists: out}, nil
}

// CreatePlaylist creates a playlist owned by the caller.
func (h *PlaylistHandler) CreatePlaylist(ctx context.Context, session *identity.Session, req *dto.CreatePlaylistRequest) (*dto.CreatedResponse, error) {
	p, err := h.playlists.Create(ctx, session.UID, &library.Playlist{
		Name:        req.Name,
		Description: req.Description,
		Cover:       req.Cover,
		Songs:       toSongs(req.Songs),
	})
	if err != nil {
		return nil, apiError(err, "playlist")
	}
	return &dto.CreatedResponse{ID: p.ID, CreatedAt: p.CreatedAt.String()}, nil
}

// UpdatePlaylistSongs adds, removes or replaces the songs of a playlist.
func (h *PlaylistHandler) UpdatePlaylistSongs(ctx context.Context, session *identity.Session, req *dto.UpdatePlaylistSongsRequest) (*dto.UpdatePlaylistSongsResponse, error) {
	n, err := h.playlists.UpdateSongs(ctx, req.ID, session.UID, library.SongAction(req.Action), toSongs(req.Songs))
	if err != nil {
		return nil, apiError(err, "playlist")
	}
	return &dto.UpdatePlaylistSongsResponse{UpdatedCount: n}, nil
}

func toSongs(in []map[string]any) []library.Song {
	if in == nil {
		return nil
	}
	out := make([]library.Song, len(in))
	for i, s := range in {
		out[i] = library.Song(s)
	}
	return out
}

func playlistToResponse(p *library.Playlist) dto.PlaylistResponse {
	var songs []map[string]any
	if p.Songs != nil {
		songs = make([]map[string]any, len(p.Songs))
		for i, s := range p.Songs {
			songs[i] = s
		}
	}
	return dto.PlaylistResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Cover:       p.Cover,
		Songs:       songs,
		SongCount:   int64(p.SongCount),
		UserID:      string(p.UserID),
		CreatedAt:   p.CreatedAt.String(),
		UpdatedAt:   p.UpdatedAt.String(),
	}
}
