package handlers

import (
	"context"

	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/storage"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
)

// PlayHandler records playback events.
type PlayHandler struct {
	plays *library.PlayService
}

// NewPlayHandler creates a new play handler.
func NewPlayHandler(svc *Services) *PlayHandler {
	return &PlayHandler{plays: svc.Plays}
}

// RecordPlay logs a play and bumps the play count of the matching mapping.
func (h *PlayHandler) RecordPlay(ctx context.Context, session *identity.Session, req *dto.RecordPlayRequest) (*dto.RecordPlayResponse, error) {
	err := h.plays.Record(ctx, &library.PlayRecord{
		UserID:     session.UID,
		BVID:       req.BVID,
		Duration:   *req.Duration,
		SongID:     storage.Text(req.SongID),
		PlaylistID: req.PlaylistID,
	})
	if err != nil {
		return nil, apiError(err, "play record")
	}
	return &dto.RecordPlayResponse{Recorded: true}, nil
}
