package handlers

import (
	"context"
	"log/slog"

	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/storage/history"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version string
	history *history.Repo
}

// NewHealthHandler creates a new health handler. repo may be nil.
func NewHealthHandler(version string, repo *history.Repo) *HealthHandler {
	return &HealthHandler{version: version, history: repo}
}

// Health handles health check requests.
func (h *HealthHandler) Health(ctx context.Context, _ *dto.HealthRequest) (*dto.HealthResponse, error) {
	resp := &dto.HealthResponse{Status: "ok", Version: h.version}
	if h.history != nil {
		n, err := h.history.CommitCount(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Failed to count commits", "err", err)
		}
		resp.Commits = n
	}
	return resp, nil
}
