// Handles the public video to song mappings.

package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nb-music/server/internal/server/dto"
	"github.com/nb-music/server/internal/storage"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
)

// MappingHandler handles mapping requests.
type MappingHandler struct {
	mappings *library.MappingService
	cfg      *Config
}

// NewMappingHandler creates a new mapping handler.
func NewMappingHandler(svc *Services, cfg *Config) *MappingHandler {
	return &MappingHandler{mappings: svc.Mappings, cfg: cfg}
}

// ListMappings returns one page of mappings. bvid takes precedence over search.
func (h *MappingHandler) ListMappings(ctx context.Context, req *dto.ListMappingsRequest) (*dto.ListMappingsResponse, error) {
	page, limit := h.cfg.pageBounds(req.Page, req.Limit)
	sort := library.Sort(req.Sort)
	if sort == "" {
		sort = library.SortNewest
	}
	ms, total, err := h.mappings.List(ctx, &library.Query{
		BVID:   req.BVID,
		Search: req.Search,
		Sort:   sort,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return nil, apiError(err, "mapping")
	}
	out := make([]dto.MappingResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, mappingToResponse(m))
	}
	return &dto.ListMappingsResponse{Mappings: out, Total: total, Page: page, Limit: limit}, nil
}

// CreateMapping maps a video to a song on behalf of the caller.
func (h *MappingHandler) CreateMapping(ctx context.Context, session *identity.Session, req *dto.CreateMappingRequest) (*dto.CreatedResponse, error) {
	m, err := h.mappings.Create(ctx, session.UID, &library.Mapping{
		BVID:           strings.TrimSpace(req.BVID),
		SongName:       req.SongName,
		Artist:         req.Artist,
		Cover:          req.Cover,
		NeteaseCloudID: storage.Text(req.NeteaseCloudID),
		IsPublic:       req.IsPublic,
	})
	if err != nil {
		return nil, apiError(err, "mapping")
	}
	slog.InfoContext(ctx, "Mapping created", "id", m.ID, "bvid", m.BVID, "uid", session.UID)
	return &dto.CreatedResponse{ID: m.ID, CreatedAt: m.CreatedAt.String()}, nil
}

// DeleteMapping deletes a mapping uploaded by the caller.
func (h *MappingHandler) DeleteMapping(ctx context.Context, session *identity.Session, req *dto.DeleteMappingRequest) (*dto.DeleteMappingResponse, error) {
	if err := h.mappings.Delete(ctx, req.ID, session.UID); err != nil {
		return nil, apiError(err, "mapping")
	}
	slog.InfoContext(ctx, "Mapping deleted", "id", req.ID, "uid", session.UID)
	return &dto.DeleteMappingResponse{DeletedID: req.ID}, nil
}

func mappingToResponse(m *library.Mapping) dto.MappingResponse {
	return dto.MappingResponse{
		ID:             m.ID,
		BVID:           m.BVID,
		SongName:       m.SongName,
		Artist:         m.Artist,
		Cover:          m.Cover,
		NeteaseCloudID: string(m.NeteaseCloudID),
		UploaderUID:    string(m.UploaderUID),
		PlayCount:      int64(m.PlayCount),
		CreatedAt:      m.CreatedAt.String(),
		IsPublic:       m.IsPublic == nil || *m.IsPublic,
	}
}
