// Handles video to song mappings stored in mappings.json.

package library

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/storage"
)

// MappingsKey is the document key of the mapping list.
const MappingsKey = "mappings"

// Mapping links a Bilibili video to a NetEase Cloud Music song.
type Mapping struct {
	ID             string        `json:"id" jsonschema:"description=Unique mapping identifier (UUID)"`
	BVID           string        `json:"bvid" jsonschema:"description=Bilibili video id"`
	SongName       string        `json:"songName" jsonschema:"description=Song title"`
	Artist         string        `json:"artist" jsonschema:"description=Song artist"`
	Cover          string        `json:"cover" jsonschema:"description=Cover image URL"`
	NeteaseCloudID storage.Text  `json:"neteasecloudId" jsonschema:"description=NetEase Cloud Music song id"`
	UploaderUID    storage.Text  `json:"uploader_uid" jsonschema:"description=Bilibili uid of the creator"`
	PlayCount      storage.Count `json:"play_count" jsonschema:"description=Number of recorded plays"`
	CreatedAt      storage.Stamp `json:"created_at" jsonschema:"description=Creation timestamp"`
	IsPublic       *bool         `json:"is_public,omitempty" jsonschema:"description=Whether the mapping is listed publicly"`
}

// Validate checks that the required fields are set.
func (m *Mapping) Validate() error {
	if m.BVID == "" {
		return errBVIDRequired
	}
	if m.SongName == "" || m.Artist == "" || m.NeteaseCloudID == "" {
		return errFieldsRequired
	}
	return nil
}

// Sort orders a mapping listing.
type Sort string

// Sort orders.
const (
	SortNewest  Sort = "newest"
	SortPopular Sort = "popular"
)

// Query selects a page of mappings.
type Query struct {
	// BVID filters on the exact video id. It takes precedence over Search.
	BVID string
	// Search is a case-insensitive substring of the song name or artist.
	Search string
	Sort   Sort
	// Page is 1-based.
	Page  int
	Limit int
}

// MappingService handles mapping management.
type MappingService struct {
	store *docstore.Store
}

// NewMappingService creates a new mapping service.
func NewMappingService(store *docstore.Store) *MappingService {
	return &MappingService{store: store}
}

func (s *MappingService) load(ctx context.Context) ([]*Mapping, error) {
	return docstore.Load(ctx, s.store, MappingsKey, []*Mapping{})
}

// List returns the page of mappings selected by q and the number of mappings
// matching the filter before pagination.
func (s *MappingService) List(ctx context.Context, q *Query) ([]*Mapping, int, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := filterMappings(all, q)
	sortMappings(filtered, q.Sort)
	total := len(filtered)
	return paginate(filtered, q.Page, q.Limit), total, nil
}

func filterMappings(all []*Mapping, q *Query) []*Mapping {
	out := make([]*Mapping, 0, len(all))
	switch {
	case q.BVID != "":
		for _, m := range all {
			if m != nil && m.BVID == q.BVID {
				out = append(out, m)
			}
		}
	case q.Search != "":
		needle := strings.ToLower(q.Search)
		for _, m := range all {
			if m != nil && (strings.Contains(strings.ToLower(m.SongName), needle) || strings.Contains(strings.ToLower(m.Artist), needle)) {
				out = append(out, m)
			}
		}
	default:
		for _, m := range all {
			if m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

// sortMappings orders in place. Unknown orders keep the stored order.
func sortMappings(ms []*Mapping, order Sort) {
	switch order {
	case SortNewest:
		// Timestamps that failed to parse sort last.
		slices.SortStableFunc(ms, func(a, b *Mapping) int {
			return b.CreatedAt.Compare(a.CreatedAt.Time)
		})
	case SortPopular:
		slices.SortStableFunc(ms, func(a, b *Mapping) int {
			return cmp.Compare(b.PlayCount, a.PlayCount)
		})
	}
}

func paginate[T any](items []T, page, limit int) []T {
	if page < 1 || limit < 1 {
		return []T{}
	}
	// Compare page counts first, (page-1)*limit overflows for huge pages.
	pages := len(items) / limit
	if len(items)%limit != 0 {
		pages++
	}
	if page > pages {
		return []T{}
	}
	start := (page - 1) * limit
	return items[start:min(start+limit, len(items))]
}

// Get returns the mapping with the given id.
func (s *MappingService) Get(ctx context.Context, id string) (*Mapping, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m != nil && m.ID == id {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// Create stores a new mapping owned by uploader and returns it with its ID,
// CreatedAt and PlayCount set.
func (s *MappingService) Create(ctx context.Context, uploader storage.Text, m *Mapping) (*Mapping, error) {
	if uploader == "" {
		return nil, errOwnerRequired
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := *m
	out.ID = uuid.NewString()
	out.UploaderUID = uploader
	out.PlayCount = 0
	out.CreatedAt = storage.NewStamp(time.Now())
	if out.IsPublic == nil {
		public := true
		out.IsPublic = &public
	}
	err := docstore.Update(ctx, s.store, MappingsKey, []*Mapping{}, func(all *[]*Mapping) error {
		for _, other := range *all {
			if other != nil && other.BVID == out.BVID {
				return ErrDuplicateBVID
			}
		}
		*all = append(*all, &out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the mapping with the given id on behalf of uid.
//
// Returns ErrNotFound when it doesn't exist and ErrForbidden when uid is not
// its uploader.
func (s *MappingService) Delete(ctx context.Context, id string, uid storage.Text) error {
	return docstore.Update(ctx, s.store, MappingsKey, []*Mapping{}, func(all *[]*Mapping) error {
		i := slices.IndexFunc(*all, func(m *Mapping) bool { return m != nil && m.ID == id })
		if i < 0 {
			return ErrNotFound
		}
		if (*all)[i].UploaderUID != uid {
			return ErrForbidden
		}
		*all = slices.Delete(*all, i, i+1)
		return nil
	})
}

// IncrementPlayCount adds one play to the mapping of bvid. It reports false
// without writing when no mapping exists for bvid.
func (s *MappingService) IncrementPlayCount(ctx context.Context, bvid string) (bool, error) {
	err := docstore.Update(ctx, s.store, MappingsKey, []*Mapping{}, func(all *[]*Mapping) error {
		for _, m := range *all {
			if m != nil && m.BVID == bvid {
				m.PlayCount++
				return nil
			}
		}
		return ErrNotFound
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Import appends the mappings whose bvid is not yet mapped and returns how
// many were added. Empty IDs and timestamps are filled in.
func (s *MappingService) Import(ctx context.Context, ms []*Mapping) (int, error) {
	added := 0
	err := docstore.Update(ctx, s.store, MappingsKey, []*Mapping{}, func(all *[]*Mapping) error {
		seen := make(map[string]bool, len(*all))
		for _, m := range *all {
			if m != nil {
				seen[m.BVID] = true
			}
		}
		now := storage.NewStamp(time.Now())
		for _, m := range ms {
			if err := m.Validate(); err != nil {
				return err
			}
			if seen[m.BVID] {
				continue
			}
			seen[m.BVID] = true
			c := *m
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.CreatedAt.IsZero() && c.CreatedAt.String() == "" {
				c.CreatedAt = now
			}
			*all = append(*all, &c)
			added++
		}
		if added == 0 {
			return errNothingAdded
		}
		return nil
	})
	if errors.Is(err, errNothingAdded) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return added, nil
}
