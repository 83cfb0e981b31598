// Handles user playlists stored in playlists.json.

package library

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/storage"
)

// PlaylistsKey is the document key of the playlist list.
const PlaylistsKey = "playlists"

// Song is a playlist entry as sent by the client. Only "bvid" is interpreted.
type Song map[string]any

// BVID returns the song's video id, or "" when missing.
func (s Song) BVID() string {
	v, _ := s["bvid"].(string)
	return v
}

// JSONSchema implements jsonschema.Reflector customization.
func (Song) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("bvid", &jsonschema.Schema{Type: "string", Description: "Bilibili video id"})
	return &jsonschema.Schema{Type: "object", Properties: props}
}

// Playlist is a named, ordered list of songs owned by a user.
type Playlist struct {
	ID          string        `json:"id" jsonschema:"description=Unique playlist identifier (UUID)"`
	Name        string        `json:"name" jsonschema:"description=Playlist name"`
	Description string        `json:"description" jsonschema:"description=Free form description"`
	Cover       string        `json:"cover" jsonschema:"description=Cover image URL"`
	Songs       []Song        `json:"songs" jsonschema:"description=Songs in play order"`
	SongCount   storage.Count `json:"song_count" jsonschema:"description=Number of songs"`
	UserID      storage.Text  `json:"user_id" jsonschema:"description=Bilibili uid of the owner"`
	CreatedAt   storage.Stamp `json:"created_at" jsonschema:"description=Creation timestamp"`
	UpdatedAt   storage.Stamp `json:"updated_at" jsonschema:"description=Last modification timestamp"`
}

// SongAction is the kind of change applied by UpdateSongs.
type SongAction string

// Song actions.
const (
	// ActionAdd appends the songs whose bvid is not in the playlist yet.
	ActionAdd SongAction = "add"
	// ActionRemove drops every song whose bvid is listed.
	ActionRemove SongAction = "remove"
	// ActionReplace sets the song list verbatim.
	ActionReplace SongAction = "replace"
)

// Valid reports whether a is a known action.
func (a SongAction) Valid() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionReplace:
		return true
	}
	return false
}

// PlaylistService handles playlist management.
type PlaylistService struct {
	store *docstore.Store
	// maxSongs caps the songs of one playlist. 0 means unlimited.
	maxSongs int
}

// NewPlaylistService creates a new playlist service.
func NewPlaylistService(store *docstore.Store, maxSongs int) *PlaylistService {
	return &PlaylistService{store: store, maxSongs: maxSongs}
}

func (s *PlaylistService) checkQuota(n int) error {
	if s.maxSongs > 0 && n > s.maxSongs {
		return fmt.Errorf("%w: %d > %d", ErrTooManySongs, n, s.maxSongs)
	}
	return nil
}

// ListForUser returns the playlists owned by uid in stored order. When
// includeSongs is false the Songs field of every result is nil.
func (s *PlaylistService) ListForUser(ctx context.Context, uid storage.Text, includeSongs bool) ([]*Playlist, error) {
	all, err := docstore.Load(ctx, s.store, PlaylistsKey, []*Playlist{})
	if err != nil {
		return nil, err
	}
	out := []*Playlist{}
	for _, p := range all {
		if p == nil || p.UserID != uid {
			continue
		}
		if !includeSongs {
			p.Songs = nil
		} else if p.Songs == nil {
			p.Songs = []Song{}
		}
		out = append(out, p)
	}
	return out, nil
}

// Create stores a new playlist owned by uid and returns it.
func (s *PlaylistService) Create(ctx context.Context, uid storage.Text, p *Playlist) (*Playlist, error) {
	if uid == "" {
		return nil, errOwnerRequired
	}
	if p.Name == "" {
		return nil, errNameRequired
	}
	if err := s.checkQuota(len(p.Songs)); err != nil {
		return nil, err
	}
	now := storage.NewStamp(time.Now())
	out := *p
	out.ID = uuid.NewString()
	out.UserID = uid
	out.Songs = slices.Clone(p.Songs)
	if out.Songs == nil {
		out.Songs = []Song{}
	}
	out.SongCount = storage.Count(len(out.Songs))
	out.CreatedAt = now
	out.UpdatedAt = now
	err := docstore.Update(ctx, s.store, PlaylistsKey, []*Playlist{}, func(all *[]*Playlist) error {
		*all = append(*all, &out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSongs applies action to the songs of playlist id on behalf of uid and
// returns how many songs were added, removed or set.
//
// Returns ErrInvalidAction, ErrNotFound, ErrForbidden or ErrTooManySongs
// without writing anything.
func (s *PlaylistService) UpdateSongs(ctx context.Context, id string, uid storage.Text, action SongAction, songs []Song) (int, error) {
	if !action.Valid() {
		return 0, fmt.Errorf("%w %q", ErrInvalidAction, action)
	}
	count := 0
	err := docstore.Update(ctx, s.store, PlaylistsKey, []*Playlist{}, func(all *[]*Playlist) error {
		i := slices.IndexFunc(*all, func(p *Playlist) bool { return p != nil && p.ID == id })
		if i < 0 {
			return ErrNotFound
		}
		p := (*all)[i]
		if p.UserID != uid {
			return ErrForbidden
		}
		var next []Song
		next, count = applySongAction(p.Songs, action, songs)
		if err := s.checkQuota(len(next)); err != nil {
			return err
		}
		p.Songs = next
		p.SongCount = storage.Count(len(next))
		p.UpdatedAt = storage.NewStamp(time.Now())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// applySongAction returns the new song list and the number of songs affected.
func applySongAction(current []Song, action SongAction, songs []Song) ([]Song, int) {
	switch action {
	case ActionReplace:
		next := slices.Clone(songs)
		if next == nil {
			next = []Song{}
		}
		return next, len(next)
	case ActionAdd:
		next := slices.Clone(current)
		added := 0
		for _, song := range songs {
			if !slices.ContainsFunc(next, func(s Song) bool { return s.BVID() == song.BVID() }) {
				next = append(next, song)
				added++
			}
		}
		return next, added
	case ActionRemove:
		drop := make(map[string]bool, len(songs))
		for _, song := range songs {
			drop[song.BVID()] = true
		}
		next := make([]Song, 0, len(current))
		for _, song := range current {
			if !drop[song.BVID()] {
				next = append(next, song)
			}
		}
		return next, len(current) - len(next)
	}
	return current, 0
}
