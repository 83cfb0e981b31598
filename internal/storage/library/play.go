// Records playback events in play_records.json.

package library

import (
	"context"
	"time"

	"github.com/nb-music/server/internal/docstore"
	"github.com/nb-music/server/internal/storage"
)

// PlayRecordsKey is the document key of the play record log.
const PlayRecordsKey = "play_records"

// PlayRecord is one playback event.
type PlayRecord struct {
	UserID     storage.Text  `json:"user_id" jsonschema:"description=Bilibili uid of the listener"`
	BVID       string        `json:"bvid" jsonschema:"description=Bilibili video id"`
	Duration   float64       `json:"duration" jsonschema:"description=Seconds listened"`
	Timestamp  storage.Stamp `json:"timestamp" jsonschema:"description=When the play was recorded"`
	SongID     storage.Text  `json:"song_id,omitempty" jsonschema:"description=Song id reported by the client"`
	PlaylistID string        `json:"playlist_id,omitempty" jsonschema:"description=Playlist the song was played from"`
}

// PlayService records playback events.
type PlayService struct {
	store    *docstore.Store
	mappings *MappingService
}

// NewPlayService creates a new play service.
func NewPlayService(store *docstore.Store, mappings *MappingService) *PlayService {
	return &PlayService{store: store, mappings: mappings}
}

// Record appends rec to the play log, then increments the play count of the
// mapping for rec.BVID if there is one. Timestamp is set when zero.
//
// The two documents are updated one after the other: if the second update
// fails the play is logged but not counted.
func (s *PlayService) Record(ctx context.Context, rec *PlayRecord) error {
	if rec.BVID == "" {
		return errBVIDRequired
	}
	if rec.UserID == "" {
		return errOwnerRequired
	}
	out := *rec
	if out.Timestamp.IsZero() {
		out.Timestamp = storage.NewStamp(time.Now())
	}
	err := docstore.Update(ctx, s.store, PlayRecordsKey, []*PlayRecord{}, func(all *[]*PlayRecord) error {
		*all = append(*all, &out)
		return nil
	})
	if err != nil {
		return err
	}
	_, err = s.mappings.IncrementPlayCount(ctx, rec.BVID)
	return err
}

// CountForUser returns the number of plays recorded for uid.
func (s *PlayService) CountForUser(ctx context.Context, uid storage.Text) (int, error) {
	all, err := docstore.Load(ctx, s.store, PlayRecordsKey, []*PlayRecord{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range all {
		if r != nil && r.UserID == uid {
			n++
		}
	}
	return n, nil
}
