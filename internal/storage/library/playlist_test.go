package library

import (
	"errors"
	"testing"

	"github.com/nb-music/server/internal/storage"
)

func songs(bvids ...string) []Song {
	out := make([]Song, 0, len(bvids))
	for _, b := range bvids {
		out = append(out, Song{"bvid": b, "title": "t-" + b})
	}
	return out
}

func bvids(ss []Song) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.BVID())
	}
	return out
}

func TestPlaylistService_CreateAndList(t *testing.T) {
	ctx := t.Context()
	svc := NewPlaylistService(newTestStore(t), 0)

	p, err := svc.Create(ctx, "1", &Playlist{Name: "Morning", Songs: songs("BV1", "BV2")})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.ID == "" || p.SongCount != 2 || p.UserID != "1" || p.CreatedAt.String() != p.UpdatedAt.String() {
		t.Errorf("unexpected playlist: %+v", p)
	}
	if _, err := svc.Create(ctx, "1", &Playlist{}); err == nil {
		t.Error("Create accepted an empty name")
	}
	empty, err := svc.Create(ctx, "1", &Playlist{Name: "Empty"})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Songs == nil || empty.SongCount != 0 {
		t.Errorf("empty playlist = %+v", empty)
	}
	if _, err := svc.Create(ctx, "2", &Playlist{Name: "Other"}); err != nil {
		t.Fatal(err)
	}

	t.Run("without songs", func(t *testing.T) {
		got, err := svc.ListForUser(ctx, "1", false)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d playlists, want 2", len(got))
		}
		for _, p := range got {
			if p.Songs != nil {
				t.Errorf("%s: songs included", p.Name)
			}
		}
		if got[0].SongCount != 2 {
			t.Errorf("SongCount = %d", got[0].SongCount)
		}
	})

	t.Run("with songs", func(t *testing.T) {
		got, err := svc.ListForUser(ctx, "1", true)
		if err != nil {
			t.Fatal(err)
		}
		if len(got[0].Songs) != 2 || got[1].Songs == nil {
			t.Errorf("unexpected songs: %v / %v", got[0].Songs, got[1].Songs)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		got, err := svc.ListForUser(ctx, "3", true)
		if err != nil || got == nil || len(got) != 0 {
			t.Errorf("ListForUser = %v, %v", got, err)
		}
	})
}

func TestPlaylistService_UpdateSongs(t *testing.T) {
	tests := []struct {
		name      string
		action    SongAction
		songs     []Song
		want      []string
		wantCount int
	}{
		{"add skips duplicates", ActionAdd, songs("BV2", "BV3", "BV3"), []string{"BV1", "BV2", "BV3"}, 1},
		{"remove by bvid", ActionRemove, songs("BV1", "BV9"), []string{"BV2"}, 1},
		{"replace", ActionReplace, songs("BV7", "BV8", "BV9"), []string{"BV7", "BV8", "BV9"}, 3},
		{"replace with nothing", ActionReplace, nil, []string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			svc := NewPlaylistService(newTestStore(t), 0)
			p, err := svc.Create(ctx, "1", &Playlist{Name: "p", Songs: songs("BV1", "BV2")})
			if err != nil {
				t.Fatal(err)
			}
			n, err := svc.UpdateSongs(ctx, p.ID, "1", tt.action, tt.songs)
			if err != nil {
				t.Fatalf("UpdateSongs failed: %v", err)
			}
			if n != tt.wantCount {
				t.Errorf("count = %d, want %d", n, tt.wantCount)
			}
			got, err := svc.ListForUser(ctx, "1", true)
			if err != nil {
				t.Fatal(err)
			}
			gotIDs := bvids(got[0].Songs)
			if len(gotIDs) != len(tt.want) {
				t.Fatalf("songs = %v, want %v", gotIDs, tt.want)
			}
			for i := range gotIDs {
				if gotIDs[i] != tt.want[i] {
					t.Errorf("songs = %v, want %v", gotIDs, tt.want)
					break
				}
			}
			if int(got[0].SongCount) != len(tt.want) {
				t.Errorf("SongCount = %d, want %d", got[0].SongCount, len(tt.want))
			}
			if got[0].UpdatedAt.Before(got[0].CreatedAt.Time) {
				t.Error("UpdatedAt not refreshed")
			}
		})
	}
}

func TestPlaylistService_UpdateSongsErrors(t *testing.T) {
	ctx := t.Context()
	svc := NewPlaylistService(newTestStore(t), 3)
	p, err := svc.Create(ctx, "1", &Playlist{Name: "p", Songs: songs("BV1")})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		id     string
		uid    storage.Text
		action SongAction
		songs  []Song
		want   error
	}{
		{"invalid action", p.ID, "1", "shuffle", nil, ErrInvalidAction},
		{"not found", "nope", "1", ActionAdd, songs("BV2"), ErrNotFound},
		{"not owner", p.ID, "2", ActionAdd, songs("BV2"), ErrForbidden},
		{"quota", p.ID, "1", ActionAdd, songs("BV2", "BV3", "BV4"), ErrTooManySongs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateSongs(ctx, tt.id, tt.uid, tt.action, tt.songs)
			if !errors.Is(err, tt.want) {
				t.Errorf("UpdateSongs = %v, want %v", err, tt.want)
			}
		})
	}
	got, err := svc.ListForUser(ctx, "1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0].Songs) != 1 {
		t.Errorf("failed updates modified the playlist: %v", bvids(got[0].Songs))
	}
	if _, err := svc.Create(ctx, "1", &Playlist{Name: "big", Songs: songs("a", "b", "c", "d")}); !errors.Is(err, ErrTooManySongs) {
		t.Errorf("Create over quota = %v", err)
	}
}
