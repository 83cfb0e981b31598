package library

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSeed = `mappings:
  - bvid: BV1xx411c001
    song_name: 示例歌曲1
    artist: 示例艺术家1
    cover: https://placehold.co/300x300?text=1
    netease_cloud_id: 1000001
    uploader_uid: 10000001
    play_count: 100
  - bvid: BV1xx411c002
    song_name: 示例歌曲2
    artist: 示例艺术家2
    netease_cloud_id: "1000002"
    uploader_uid: "10000001"
    created_at: "2024-05-01T20:15:00+0800"
    is_public: false
`

func TestParseSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(sampleSeed), 0o600); err != nil {
		t.Fatal(err)
	}
	seed, err := ParseSeed(path)
	if err != nil {
		t.Fatalf("ParseSeed failed: %v", err)
	}
	ms := seed.ToMappings()
	if len(ms) != 2 {
		t.Fatalf("got %d mappings", len(ms))
	}
	if ms[0].NeteaseCloudID != "1000001" || ms[0].UploaderUID != "10000001" || ms[0].PlayCount != 100 {
		t.Errorf("first mapping = %+v", ms[0])
	}
	if ms[1].CreatedAt.String() != "2024-05-01T20:15:00+0800" || ms[1].IsPublic == nil || *ms[1].IsPublic {
		t.Errorf("second mapping = %+v", ms[1])
	}

	ctx := t.Context()
	svc := NewMappingService(newTestStore(t))
	n, err := svc.Import(ctx, ms)
	if err != nil || n != 2 {
		t.Fatalf("Import = %d, %v", n, err)
	}
}

func TestDecodeSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"syntax", "mappings: [", "failed to parse seed"},
		{"empty", "mappings: []", "no mappings"},
		{"missing field", "mappings:\n  - bvid: BV1\n    artist: a\n    netease_cloud_id: 1\n", "mapping 0"},
		{"duplicate", "mappings:\n  - {bvid: BV1, song_name: a, artist: b, netease_cloud_id: 1}\n  - {bvid: BV1, song_name: c, artist: d, netease_cloud_id: 2}\n", "duplicate bvid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSeed([]byte(tt.in))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("DecodeSeed = %v, want %q", err, tt.want)
			}
		})
	}
}
