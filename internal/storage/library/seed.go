// Parses mapping seed files for import.

package library

import (
	"errors"
	"fmt"
	"os"

	"github.com/nb-music/server/internal/storage"
	"gopkg.in/yaml.v3"
)

// Seed is the structure of a seed file.
type Seed struct {
	Mappings []SeedMapping `yaml:"mappings"`
}

// SeedMapping is one mapping in a seed file.
type SeedMapping struct {
	BVID           string `yaml:"bvid"`
	SongName       string `yaml:"song_name"`
	Artist         string `yaml:"artist"`
	Cover          string `yaml:"cover,omitempty"`
	NeteaseCloudID string `yaml:"netease_cloud_id"`
	UploaderUID    string `yaml:"uploader_uid"`
	PlayCount      int64  `yaml:"play_count,omitempty"`
	// CreatedAt is optional and defaults to the import time.
	CreatedAt string `yaml:"created_at,omitempty"`
	IsPublic  *bool  `yaml:"is_public,omitempty"`
}

// ParseSeed reads and parses a seed file.
// The path is provided by the CLI user, so file inclusion is expected.
func ParseSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified seed path
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return DecodeSeed(data)
}

// DecodeSeed parses and validates seed YAML.
func DecodeSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &seed, nil
}

// Validate checks every entry has the required fields and no bvid repeats.
func (s *Seed) Validate() error {
	if len(s.Mappings) == 0 {
		return errors.New("no mappings")
	}
	seen := make(map[string]bool, len(s.Mappings))
	for i := range s.Mappings {
		m := &s.Mappings[i]
		if err := m.toMapping().Validate(); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		if seen[m.BVID] {
			return fmt.Errorf("mapping %d: duplicate bvid %s", i, m.BVID)
		}
		seen[m.BVID] = true
	}
	return nil
}

// ToMappings converts the seed entries.
func (s *Seed) ToMappings() []*Mapping {
	out := make([]*Mapping, 0, len(s.Mappings))
	for i := range s.Mappings {
		out = append(out, s.Mappings[i].toMapping())
	}
	return out
}

func (m *SeedMapping) toMapping() *Mapping {
	out := &Mapping{
		BVID:           m.BVID,
		SongName:       m.SongName,
		Artist:         m.Artist,
		Cover:          m.Cover,
		NeteaseCloudID: storage.Text(m.NeteaseCloudID),
		UploaderUID:    storage.Text(m.UploaderUID),
		PlayCount:      storage.Count(m.PlayCount),
		IsPublic:       m.IsPublic,
	}
	if m.CreatedAt != "" {
		_ = out.CreatedAt.UnmarshalText([]byte(m.CreatedAt))
	}
	return out
}
