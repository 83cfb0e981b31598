package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ID is an identifier that clients send either as a JSON string or a JSON
// number. Bilibili uids and NetEase song ids arrive both ways.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (i *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' {
		*i = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id must be a string or a number")
	}
	*i = ID(n.String())
	return nil
}

// --- Health ---

// HealthRequest is a request for the server status.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}

// --- Auth ---

// LoginRequest exchanges a Bilibili SESSDATA cookie for a session.
type LoginRequest struct {
	BilibiliUID ID `json:"bilibili_uid"`
	// Token is the SESSDATA cookie of the Bilibili account.
	Token string `json:"token"`
	// Timestamp is the client clock when the request was built.
	Timestamp json.Number `json:"timestamp"`
}

// Validate validates the login request fields.
func (r *LoginRequest) Validate() error {
	if r.BilibiliUID == "" {
		return MissingField("bilibili_uid")
	}
	if r.Token == "" {
		return MissingField("token")
	}
	if r.Timestamp == "" {
		return MissingField("timestamp")
	}
	return nil
}

// LogoutRequest is a request to revoke the current session.
type LogoutRequest struct{}

// Validate is a no-op for LogoutRequest.
func (r *LogoutRequest) Validate() error {
	return nil
}

// GetMeRequest is a request to get current user info.
type GetMeRequest struct{}

// Validate is a no-op for GetMeRequest.
func (r *GetMeRequest) Validate() error {
	return nil
}

// --- Mappings ---

// ListMappingsRequest selects a page of mappings.
type ListMappingsRequest struct {
	Page   int    `query:"page"`
	Limit  int    `query:"limit"`
	Sort   string `query:"sort"`
	Search string `query:"search"`
	BVID   string `query:"bvid"`
}

// Validate validates the list mappings request fields.
func (r *ListMappingsRequest) Validate() error {
	switch r.Sort {
	case "", "newest", "popular":
		return nil
	}
	return BadRequest("sort must be newest or popular")
}

// CreateMappingRequest links a video to a song.
type CreateMappingRequest struct {
	BVID           string `json:"bvid"`
	SongName       string `json:"songName"`
	Artist         string `json:"artist"`
	Cover          string `json:"cover"`
	NeteaseCloudID ID     `json:"neteasecloudId"`
	IsPublic       *bool  `json:"is_public"`
}

// Validate validates the create mapping request fields.
func (r *CreateMappingRequest) Validate() error {
	if strings.TrimSpace(r.BVID) == "" {
		return MissingField("bvid")
	}
	if r.SongName == "" {
		return MissingField("songName")
	}
	if r.Artist == "" {
		return MissingField("artist")
	}
	if r.NeteaseCloudID == "" {
		return MissingField("neteasecloudId")
	}
	return nil
}

// DeleteMappingRequest deletes a mapping.
type DeleteMappingRequest struct {
	ID string `path:"id"`
}

// Validate validates the delete mapping request fields.
func (r *DeleteMappingRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	return nil
}

// --- Playlists ---

// ListPlaylistsRequest lists the caller's playlists.
type ListPlaylistsRequest struct {
	IncludeSongs string `query:"include_songs"`
}

// Validate is a no-op for ListPlaylistsRequest.
func (r *ListPlaylistsRequest) Validate() error {
	return nil
}

// WithSongs reports whether songs were requested.
func (r *ListPlaylistsRequest) WithSongs() bool {
	return strings.EqualFold(r.IncludeSongs, "true")
}

// CreatePlaylistRequest creates a playlist.
type CreatePlaylistRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Cover       string           `json:"cover"`
	Songs       []map[string]any `json:"songs"`
}

// Validate validates the create playlist request fields.
func (r *CreatePlaylistRequest) Validate() error {
	if r.Name == "" {
		return MissingField("name")
	}
	return nil
}

// UpdatePlaylistSongsRequest adds, removes or replaces playlist songs.
type UpdatePlaylistSongsRequest struct {
	ID     string           `path:"id"`
	Action string           `json:"action"`
	Songs  []map[string]any `json:"songs"`
}

// Validate validates the update playlist songs request fields.
func (r *UpdatePlaylistSongsRequest) Validate() error {
	if r.ID == "" {
		return MissingField("id")
	}
	if r.Action == "" {
		return MissingField("action")
	}
	if r.Songs == nil {
		return MissingField("songs")
	}
	switch r.Action {
	case "add", "remove", "replace":
		return nil
	}
	return BadRequest("action must be add, remove or replace")
}

// --- Play ---

// RecordPlayRequest records one playback.
type RecordPlayRequest struct {
	BVID       string   `json:"bvid"`
	Duration   *float64 `json:"duration"`
	SongID     ID       `json:"song_id"`
	PlaylistID string   `json:"playlist_id"`
}

// Validate validates the record play request fields.
func (r *RecordPlayRequest) Validate() error {
	if r.BVID == "" {
		return MissingField("bvid")
	}
	if r.Duration == nil {
		return MissingField("duration")
	}
	if *r.Duration < 0 {
		return BadRequest("duration must be non-negative")
	}
	return nil
}
