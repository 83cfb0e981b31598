// Defines the response envelope and response payloads.

package dto

// Response is the envelope of a successful response.
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorDetails defines the structured error information in a response.
type ErrorDetails struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope of a failed response.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   ErrorDetails `json:"error"`
}

// HealthResponse reports the server status.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	// Commits is the number of commits in the data history, when enabled.
	Commits int `json:"commits,omitempty"`
}

// UserInfo is the public profile of a logged in user.
type UserInfo struct {
	UID      string `json:"uid"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	SessionToken string   `json:"session_token"`
	UserInfo     UserInfo `json:"user_info"`
}

// LogoutResponse confirms the session was revoked.
type LogoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

// MeResponse describes the current session.
type MeResponse struct {
	UserInfo  UserInfo `json:"user_info"`
	ExpiresAt int64    `json:"expires_at"`
	PlayCount int      `json:"play_count"`
}

// MappingResponse is a mapping as returned by the API.
type MappingResponse struct {
	ID             string `json:"id"`
	BVID           string `json:"bvid"`
	SongName       string `json:"songName"`
	Artist         string `json:"artist"`
	Cover          string `json:"cover"`
	NeteaseCloudID string `json:"neteasecloudId"`
	UploaderUID    string `json:"uploader_uid"`
	PlayCount      int64  `json:"play_count"`
	CreatedAt      string `json:"created_at"`
	IsPublic       bool   `json:"is_public"`
}

// ListMappingsResponse is one page of mappings.
type ListMappingsResponse struct {
	Mappings []MappingResponse `json:"mappings"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// CreatedResponse is returned when a mapping or playlist is created.
type CreatedResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// DeleteMappingResponse confirms a deletion.
type DeleteMappingResponse struct {
	DeletedID string `json:"deleted_id"`
}

// PlaylistResponse is a playlist as returned by the API. Songs is omitted
// unless requested.
type PlaylistResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Cover       string           `json:"cover"`
	Songs       []map[string]any `json:"songs,omitzero"`
	SongCount   int64            `json:"song_count"`
	UserID      string           `json:"user_id"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

// ListPlaylistsResponse lists the caller's playlists.
type ListPlaylistsResponse struct {
	Playlists []PlaylistResponse `json:"playlists"`
}

// UpdatePlaylistSongsResponse reports how many songs changed.
type UpdatePlaylistSongsResponse struct {
	UpdatedCount int `json:"updated_count"`
}

// RecordPlayResponse confirms a play was recorded.
type RecordPlayResponse struct {
	Recorded bool `json:"recorded"`
}
