// Package bilibili verifies Bilibili logins against the web nav API.
package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Bilibili API endpoint.
const DefaultBaseURL = "https://api.bilibili.com"

const navPath = "/x/web-interface/nav"

// ErrNotLoggedIn is returned when Bilibili rejects the SESSDATA cookie.
var ErrNotLoggedIn = errors.New("bilibili: not logged in")

// Profile is the account confirmed by Bilibili.
type Profile struct {
	// UID is the numeric account id (mid) in decimal.
	UID      string
	Nickname string
	Avatar   string
}

// Verifier confirms the account behind a SESSDATA cookie.
type Verifier interface {
	Verify(ctx context.Context, sessdata string) (*Profile, error)
}

// Client calls the Bilibili web API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL. An empty baseURL uses
// DefaultBaseURL and a nil httpClient uses a client with a 10s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

type navResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		IsLogin bool        `json:"isLogin"`
		Mid     json.Number `json:"mid"`
		Uname   string      `json:"uname"`
		Face    string      `json:"face"`
	} `json:"data"`
}

// Verify returns the profile of the account logged in with sessdata.
//
// Returns ErrNotLoggedIn when the API answers with a non-zero code or a non
// 200 status. Other errors are transport failures.
func (c *Client) Verify(ctx context.Context, sessdata string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+navPath, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: sessdata})
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "nbserver")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bilibili: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("bilibili: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNotLoggedIn, resp.StatusCode)
	}
	var nav navResponse
	if err := json.Unmarshal(body, &nav); err != nil {
		return nil, fmt.Errorf("bilibili: invalid response: %w", err)
	}
	if nav.Code != 0 {
		return nil, fmt.Errorf("%w: code %d %s", ErrNotLoggedIn, nav.Code, nav.Message)
	}
	if _, err := strconv.ParseInt(nav.Data.Mid.String(), 10, 64); err != nil {
		return nil, fmt.Errorf("bilibili: invalid mid %q", nav.Data.Mid)
	}
	return &Profile{UID: nav.Data.Mid.String(), Nickname: nav.Data.Uname, Avatar: nav.Data.Face}, nil
}
