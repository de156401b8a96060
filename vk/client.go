package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.vk.com/method"
	defaultVersion = "5.131"
)

// ErrNotFound is returned when the requested object is absent or access to it is denied.
var ErrNotFound = errors.New("not found")

// Error codes that mean the object cannot be seen with this token.
var notFoundCodes = map[int]bool{
	15:  true, // access denied
	18:  true, // page deleted or banned
	19:  true, // content unavailable
	30:  true, // private profile
	201: true, // audio access denied
	203: true, // group access denied
}

// APIError is an error returned by the VK API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Is maps access errors onto ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && notFoundCodes[e.Code]
}

// Client provides access to the VK API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	version    string
	lang       string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithVersion sets the API version.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// WithLanguage sets the language of returned names and titles.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.lang = lang
	}
}

// NewClient creates a new VK API client authorized with token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		version:    defaultVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call invokes an API method and decodes the "response" field into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("v", c.version)
	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status: %d", method, resp.StatusCode)
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("call %s: %w", method, envelope.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// GetExtendedPost returns a post with its repost history and the profiles and groups
// it references. It returns ErrNotFound if the post does not exist or is hidden.
func (c *Client) GetExtendedPost(ctx context.Context, ownerID, postID, historyDepth int) (*ExtendedPosts, error) {
	params := url.Values{}
	params.Set("posts", fmt.Sprintf("%d_%d", ownerID, postID))
	params.Set("extended", "1")
	params.Set("copy_history_depth", strconv.Itoa(historyDepth))

	var result ExtendedPosts
	if err := c.call(ctx, "wall.getById", params, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("post %d_%d: %w", ownerID, postID, ErrNotFound)
	}
	return &result, nil
}

// GetPlaylist returns playlist metadata.
func (c *Client) GetPlaylist(ctx context.Context, ownerID, playlistID int, accessKey string) (*Playlist, error) {
	params := url.Values{}
	params.Set("owner_id", strconv.Itoa(ownerID))
	params.Set("playlist_id", strconv.Itoa(playlistID))
	if accessKey != "" {
		params.Set("access_key", accessKey)
	}

	var playlist *Playlist
	if err := c.call(ctx, "audio.getPlaylistById", params, &playlist); err != nil {
		return nil, err
	}
	if playlist == nil || playlist.ID == 0 {
		return nil, fmt.Errorf("playlist %d_%d: %w", ownerID, playlistID, ErrNotFound)
	}
	return playlist, nil
}

// GetPlaylistAudios returns up to count playable tracks of a playlist.
func (c *Client) GetPlaylistAudios(ctx context.Context, ownerID, playlistID int, accessKey string, count int) ([]Audio, error) {
	params := url.Values{}
	params.Set("owner_id", strconv.Itoa(ownerID))
	params.Set("playlist_id", strconv.Itoa(playlistID))
	if accessKey != "" {
		params.Set("access_key", accessKey)
	}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var result struct {
		Items []Audio `json:"items"`
	}
	if err := c.call(ctx, "audio.get", params, &result); err != nil {
		return nil, err
	}
	return playable(result.Items), nil
}

// GetAudiosByIDs resolves "{owner}_{id}_{accessKey}" identifiers in one call.
// Tracks without a URL are left out.
func (c *Client) GetAudiosByIDs(ctx context.Context, ids []string) ([]Audio, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("audios", strings.Join(ids, ","))

	var audios []Audio
	if err := c.call(ctx, "audio.getById", params, &audios); err != nil {
		return nil, err
	}
	return playable(audios), nil
}

// GetVideosByIDs resolves "{owner}_{id}_{accessKey}" identifiers in one call.
func (c *Client) GetVideosByIDs(ctx context.Context, ids []string) ([]Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("videos", strings.Join(ids, ","))

	var result struct {
		Items []Video `json:"items"`
	}
	if err := c.call(ctx, "video.get", params, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// GetUsers returns user profiles.
func (c *Client) GetUsers(ctx context.Context, ids []int) ([]User, error) {
	params := url.Values{}
	params.Set("user_ids", joinInts(ids))

	var users []User
	if err := c.call(ctx, "users.get", params, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("users %v: %w", ids, ErrNotFound)
	}
	return users, nil
}

// GetGroups returns communities by their positive IDs.
func (c *Client) GetGroups(ctx context.Context, ids []int) ([]Group, error) {
	params := url.Values{}
	params.Set("group_ids", joinInts(ids))

	var raw json.RawMessage
	if err := c.call(ctx, "groups.getById", params, &raw); err != nil {
		return nil, err
	}

	// Newer API versions wrap the list in {"groups": [...]}.
	var groups []Group
	if err := json.Unmarshal(raw, &groups); err != nil {
		var wrapped struct {
			Groups []Group `json:"groups"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode groups.getById response: %w", err)
		}
		groups = wrapped.Groups
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("groups %v: %w", ids, ErrNotFound)
	}
	return groups, nil
}

// GetCallbackConfirmationCode returns the string the callback endpoint must answer
// a confirmation request with.
func (c *Client) GetCallbackConfirmationCode(ctx context.Context, groupID int) (string, error) {
	params := url.Values{}
	params.Set("group_id", strconv.Itoa(groupID))

	var result struct {
		Code string `json:"code"`
	}
	if err := c.call(ctx, "groups.getCallbackConfirmationCode", params, &result); err != nil {
		return "", err
	}
	return result.Code, nil
}

func playable(audios []Audio) []Audio {
	out := audios[:0]
	for _, a := range audios {
		if a.URL != "" {
			out = append(out, a)
		}
	}
	return out
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
