package vk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Post types returned in Post.PostType.
const (
	PostTypePost     = "post"
	PostTypeCopy     = "copy"
	PostTypeReply    = "reply"
	PostTypePostpone = "postpone"
	PostTypeSuggest  = "suggest"
	PostTypePhoto    = "photo"
	PostTypeVideo    = "video"
)

// Flag decodes VK booleans, which arrive either as JSON booleans or as 0/1 numbers.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch s := string(bytes.TrimSpace(data)); s {
	case "true":
		*f = true
	case "false", "null", "":
		*f = false
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("decode flag %s: %w", s, err)
		}
		*f = n != 0
	}
	return nil
}

// Post is a wall post.
type Post struct {
	ID          int          `json:"id"`
	OwnerID     int          `json:"owner_id"`
	FromID      int          `json:"from_id"`
	SignerID    int          `json:"signer_id"`
	Text        string       `json:"text"`
	PostType    string       `json:"post_type"`
	MarkedAsAds Flag         `json:"marked_as_ads"`
	Donut       *Donut       `json:"donut"`
	Copyright   *Copyright   `json:"copyright"`
	Geo         *Geo         `json:"geo"`
	Attachments []Attachment `json:"attachments"`
	CopyHistory []Post       `json:"copy_history"`
}

// IsDonut reports whether the post is visible to paid subscribers only.
func (p Post) IsDonut() bool {
	return p.Donut != nil && bool(p.Donut.IsDonut)
}

// FullID returns the "{owner}_{id}" post identifier.
func (p Post) FullID() string {
	return fmt.Sprintf("%d_%d", p.OwnerID, p.ID)
}

// Donut holds the paid-subscription marker of a post.
type Donut struct {
	IsDonut Flag `json:"is_donut"`
}

// Copyright is the source attribution of a post.
type Copyright struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Geo is a location attached to a post.
type Geo struct {
	Type        string      `json:"type"`
	Coordinates Coordinates `json:"coordinates"`
}

// Coordinates are decoded from either "lat lon" strings or {latitude, longitude} objects.
type Coordinates struct {
	Latitude  float64
	Longitude float64
	Valid     bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		fields := strings.Fields(s)
		if len(fields) != 2 {
			return nil
		}
		lat, err1 := strconv.ParseFloat(fields[0], 64)
		lon, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return nil
		}
		*c = Coordinates{Latitude: lat, Longitude: lon, Valid: true}
		return nil
	}

	var obj struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = Coordinates{Latitude: obj.Latitude, Longitude: obj.Longitude, Valid: true}
	return nil
}

// Attachment is a raw wall attachment. Exactly one of the pointer fields matching Type is set.
type Attachment struct {
	Type   string  `json:"type"`
	Photo  *Photo  `json:"photo,omitempty"`
	Audio  *Audio  `json:"audio,omitempty"`
	Video  *Video  `json:"video,omitempty"`
	Doc    *Doc    `json:"doc,omitempty"`
	Market *Market `json:"market,omitempty"`
	Poll   *Poll   `json:"poll,omitempty"`
	Link   *Link   `json:"link,omitempty"`
}

// Photo is a photo with its available sizes.
type Photo struct {
	ID      int         `json:"id"`
	OwnerID int         `json:"owner_id"`
	Sizes   []PhotoSize `json:"sizes"`
}

// PhotoSize is one rendition of a photo.
type PhotoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Audio is an audio track.
type Audio struct {
	ID        int    `json:"id"`
	OwnerID   int    `json:"owner_id"`
	AccessKey string `json:"access_key"`
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	URL       string `json:"url"`
}

// FullID returns the "{owner}_{id}_{accessKey}" identifier used by audio.getById.
func (a Audio) FullID() string {
	return fmt.Sprintf("%d_%d_%s", a.OwnerID, a.ID, a.AccessKey)
}

// Video is a video record. Files is populated only by video.get.
type Video struct {
	ID        int         `json:"id"`
	OwnerID   int         `json:"owner_id"`
	AccessKey string      `json:"access_key"`
	Title     string      `json:"title"`
	Platform  string      `json:"platform"`
	Live      Flag        `json:"live"`
	Files     *VideoFiles `json:"files"`
}

// FullID returns the "{owner}_{id}_{accessKey}" identifier used by video.get.
func (v Video) FullID() string {
	return fmt.Sprintf("%d_%d_%s", v.OwnerID, v.ID, v.AccessKey)
}

// VideoFiles holds direct file URLs by quality.
type VideoFiles struct {
	MP4_1080 string `json:"mp4_1080"`
	MP4_720  string `json:"mp4_720"`
	MP4_480  string `json:"mp4_480"`
	MP4_360  string `json:"mp4_360"`
	MP4_240  string `json:"mp4_240"`
	MP4_144  string `json:"mp4_144"`
	FLV_320  string `json:"flv_320"`
	External string `json:"external"`
}

// Best returns the best direct file URL, or "" if there is none.
func (f *VideoFiles) Best() string {
	if f == nil {
		return ""
	}
	for _, u := range []string{f.MP4_1080, f.MP4_720, f.MP4_480, f.MP4_360, f.MP4_240, f.MP4_144, f.FLV_320} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Doc is a document attachment.
type Doc struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Ext   string `json:"ext"`
	URL   string `json:"url"`
	Size  int64  `json:"size"`
}

// Market is a market item.
type Market struct {
	ID      int    `json:"id"`
	OwnerID int    `json:"owner_id"`
	Title   string `json:"title"`
}

// Poll is a poll attachment.
type Poll struct {
	ID       int          `json:"id"`
	Question string       `json:"question"`
	Answers  []PollAnswer `json:"answers"`
	Multiple Flag         `json:"multiple"`
}

// PollAnswer is a poll option.
type PollAnswer struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Link is a link attachment.
type Link struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Caption string `json:"caption"`
}

// User is a user profile.
type User struct {
	ID        int    `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FullName returns "First Last".
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Group is a community.
type Group struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
}

// ExtendedPosts is the wall.getById response with extended=1.
type ExtendedPosts struct {
	Items    []Post  `json:"items"`
	Profiles []User  `json:"profiles"`
	Groups   []Group `json:"groups"`
}

// Playlist is an audio playlist.
type Playlist struct {
	ID          int              `json:"id"`
	OwnerID     int              `json:"owner_id"`
	AccessKey   string           `json:"access_key"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Count       int              `json:"count"`
	Photo       *PlaylistPhoto   `json:"photo"`
	Thumbs      []PlaylistPhoto  `json:"thumbs"`
	MainArtists []PlaylistArtist `json:"main_artists"`
}

// PlaylistPhoto is a playlist cover.
type PlaylistPhoto struct {
	Photo300  string `json:"photo_300"`
	Photo600  string `json:"photo_600"`
	Photo1200 string `json:"photo_1200"`
}

// PlaylistArtist is an artist credited on a playlist.
type PlaylistArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
