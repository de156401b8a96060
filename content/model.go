// Package content turns VK posts and playlists into units ready for delivery: typed
// attachments, header/footer text and flattened repost chains.
package content

import (
	"fmt"

	"vk-telegram-mirror/markup"
)

// SkipReason is an expected outcome that ends a task without delivering anything.
type SkipReason string

const (
	NotFound SkipReason = "NOT_FOUND"
	IsDonut  SkipReason = "IS_DONUT"
	IsAd     SkipReason = "IS_AD"
)

// Limits are the maximum text lengths, in UTF-16 units, of a stand-alone message and
// of a media caption.
type Limits struct {
	Message int
	Caption int
}

// DefaultLimits are the Bot API limits.
var DefaultLimits = Limits{Message: 4096, Caption: 1024}

// TextBlock is the composed text of one unit. Header holds the author's own text,
// Footer the attribution and links.
type TextBlock struct {
	Header string
	Footer string
}

// MessageParts splits the text for stand-alone messages.
func (t TextBlock) MessageParts(l Limits) []markup.Part {
	return markup.Split(t.Header, t.Footer, l.Message)
}

// CaptionParts splits the text for a media caption followed by stand-alone messages.
func (t TextBlock) CaptionParts(l Limits) []markup.Part {
	return markup.SplitLimits(t.Header, t.Footer, l.Caption, l.Message)
}

// Attachment is one typed attachment. The set of implementations is closed.
type Attachment interface {
	addTo(b *Bundle)
}

// Photo is a photo URL at its best non-cropped size.
type Photo struct {
	URL string
}

// AudioRef identifies an audio track to resolve later, as "{owner}_{id}_{accessKey}".
type AudioRef struct {
	ID string
}

// VideoRef identifies a video to resolve later, as "{owner}_{id}_{accessKey}".
type VideoRef struct {
	ID string
}

// Document is a downloadable file.
type Document struct {
	URL       string
	Extension string
	Title     string
}

// Market is a market item teaser.
type Market struct {
	ID      int
	OwnerID int
	Title   string
}

// URL returns the item page.
func (m Market) URL() string {
	return fmt.Sprintf("https://vk.com/market%d?w=product%d_%d", m.OwnerID, m.OwnerID, m.ID)
}

// Poll is a poll to recreate.
type Poll struct {
	Question string
	Answers  []string
	Multiple bool
}

// Link is an external link teaser. An empty Caption is filled in by the factory.
type Link struct {
	Caption string
	URL     string
}

// PlaylistRef points at a VK audio playlist.
type PlaylistRef struct {
	OwnerID    int
	PlaylistID int
	AccessKey  string
}

// URL returns the playlist page.
func (r PlaylistRef) URL() string {
	return playlistURL(r.OwnerID, r.PlaylistID, r.AccessKey)
}

func (p Photo) addTo(b *Bundle)       { b.Photos = append(b.Photos, p.URL) }
func (a AudioRef) addTo(b *Bundle)    { b.AudioIDs = append(b.AudioIDs, a.ID) }
func (v VideoRef) addTo(b *Bundle)    { b.VideoIDs = append(b.VideoIDs, v.ID) }
func (d Document) addTo(b *Bundle)    { b.Documents = append(b.Documents, d) }
func (m Market) addTo(b *Bundle)      { b.Market = &m }
func (p Poll) addTo(b *Bundle)        { b.Poll = &p }
func (l Link) addTo(b *Bundle)        { b.Link = &l }
func (r PlaylistRef) addTo(b *Bundle) { b.PlaylistRef = &r }

// Audio is a resolved audio track.
type Audio struct {
	ID       string
	URL      string
	Artist   string
	Title    string
	Duration int
}

// Video is a resolved video. Platform is set for videos hosted elsewhere (YouTube etc.).
type Video struct {
	Title    string
	URL      string
	Platform string
	IsLive   bool
}

// Previewable reports whether the video is shown through a link preview instead of
// being uploaded.
func (v Video) Previewable() bool {
	return v.Platform != "" || v.IsLive
}

// Geo is a point on the map.
type Geo struct {
	Latitude  float64
	Longitude float64
}

// Bundle is everything attached to one post.
type Bundle struct {
	Photos      []string
	AudioIDs    []string
	Audios      []Audio
	VideoIDs    []string
	Videos      []Video
	Documents   []Document
	Geo         *Geo
	Poll        *Poll
	Market      *Market
	Link        *Link
	PlaylistRef *PlaylistRef
	Playlist    *Playlist
}

// Add puts a into the bundle.
func (b *Bundle) Add(a Attachment) {
	a.addTo(b)
}

// UploadVideos returns the videos that are uploaded as files.
func (b Bundle) UploadVideos() []Video {
	var out []Video
	for _, v := range b.Videos {
		if !v.Previewable() {
			out = append(out, v)
		}
	}
	return out
}

// HasLinkPreview reports whether the first message should show a link preview.
func (b Bundle) HasLinkPreview() bool {
	if b.Link != nil {
		return true
	}
	for _, v := range b.Videos {
		if v.Previewable() {
			return true
		}
	}
	return false
}

// Message is a post ready for delivery. CopyHistory is the repost chain, oldest first.
type Message struct {
	Text        TextBlock
	Attachments Bundle
	CopyHistory []Message
}

// Playlist is a playlist ready for delivery.
type Playlist struct {
	ID          int
	OwnerID     int
	AccessKey   string
	Title       string
	Description string
	Photo       string
	Audios      []Audio
	Text        TextBlock
}

// FullID returns "{owner}_{id}_{accessKey}".
func (p Playlist) FullID() string {
	return fmt.Sprintf("%d_%d_%s", p.OwnerID, p.ID, p.AccessKey)
}

// URL returns the playlist page.
func (p Playlist) URL() string {
	return playlistURL(p.OwnerID, p.ID, p.AccessKey)
}

func playlistURL(ownerID, id int, accessKey string) string {
	u := fmt.Sprintf("https://vk.com/music/playlist/%d_%d", ownerID, id)
	if accessKey != "" {
		u += "_" + accessKey
	}
	return u
}
