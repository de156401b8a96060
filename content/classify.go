package content

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vk-telegram-mirror/vk"
)

// photoSizes lists photo size types from best to worst. The cropped types o, p, q and r
// are left out on purpose and never chosen.
var photoSizes = []string{"w", "z", "y", "x", "m", "s"}

var playlistActPattern = regexp.MustCompile(`(-?\d+)_(\d+)`)

var errIncomplete = errors.New("incomplete attachment")

type classifyFunc func(c *Classifier, raw vk.Attachment) (Attachment, error)

var classifiers = map[string]classifyFunc{
	"photo":  classifyPhoto,
	"audio":  classifyAudio,
	"video":  classifyVideo,
	"doc":    classifyDoc,
	"market": classifyMarket,
	"poll":   classifyPoll,
	"link":   classifyLink,
}

// Classifier maps raw attachments to typed ones.
type Classifier struct {
	playlists bool
	logger    *slog.Logger
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithPlaylistLinks turns VK playlist links into PlaylistRef attachments.
func WithPlaylistLinks(enabled bool) ClassifierOption {
	return func(c *Classifier) {
		c.playlists = enabled
	}
}

// WithClassifierLogger sets the logger for dropped attachments.
func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = l
	}
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the typed attachment for raw. Unknown types and incomplete records
// are logged and reported as false.
func (c *Classifier) Classify(raw vk.Attachment) (Attachment, bool) {
	fn, ok := classifiers[raw.Type]
	if !ok {
		c.logger.Warn("unknown attachment", "type", raw.Type)
		return nil, false
	}
	a, err := fn(c, raw)
	if err != nil {
		c.logger.Warn("skipping attachment", "type", raw.Type, "error", err)
		return nil, false
	}
	return a, true
}

func classifyPhoto(_ *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Photo == nil {
		return nil, errIncomplete
	}
	for _, typ := range photoSizes {
		for _, size := range raw.Photo.Sizes {
			if size.Type == typ && size.URL != "" {
				return Photo{URL: size.URL}, nil
			}
		}
	}
	return nil, fmt.Errorf("photo %d_%d: no usable size", raw.Photo.OwnerID, raw.Photo.ID)
}

func classifyAudio(_ *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Audio == nil {
		return nil, errIncomplete
	}
	return AudioRef{ID: raw.Audio.FullID()}, nil
}

func classifyVideo(_ *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Video == nil {
		return nil, errIncomplete
	}
	return VideoRef{ID: raw.Video.FullID()}, nil
}

func classifyDoc(_ *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Doc == nil || raw.Doc.URL == "" {
		return nil, errIncomplete
	}
	return Document{URL: raw.Doc.URL, Extension: raw.Doc.Ext, Title: raw.Doc.Title}, nil
}

func classifyMarket(_ *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Market == nil {
		return nil, errIncomplete
	}
	return Market{ID: raw.Market.ID, OwnerID: raw.Market.OwnerID, Title: raw.Market.Title}, nil
}

func classifyPoll(_ *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Poll == nil || len(raw.Poll.Answers) == 0 {
		return nil, errIncomplete
	}
	answers := make([]string, len(raw.Poll.Answers))
	for i, a := range raw.Poll.Answers {
		answers[i] = a.Text
	}
	return Poll{Question: raw.Poll.Question, Answers: answers, Multiple: bool(raw.Poll.Multiple)}, nil
}

func classifyLink(c *Classifier, raw vk.Attachment) (Attachment, error) {
	if raw.Link == nil || raw.Link.URL == "" {
		return nil, errIncomplete
	}

	u, err := url.Parse(raw.Link.URL)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}

	if u.Host != "vk.com" && u.Host != "m.vk.com" {
		return Link{Caption: raw.Link.Caption, URL: raw.Link.URL}, nil
	}
	u.Host = "vk.com"

	act := u.Query().Get("act")
	if c.playlists && strings.HasPrefix(act, "audio_playlist") {
		return parsePlaylistRef(act, u.Query().Get("access_hash"))
	}

	return Link{Caption: u.Host, URL: u.String()}, nil
}

func parsePlaylistRef(act, accessKey string) (Attachment, error) {
	m := playlistActPattern.FindStringSubmatch(act)
	if m == nil {
		return nil, fmt.Errorf("playlist link %q: no playlist id", act)
	}
	ownerID, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("playlist owner id: %w", err)
	}
	playlistID, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("playlist id: %w", err)
	}
	return PlaylistRef{OwnerID: ownerID, PlaylistID: playlistID, AccessKey: accessKey}, nil
}
