package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/vk"
)

const defaultHistoryDepth = 100

// Source fetches posts and resolves the media they reference.
type Source interface {
	NameResolver
	GetExtendedPost(ctx context.Context, ownerID, postID, historyDepth int) (*vk.ExtendedPosts, error)
	GetAudiosByIDs(ctx context.Context, ids []string) ([]vk.Audio, error)
	GetVideosByIDs(ctx context.Context, ids []string) ([]vk.Video, error)
}

// VideoSource resolves videos. A second source is asked for the files of videos the
// main one returned without any.
type VideoSource interface {
	GetVideosByIDs(ctx context.Context, ids []string) ([]vk.Video, error)
}

// TitleResolver looks up the title of a web page.
type TitleResolver interface {
	Title(ctx context.Context, pageURL string) (string, error)
}

// PlaylistBuilder builds playlists referenced from posts.
type PlaylistBuilder interface {
	Build(ctx context.Context, ownerID, playlistID int, accessKey string, withAudios bool) (*Playlist, SkipReason, error)
}

// MessageFactory builds posts ready for delivery.
type MessageFactory struct {
	source       Source
	fallback     VideoSource
	titles       TitleResolver
	playlists    PlaylistBuilder
	composer     *Composer
	classifier   *Classifier
	ignoreAds    bool
	historyDepth int
	logger       *slog.Logger
}

// FactoryOption configures a MessageFactory.
type FactoryOption func(*MessageFactory)

// WithIgnoreAds skips posts marked as advertising.
func WithIgnoreAds(ignore bool) FactoryOption {
	return func(f *MessageFactory) {
		f.ignoreAds = ignore
	}
}

// WithFallbackVideos sets the source asked for video files the main source cannot see.
func WithFallbackVideos(s VideoSource) FactoryOption {
	return func(f *MessageFactory) {
		f.fallback = s
	}
}

// WithTitleResolver sets the page title lookup used for links without a caption.
func WithTitleResolver(t TitleResolver) FactoryOption {
	return func(f *MessageFactory) {
		f.titles = t
	}
}

// WithPlaylists enables playlist links and resolves them with b.
func WithPlaylists(b PlaylistBuilder) FactoryOption {
	return func(f *MessageFactory) {
		f.playlists = b
	}
}

// WithHistoryDepth sets how many reposts deep the chain is fetched.
func WithHistoryDepth(depth int) FactoryOption {
	return func(f *MessageFactory) {
		f.historyDepth = depth
	}
}

// WithFactoryLogger sets the logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *MessageFactory) {
		f.logger = l
	}
}

// NewMessageFactory creates a MessageFactory.
func NewMessageFactory(source Source, texts locale.Strings, opts ...FactoryOption) *MessageFactory {
	f := &MessageFactory{
		source:       source,
		composer:     NewComposer(source, texts),
		historyDepth: defaultHistoryDepth,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.classifier = NewClassifier(
		WithPlaylistLinks(f.playlists != nil),
		WithClassifierLogger(f.logger),
	)
	return f
}

// Build fetches a post with its repost chain and prepares every unit for delivery.
// Expected outcomes such as a deleted post are reported as a SkipReason with a nil error.
func (f *MessageFactory) Build(ctx context.Context, ownerID, postID int) (*Message, SkipReason, error) {
	posts, reason, err := f.fetch(ctx, ownerID, postID, f.historyDepth)
	if reason != "" || err != nil {
		return nil, reason, err
	}
	post := posts.Items[0]

	msg, err := f.buildUnit(ctx, post, posts.Groups, false)
	if err != nil {
		return nil, "", fmt.Errorf("build post %s: %w", post.FullID(), err)
	}

	// VK lists reposts newest first.
	history := post.CopyHistory
	msg.CopyHistory = make([]Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		unit, err := f.buildUnit(ctx, history[i], posts.Groups, true)
		if err != nil {
			return nil, "", fmt.Errorf("build repost %s: %w", history[i].FullID(), err)
		}
		msg.CopyHistory = append(msg.CopyHistory, *unit)
	}

	f.logger.Info("built post", "owner_id", ownerID, "post_id", postID, "reposts", len(msg.CopyHistory))
	return msg, "", nil
}

// Check applies only the fetch and the filters of Build.
func (f *MessageFactory) Check(ctx context.Context, ownerID, postID int) (SkipReason, error) {
	_, reason, err := f.fetch(ctx, ownerID, postID, 0)
	return reason, err
}

func (f *MessageFactory) fetch(ctx context.Context, ownerID, postID, depth int) (*vk.ExtendedPosts, SkipReason, error) {
	posts, err := f.source.GetExtendedPost(ctx, ownerID, postID, depth)
	if errors.Is(err, vk.ErrNotFound) {
		f.logger.Warn("post not found", "owner_id", ownerID, "post_id", postID)
		return nil, NotFound, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get post %d_%d: %w", ownerID, postID, err)
	}

	post := posts.Items[0]
	if post.IsDonut() {
		f.logger.Warn("post is for donut subscribers", "owner_id", ownerID, "post_id", postID)
		return nil, IsDonut, nil
	}
	if f.ignoreAds && bool(post.MarkedAsAds) {
		f.logger.Warn("post is marked as ad", "owner_id", ownerID, "post_id", postID)
		return nil, IsAd, nil
	}
	return posts, "", nil
}

func (f *MessageFactory) buildUnit(ctx context.Context, post vk.Post, groups []vk.Group, isRepost bool) (*Message, error) {
	bundle := &Bundle{}
	for _, raw := range post.Attachments {
		if a, ok := f.classifier.Classify(raw); ok {
			bundle.Add(a)
		}
	}
	if post.Geo != nil && post.Geo.Coordinates.Valid {
		bundle.Geo = &Geo{Latitude: post.Geo.Coordinates.Latitude, Longitude: post.Geo.Coordinates.Longitude}
	}

	if err := f.resolveAudios(ctx, bundle); err != nil {
		return nil, err
	}
	if err := f.resolveVideos(ctx, bundle); err != nil {
		return nil, err
	}
	if err := f.resolvePlaylist(ctx, bundle); err != nil {
		return nil, err
	}
	f.captionLink(ctx, bundle)

	text, err := f.composer.ComposePost(ctx, post, bundle, groups, isRepost)
	if err != nil {
		return nil, fmt.Errorf("compose text: %w", err)
	}
	return &Message{Text: text, Attachments: *bundle}, nil
}

func (f *MessageFactory) resolveAudios(ctx context.Context, b *Bundle) error {
	if len(b.AudioIDs) == 0 {
		return nil
	}
	raw, err := f.source.GetAudiosByIDs(ctx, b.AudioIDs)
	if err != nil {
		return fmt.Errorf("get audios: %w", err)
	}
	b.Audios = convertAudios(raw)
	if dropped := len(b.AudioIDs) - len(b.Audios); dropped > 0 {
		f.logger.Warn("audios without url dropped", "count", dropped)
	}
	return nil
}

func (f *MessageFactory) resolveVideos(ctx context.Context, b *Bundle) error {
	if len(b.VideoIDs) == 0 {
		return nil
	}
	raw, err := f.source.GetVideosByIDs(ctx, b.VideoIDs)
	if err != nil {
		return fmt.Errorf("get videos: %w", err)
	}

	var missing []string
	for _, v := range raw {
		if videoURL(v) == "" {
			missing = append(missing, v.FullID())
		}
	}

	fallbackFiles := map[string]string{}
	if len(missing) > 0 && f.fallback != nil {
		extra, err := f.fallback.GetVideosByIDs(ctx, missing)
		if err != nil {
			f.logger.Warn("fallback video lookup failed", "error", err)
		}
		for _, v := range extra {
			fallbackFiles[fmt.Sprintf("%d_%d", v.OwnerID, v.ID)] = v.Files.Best()
		}
	}

	for _, v := range raw {
		u := videoURL(v)
		if u == "" {
			u = fallbackFiles[fmt.Sprintf("%d_%d", v.OwnerID, v.ID)]
		}
		if u == "" {
			f.logger.Warn("video without files dropped", "video", v.FullID())
			continue
		}
		b.Videos = append(b.Videos, Video{
			Title:    v.Title,
			URL:      u,
			Platform: v.Platform,
			IsLive:   bool(v.Live),
		})
	}
	return nil
}

// videoURL picks the address a video is delivered from: the watch page for live
// streams, the external page for hosted videos and the best file otherwise.
func videoURL(v vk.Video) string {
	watch := fmt.Sprintf("https://vk.com/video%d_%d", v.OwnerID, v.ID)
	switch {
	case bool(v.Live):
		return watch
	case v.Platform != "":
		if v.Files != nil && v.Files.External != "" {
			return v.Files.External
		}
		return watch
	default:
		return v.Files.Best()
	}
}

func (f *MessageFactory) resolvePlaylist(ctx context.Context, b *Bundle) error {
	ref := b.PlaylistRef
	if ref == nil || f.playlists == nil {
		return nil
	}
	pl, reason, err := f.playlists.Build(ctx, ref.OwnerID, ref.PlaylistID, ref.AccessKey, false)
	if err != nil {
		return fmt.Errorf("resolve playlist: %w", err)
	}
	if reason != "" {
		f.logger.Warn("playlist link skipped", "owner_id", ref.OwnerID, "playlist_id", ref.PlaylistID, "reason", reason)
		return nil
	}
	b.Playlist = pl
	return nil
}

func (f *MessageFactory) captionLink(ctx context.Context, b *Bundle) {
	if b.Link == nil || b.Link.Caption != "" {
		return
	}
	if f.titles != nil {
		title, err := f.titles.Title(ctx, b.Link.URL)
		if err != nil {
			f.logger.Warn("failed to get page title", "url", b.Link.URL, "error", err)
		}
		if title != "" {
			b.Link.Caption = title
			return
		}
	}
	if u, err := url.Parse(b.Link.URL); err == nil && u.Host != "" {
		b.Link.Caption = u.Host
		return
	}
	b.Link.Caption = b.Link.URL
}
