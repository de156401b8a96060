// Package pipeline runs a forwarding task end to end: build the content from VK, then
// deliver it to Telegram.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/delivery"
)

// ErrPlaylistsDisabled is returned by ForwardPlaylist when no playlist channel is configured.
var ErrPlaylistsDisabled = errors.New("playlist forwarding is disabled")

// PostBuilder builds a wall post with its repost chain.
type PostBuilder interface {
	Build(ctx context.Context, ownerID, postID int) (*content.Message, content.SkipReason, error)
}

// PlaylistBuilder builds a playlist.
type PlaylistBuilder interface {
	Build(ctx context.Context, ownerID, playlistID int, accessKey string, withAudios bool) (*content.Playlist, content.SkipReason, error)
}

// PostDeliverer publishes a post.
type PostDeliverer interface {
	Deliver(ctx context.Context, msg *content.Message) (string, error)
}

// PlaylistDeliverer publishes a playlist.
type PlaylistDeliverer interface {
	Deliver(ctx context.Context, pl *content.Playlist, origin *delivery.Origin) (string, error)
}

// Runner forwards posts and playlists.
type Runner struct {
	posts          PostBuilder
	postDelivery   PostDeliverer
	playlists      PlaylistBuilder
	playlistOutput PlaylistDeliverer
	logger         *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithPlaylists enables ForwardPlaylist.
func WithPlaylists(b PlaylistBuilder, d PlaylistDeliverer) Option {
	return func(r *Runner) {
		r.playlists = b
		r.playlistOutput = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a new forwarding runner.
func NewRunner(posts PostBuilder, postDelivery PostDeliverer, opts ...Option) *Runner {
	r := &Runner{
		posts:        posts,
		postDelivery: postDelivery,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForwardWall publishes a wall post and returns the permalink of the main message. An
// expected outcome such as a deleted or sponsored post is returned as a SkipReason with
// a nil error.
func (r *Runner) ForwardWall(ctx context.Context, ownerID, postID int) (string, content.SkipReason, error) {
	logger := r.logger.With("owner_id", ownerID, "post_id", postID)
	logger.Info("forwarding post")

	msg, reason, err := r.posts.Build(ctx, ownerID, postID)
	if err != nil {
		return "", "", fmt.Errorf("build post: %w", err)
	}
	if reason != "" {
		logger.Warn("post skipped", "reason", reason)
		return "", reason, nil
	}

	link, err := r.postDelivery.Deliver(ctx, msg)
	if err != nil {
		return "", "", fmt.Errorf("deliver post: %w", err)
	}

	logger.Info("post forwarded", "permalink", link, "reposts", len(msg.CopyHistory))
	return link, "", nil
}

// ForwardPlaylist publishes a playlist thread and returns the permalink of its first
// message.
func (r *Runner) ForwardPlaylist(ctx context.Context, req delivery.PlaylistRequest) (string, content.SkipReason, error) {
	if r.playlists == nil || r.playlistOutput == nil {
		return "", "", ErrPlaylistsDisabled
	}

	logger := r.logger.With("owner_id", req.OwnerID, "playlist_id", req.PlaylistID)
	logger.Info("forwarding playlist", "linked", req.Origin != nil)

	pl, reason, err := r.playlists.Build(ctx, req.OwnerID, req.PlaylistID, req.AccessKey, true)
	if err != nil {
		return "", "", fmt.Errorf("build playlist: %w", err)
	}
	if reason != "" {
		logger.Warn("playlist skipped", "reason", reason)
		return "", reason, nil
	}

	link, err := r.playlistOutput.Deliver(ctx, pl, req.Origin)
	if err != nil {
		return "", "", fmt.Errorf("deliver playlist: %w", err)
	}

	logger.Info("playlist forwarded", "permalink", link, "tracks", len(pl.Audios))
	return link, "", nil
}
