package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/vk"
)

// PlaylistSource fetches playlists.
type PlaylistSource interface {
	GetPlaylist(ctx context.Context, ownerID, playlistID int, accessKey string) (*vk.Playlist, error)
	GetPlaylistAudios(ctx context.Context, ownerID, playlistID int, accessKey string, count int) ([]vk.Audio, error)
}

// PlaylistFactory builds playlists ready for delivery.
type PlaylistFactory struct {
	source   PlaylistSource
	composer *Composer
	logger   *slog.Logger
}

// PlaylistOption configures a PlaylistFactory.
type PlaylistOption func(*PlaylistFactory)

// WithPlaylistLogger sets the logger.
func WithPlaylistLogger(l *slog.Logger) PlaylistOption {
	return func(f *PlaylistFactory) {
		f.logger = l
	}
}

// NewPlaylistFactory creates a PlaylistFactory.
func NewPlaylistFactory(source PlaylistSource, names NameResolver, texts locale.Strings, opts ...PlaylistOption) *PlaylistFactory {
	f := &PlaylistFactory{
		source:   source,
		composer: NewComposer(names, texts),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build fetches a playlist. Tracks are only fetched when withAudios is set; existence
// checks and wall teasers do without them.
func (f *PlaylistFactory) Build(ctx context.Context, ownerID, playlistID int, accessKey string, withAudios bool) (*Playlist, SkipReason, error) {
	raw, err := f.source.GetPlaylist(ctx, ownerID, playlistID, accessKey)
	if errors.Is(err, vk.ErrNotFound) {
		f.logger.Warn("playlist not found", "owner_id", ownerID, "playlist_id", playlistID)
		return nil, NotFound, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get playlist %d_%d: %w", ownerID, playlistID, err)
	}

	// The key from the link wins over the one the API echoes back.
	if accessKey == "" {
		accessKey = raw.AccessKey
	}
	raw.AccessKey = accessKey

	title := playlistTitle(raw)
	pl := &Playlist{
		ID:          raw.ID,
		OwnerID:     raw.OwnerID,
		AccessKey:   accessKey,
		Title:       title,
		Description: raw.Description,
		Photo:       playlistPhoto(raw),
		Text:        f.composer.ComposePlaylist(raw, title),
	}

	if withAudios {
		audios, err := f.source.GetPlaylistAudios(ctx, raw.OwnerID, raw.ID, accessKey, raw.Count)
		if err != nil {
			return nil, "", fmt.Errorf("get playlist %d_%d audios: %w", ownerID, playlistID, err)
		}
		pl.Audios = convertAudios(audios)
	}

	return pl, "", nil
}

func playlistTitle(pl *vk.Playlist) string {
	if len(pl.MainArtists) == 0 {
		return pl.Title
	}
	names := make([]string, 0, len(pl.MainArtists))
	for _, a := range pl.MainArtists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ") + " - " + pl.Title
}

func playlistPhoto(pl *vk.Playlist) string {
	if pl.Photo != nil && pl.Photo.Photo1200 != "" {
		return pl.Photo.Photo1200
	}
	if len(pl.Thumbs) > 0 {
		return pl.Thumbs[0].Photo1200
	}
	return ""
}

func convertAudios(raw []vk.Audio) []Audio {
	out := make([]Audio, 0, len(raw))
	for _, a := range raw {
		if a.URL == "" {
			continue
		}
		out = append(out, Audio{
			ID:       a.FullID(),
			URL:      a.URL,
			Artist:   a.Artist,
			Title:    a.Title,
			Duration: a.Duration,
		})
	}
	return out
}
