// Package delivery publishes prepared posts and playlists to Telegram as threads of
// messages.
package delivery

import (
	"context"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/downloader"
	"vk-telegram-mirror/markup"
	"vk-telegram-mirror/telegram"
)

// batchSize is the number of files per media group.
const batchSize = telegram.MaxMediaGroup

// WaitForPlaylistData is the callback data of the teaser button shown until the
// playlist is published.
const WaitForPlaylistData = "wait_for_pl_link"

// Messenger sends messages to the destination channel.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text markup.Part, opts telegram.SendOptions) (int, error)
	SendMedia(ctx context.Context, chatID int64, media []telegram.Media, opts telegram.SendOptions) (int, error)
	SendLocation(ctx context.Context, chatID int64, latitude, longitude float64, replyTo int) (int, error)
	SendPoll(ctx context.Context, chatID int64, question string, answers []string, multiple bool, replyTo int) (int, error)
	SetButton(ctx context.Context, chatID int64, messageID int, b telegram.Button) error
	Permalink(ctx context.Context, chatID int64, messageID int) (string, error)
}

// Session holds the files downloaded for one delivery.
type Session interface {
	FetchPhotos(ctx context.Context, urls []string) ([]string, error)
	FetchVideos(ctx context.Context, videos []content.Video) ([]string, error)
	FetchDocuments(ctx context.Context, docs []content.Document) ([]string, error)
	FetchAudios(ctx context.Context, audios []content.Audio) ([]downloader.AudioFile, error)
	Close() error
}

// Downloader opens download sessions.
type Downloader interface {
	NewSession() (Session, error)
}

// Origin is a message in the main channel that a playlist thread links back to.
type Origin struct {
	ChatID    int64
	MessageID int
}

// PlaylistRequest asks for a playlist to be published in the playlist channel.
type PlaylistRequest struct {
	OwnerID    int
	PlaylistID int
	AccessKey  string
	Origin     *Origin
}

// PlaylistDispatcher hands playlist publishing off to a background job.
type PlaylistDispatcher interface {
	DispatchPlaylist(ctx context.Context, req PlaylistRequest) error
}

func audioMedia(files []downloader.AudioFile, lastCaption markup.Part) []telegram.Media {
	media := make([]telegram.Media, len(files))
	for i, f := range files {
		media[i] = telegram.Media{
			Kind:      telegram.Audio,
			Path:      f.Path,
			Performer: f.Artist,
			Title:     f.Title,
			Duration:  f.Duration,
		}
	}
	if len(media) > 0 {
		media[len(media)-1].Caption = lastCaption
	}
	return media
}

func batches[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
