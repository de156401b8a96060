package delivery

import (
	"context"
	"fmt"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/markup"
	"vk-telegram-mirror/telegram"
)

// PlaylistEngine publishes playlists to the playlist channel.
type PlaylistEngine struct {
	options
	messenger  Messenger
	downloader Downloader
	chatID     int64
	strings    locale.Strings
}

// NewPlaylistEngine creates a PlaylistEngine that posts to chatID.
func NewPlaylistEngine(messenger Messenger, dl Downloader, chatID int64, texts locale.Strings, opts ...Option) *PlaylistEngine {
	return &PlaylistEngine{
		options:    newOptions(opts),
		messenger:  messenger,
		downloader: dl,
		chatID:     chatID,
		strings:    texts,
	}
}

// Deliver publishes pl and returns the permalink of its first message. When origin is
// set, the playlist and the origin message get buttons pointing at each other.
func (e *PlaylistEngine) Deliver(ctx context.Context, pl *content.Playlist, origin *Origin) (string, error) {
	session, err := e.downloader.NewSession()
	if err != nil {
		return "", fmt.Errorf("open download session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			e.logger.Warn("failed to remove downloads", "error", err)
		}
	}()

	id, parts, err := e.sendHead(ctx, session, pl)
	if err != nil {
		return "", err
	}

	if origin != nil {
		e.crossLink(ctx, id, *origin)
	}

	for _, p := range parts[1:] {
		if _, err := e.messenger.SendText(ctx, e.chatID, p, telegram.SendOptions{ReplyTo: id}); err != nil {
			return "", fmt.Errorf("send text part: %w", err)
		}
	}

	if err := e.sendAudios(ctx, session, pl.Audios, id); err != nil {
		return "", err
	}

	link, err := e.messenger.Permalink(ctx, e.chatID, id)
	if err != nil {
		return "", fmt.Errorf("get permalink: %w", err)
	}
	return link, nil
}

// sendHead sends the cover with the first caption part, or the first text part when
// there is no cover. It returns the message ID and the parts the head was cut from.
func (e *PlaylistEngine) sendHead(ctx context.Context, s Session, pl *content.Playlist) (int, []markup.Part, error) {
	if pl.Photo == "" {
		parts := pl.Text.MessageParts(e.limits)
		id, err := e.messenger.SendText(ctx, e.chatID, parts[0], telegram.SendOptions{})
		if err != nil {
			return 0, nil, fmt.Errorf("send playlist text: %w", err)
		}
		return id, parts, nil
	}

	parts := pl.Text.CaptionParts(e.limits)
	paths, err := s.FetchPhotos(ctx, []string{pl.Photo})
	if err != nil {
		return 0, nil, fmt.Errorf("download cover: %w", err)
	}
	media := []telegram.Media{{Kind: telegram.Photo, Path: paths[0], Caption: parts[0]}}
	id, err := e.messenger.SendMedia(ctx, e.chatID, media, telegram.SendOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("send playlist cover: %w", err)
	}
	return id, parts, nil
}

// crossLink adds a button to the origin on the playlist message and one to the
// playlist on the origin message. Failures are logged and skipped.
func (e *PlaylistEngine) crossLink(ctx context.Context, playlistMsgID int, origin Origin) {
	postURL, err := e.messenger.Permalink(ctx, origin.ChatID, origin.MessageID)
	if err != nil {
		e.logger.Warn("failed to link playlist to post", "chat_id", origin.ChatID, "error", err)
	} else {
		b := telegram.Button{Text: "🔗 " + e.strings.GoToPost, URL: postURL}
		if err := e.messenger.SetButton(ctx, e.chatID, playlistMsgID, b); err != nil {
			e.logger.Warn("failed to link playlist to post", "chat_id", origin.ChatID, "error", err)
		}
	}

	playlistURL, err := e.messenger.Permalink(ctx, e.chatID, playlistMsgID)
	if err != nil {
		e.logger.Warn("failed to link post to playlist", "chat_id", e.chatID, "error", err)
		return
	}
	b := telegram.Button{Text: "🔊 " + e.strings.GoToPlaylist, URL: playlistURL}
	if err := e.messenger.SetButton(ctx, origin.ChatID, origin.MessageID, b); err != nil {
		e.logger.Warn("failed to link post to playlist", "chat_id", origin.ChatID, "error", err)
	}
}

// sendAudios sends the tracks in groups of ten with an "X-Y of N" counter on the
// last track of each group.
func (e *PlaylistEngine) sendAudios(ctx context.Context, s Session, audios []content.Audio, replyTo int) error {
	total := len(audios)
	for i, batch := range batches(audios, batchSize) {
		from := i*batchSize + 1
		to := from + len(batch) - 1

		files, err := s.FetchAudios(ctx, batch)
		if err != nil {
			return fmt.Errorf("download audios %d-%d: %w", from, to, err)
		}
		if len(files) == 0 {
			e.logger.Warn("no audio of batch could be downloaded", "from", from, "to", to)
			continue
		}

		counter := markup.Part{Text: e.strings.Range(from, to, total)}
		if _, err := e.messenger.SendMedia(ctx, e.chatID, audioMedia(files, counter), telegram.SendOptions{ReplyTo: replyTo}); err != nil {
			return fmt.Errorf("send audios %d-%d: %w", from, to, err)
		}
	}
	return nil
}
