package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/markup"
	"vk-telegram-mirror/telegram"
)

type options struct {
	limits    content.Limits
	playlists PlaylistDispatcher
	logger    *slog.Logger
}

// Option configures an Engine or a PlaylistEngine.
type Option func(*options)

// WithLimits sets the text limits.
func WithLimits(l content.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithPlaylistDispatcher enables playlist teasers that hand the playlist off to d.
func WithPlaylistDispatcher(d PlaylistDispatcher) Option {
	return func(o *options) {
		o.playlists = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func newOptions(opts []Option) options {
	o := options{limits: content.DefaultLimits, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Engine publishes posts to the main channel.
type Engine struct {
	options
	messenger  Messenger
	downloader Downloader
	chatID     int64
	strings    locale.Strings
}

// NewEngine creates an Engine that posts to chatID.
func NewEngine(messenger Messenger, dl Downloader, chatID int64, texts locale.Strings, opts ...Option) *Engine {
	return &Engine{
		options:    newOptions(opts),
		messenger:  messenger,
		downloader: dl,
		chatID:     chatID,
		strings:    texts,
	}
}

// Deliver publishes msg with its repost chain and returns the permalink of the main
// message. Any failure aborts the delivery; messages already sent stay in place.
func (e *Engine) Deliver(ctx context.Context, msg *content.Message) (string, error) {
	session, err := e.downloader.NewSession()
	if err != nil {
		return "", fmt.Errorf("open download session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			e.logger.Warn("failed to remove downloads", "error", err)
		}
	}()

	mainID, err := e.deliverThread(ctx, session, msg)
	if err != nil {
		return "", err
	}

	link, err := e.messenger.Permalink(ctx, e.chatID, mainID)
	if err != nil {
		return "", fmt.Errorf("get permalink: %w", err)
	}
	return link, nil
}

// deliverThread sends the repost chain oldest first, each entry replying to the one
// before, and then the post itself. A repost without own text is not sent on its
// own: its footer moves to the newest chain entry.
func (e *Engine) deliverThread(ctx context.Context, s Session, msg *content.Message) (int, error) {
	bare := msg.Text.Header == ""
	chain := msg.CopyHistory

	replyTo := 0
	for i, unit := range chain {
		if bare && i == len(chain)-1 {
			unit.Text.Footer += msg.Text.Footer
		}
		id, err := e.sendUnit(ctx, s, unit, replyTo)
		if err != nil {
			return 0, fmt.Errorf("send repost %d of %d: %w", i+1, len(chain), err)
		}
		replyTo = id
	}

	if len(chain) > 0 && bare {
		return replyTo, nil
	}

	id, err := e.sendUnit(ctx, s, *msg, replyTo)
	if err != nil {
		return 0, fmt.Errorf("send post: %w", err)
	}
	return id, nil
}

func (e *Engine) sendUnit(ctx context.Context, s Session, unit content.Message, replyTo int) (int, error) {
	first, rest := plan(unit.Attachments)

	parts := unit.Text.MessageParts(e.limits)
	if first.captioned() {
		parts = unit.Text.CaptionParts(e.limits)
	}

	id, err := e.sendFirst(ctx, s, first, parts[0], replyTo)
	if err != nil {
		return 0, err
	}

	for _, p := range parts[1:] {
		if _, err := e.messenger.SendText(ctx, e.chatID, p, telegram.SendOptions{ReplyTo: id}); err != nil {
			return 0, fmt.Errorf("send text part: %w", err)
		}
	}

	if err := e.sendRest(ctx, s, rest, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) sendFirst(ctx context.Context, s Session, first firstMessage, text markup.Part, replyTo int) (int, error) {
	opts := telegram.SendOptions{ReplyTo: replyTo}

	switch first.kind {
	case firstMedia:
		return e.sendVisualMedia(ctx, s, first, text, replyTo)

	case firstPreview:
		opts.Preview = true
		id, err := e.messenger.SendText(ctx, e.chatID, text, opts)
		if err != nil {
			return 0, fmt.Errorf("send text with preview: %w", err)
		}
		return id, nil

	case firstDocument:
		paths, err := s.FetchDocuments(ctx, []content.Document{first.document})
		if err != nil {
			return 0, fmt.Errorf("download document: %w", err)
		}
		media := []telegram.Media{{Kind: telegram.Document, Path: paths[0], Caption: text}}
		id, err := e.messenger.SendMedia(ctx, e.chatID, media, opts)
		if err != nil {
			return 0, fmt.Errorf("send document: %w", err)
		}
		return id, nil

	case firstAudios:
		files, err := s.FetchAudios(ctx, first.audios)
		if err != nil {
			return 0, fmt.Errorf("download audios: %w", err)
		}
		if len(files) == 0 {
			e.logger.Warn("no audio could be downloaded, sending text only")
			return e.sendPlain(ctx, text, opts)
		}
		id, err := e.messenger.SendMedia(ctx, e.chatID, audioMedia(files, text), opts)
		if err != nil {
			return 0, fmt.Errorf("send audios: %w", err)
		}
		return id, nil

	default:
		return e.sendPlain(ctx, text, opts)
	}
}

func (e *Engine) sendPlain(ctx context.Context, text markup.Part, opts telegram.SendOptions) (int, error) {
	id, err := e.messenger.SendText(ctx, e.chatID, text, opts)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	return id, nil
}

// sendVisualMedia sends photos and uploaded videos in groups of ten. The caption goes
// on the first item; later groups reply to the first one.
func (e *Engine) sendVisualMedia(ctx context.Context, s Session, first firstMessage, text markup.Part, replyTo int) (int, error) {
	var media []telegram.Media
	if len(first.photos) > 0 {
		paths, err := s.FetchPhotos(ctx, first.photos)
		if err != nil {
			return 0, fmt.Errorf("download photos: %w", err)
		}
		for _, p := range paths {
			media = append(media, telegram.Media{Kind: telegram.Photo, Path: p})
		}
	}
	if len(first.videos) > 0 {
		paths, err := s.FetchVideos(ctx, first.videos)
		if err != nil {
			return 0, fmt.Errorf("download videos: %w", err)
		}
		for _, p := range paths {
			media = append(media, telegram.Media{Kind: telegram.Video, Path: p})
		}
	}
	media[0].Caption = text

	var firstID int
	for i, batch := range batches(media, batchSize) {
		opts := telegram.SendOptions{ReplyTo: replyTo}
		if i > 0 {
			opts.ReplyTo = firstID
		}
		id, err := e.messenger.SendMedia(ctx, e.chatID, batch, opts)
		if err != nil {
			return 0, fmt.Errorf("send media group: %w", err)
		}
		if i == 0 {
			firstID = id
		}
	}
	return firstID, nil
}

func (e *Engine) sendRest(ctx context.Context, s Session, rest remaining, replyTo int) error {
	if rest.geo != nil {
		if _, err := e.messenger.SendLocation(ctx, e.chatID, rest.geo.Latitude, rest.geo.Longitude, replyTo); err != nil {
			return fmt.Errorf("send location: %w", err)
		}
	}

	if rest.poll != nil {
		p := rest.poll
		if _, err := e.messenger.SendPoll(ctx, e.chatID, p.Question, p.Answers, p.Multiple, replyTo); err != nil {
			return fmt.Errorf("send poll: %w", err)
		}
	}

	for _, batch := range batches(rest.audios, batchSize) {
		files, err := s.FetchAudios(ctx, batch)
		if err != nil {
			return fmt.Errorf("download audios: %w", err)
		}
		if len(files) == 0 {
			continue
		}
		if _, err := e.messenger.SendMedia(ctx, e.chatID, audioMedia(files, markup.Part{}), telegram.SendOptions{ReplyTo: replyTo}); err != nil {
			return fmt.Errorf("send audios: %w", err)
		}
	}

	for _, batch := range batches(rest.documents, batchSize) {
		paths, err := s.FetchDocuments(ctx, batch)
		if err != nil {
			return fmt.Errorf("download documents: %w", err)
		}
		media := make([]telegram.Media, len(paths))
		for i, p := range paths {
			media[i] = telegram.Media{Kind: telegram.Document, Path: p}
		}
		if _, err := e.messenger.SendMedia(ctx, e.chatID, media, telegram.SendOptions{ReplyTo: replyTo}); err != nil {
			return fmt.Errorf("send documents: %w", err)
		}
	}

	if rest.playlist != nil {
		if err := e.sendPlaylistTeaser(ctx, s, rest.playlist, replyTo); err != nil {
			return fmt.Errorf("send playlist teaser: %w", err)
		}
	}
	return nil
}

// sendPlaylistTeaser announces a playlist in the main channel and, when playlist
// publishing is enabled, queues the playlist thread with the teaser as its origin.
func (e *Engine) sendPlaylistTeaser(ctx context.Context, s Session, pl *content.Playlist, replyTo int) error {
	parts := pl.Text.CaptionParts(e.limits)

	opts := telegram.SendOptions{ReplyTo: replyTo}
	if e.playlists != nil {
		opts.Button = &telegram.Button{Text: e.strings.PlaylistSoon, Data: WaitForPlaylistData}
	}

	var id int
	if pl.Photo != "" {
		paths, err := s.FetchPhotos(ctx, []string{pl.Photo})
		if err != nil {
			return fmt.Errorf("download cover: %w", err)
		}
		media := []telegram.Media{{Kind: telegram.Photo, Path: paths[0], Caption: parts[0]}}
		if id, err = e.messenger.SendMedia(ctx, e.chatID, media, opts); err != nil {
			return err
		}
	} else {
		var err error
		if id, err = e.messenger.SendText(ctx, e.chatID, parts[0], opts); err != nil {
			return err
		}
	}

	if e.playlists != nil {
		req := PlaylistRequest{
			OwnerID:    pl.OwnerID,
			PlaylistID: pl.ID,
			AccessKey:  pl.AccessKey,
			Origin:     &Origin{ChatID: e.chatID, MessageID: id},
		}
		if err := e.playlists.DispatchPlaylist(ctx, req); err != nil {
			return fmt.Errorf("dispatch playlist %s: %w", pl.FullID(), err)
		}
		e.logger.Info("playlist dispatched", "playlist", pl.FullID(), "message_id", id)
	}

	for _, p := range parts[1:] {
		if _, err := e.messenger.SendText(ctx, e.chatID, p, telegram.SendOptions{ReplyTo: id}); err != nil {
			return fmt.Errorf("send text part: %w", err)
		}
	}
	return nil
}
