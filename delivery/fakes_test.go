package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/downloader"
	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/markup"
	"vk-telegram-mirror/telegram"
)

const testChat = int64(-1001234)

var errSend = errors.New("send failed")

type sent struct {
	kind   string
	chatID int64
	id     int
	text   string
	media  []telegram.Media
	opts   telegram.SendOptions
	button telegram.Button
}

type fakeMessenger struct {
	sent         []sent
	nextID       int
	failKind     string
	buttonErr    error
	permalinkErr error
}

func (m *fakeMessenger) record(s sent) (int, error) {
	if s.kind == m.failKind {
		return 0, errSend
	}
	m.nextID++
	s.id = m.nextID
	m.sent = append(m.sent, s)
	return s.id, nil
}

func (m *fakeMessenger) SendText(ctx context.Context, chatID int64, text markup.Part, opts telegram.SendOptions) (int, error) {
	return m.record(sent{kind: "text", chatID: chatID, text: text.Text, opts: opts})
}

func (m *fakeMessenger) SendMedia(ctx context.Context, chatID int64, media []telegram.Media, opts telegram.SendOptions) (int, error) {
	return m.record(sent{kind: "media", chatID: chatID, media: media, opts: opts})
}

func (m *fakeMessenger) SendLocation(ctx context.Context, chatID int64, latitude, longitude float64, replyTo int) (int, error) {
	return m.record(sent{kind: "location", chatID: chatID, opts: telegram.SendOptions{ReplyTo: replyTo}})
}

func (m *fakeMessenger) SendPoll(ctx context.Context, chatID int64, question string, answers []string, multiple bool, replyTo int) (int, error) {
	return m.record(sent{kind: "poll", chatID: chatID, text: question, opts: telegram.SendOptions{ReplyTo: replyTo}})
}

func (m *fakeMessenger) SetButton(ctx context.Context, chatID int64, messageID int, b telegram.Button) error {
	if m.buttonErr != nil {
		return m.buttonErr
	}
	m.sent = append(m.sent, sent{kind: "button", chatID: chatID, id: messageID, button: b})
	return nil
}

func (m *fakeMessenger) Permalink(ctx context.Context, chatID int64, messageID int) (string, error) {
	if m.permalinkErr != nil {
		return "", m.permalinkErr
	}
	return permalink(chatID, messageID), nil
}

func (m *fakeMessenger) kinds() []string {
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.kind
	}
	return out
}

func permalink(chatID int64, messageID int) string {
	return fmt.Sprintf("https://t.me/c/%d/%d", -chatID, messageID)
}

type fakeSession struct {
	broken   map[string]bool
	photos   [][]string
	audios   [][]content.Audio
	docs     [][]content.Document
	videos   [][]content.Video
	fetchErr error
	closed   bool
}

func (s *fakeSession) FetchPhotos(ctx context.Context, urls []string) ([]string, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.photos = append(s.photos, urls)
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = "/tmp/" + u
	}
	return out, nil
}

func (s *fakeSession) FetchVideos(ctx context.Context, videos []content.Video) ([]string, error) {
	s.videos = append(s.videos, videos)
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = "/tmp/" + v.URL
	}
	return out, nil
}

func (s *fakeSession) FetchDocuments(ctx context.Context, docs []content.Document) ([]string, error) {
	s.docs = append(s.docs, docs)
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = "/tmp/" + d.Title
	}
	return out, nil
}

func (s *fakeSession) FetchAudios(ctx context.Context, audios []content.Audio) ([]downloader.AudioFile, error) {
	s.audios = append(s.audios, audios)
	var out []downloader.AudioFile
	for _, a := range audios {
		if s.broken[a.ID] {
			continue
		}
		out = append(out, downloader.AudioFile{Audio: a, Path: "/tmp/" + a.ID + ".mp3"})
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDownloader struct {
	session *fakeSession
}

func (d *fakeDownloader) NewSession() (Session, error) {
	return d.session, nil
}

type fakeDispatcher struct {
	requests []PlaylistRequest
}

func (d *fakeDispatcher) DispatchPlaylist(ctx context.Context, req PlaylistRequest) error {
	d.requests = append(d.requests, req)
	return nil
}

func english() locale.Strings {
	s, err := locale.For("en")
	if err != nil {
		panic(err)
	}
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func audios(n int) []content.Audio {
	out := make([]content.Audio, n)
	for i := range out {
		out[i] = content.Audio{ID: fmt.Sprintf("a%d", i+1), URL: "https://cdn/a.mp3", Artist: "Artist", Title: fmt.Sprintf("Track %d", i+1)}
	}
	return out
}

func photos(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d.jpg", i+1)
	}
	return out
}
