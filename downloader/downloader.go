// Package downloader fetches media into temporary files that live as long as a session.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/vk"
)

const defaultConcurrency = 4

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}\-_.]+`)

// System mime tables list several extensions per video type in no useful order.
var videoExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/x-flv":     ".flv",
	"video/quicktime": ".mov",
}

// AudioSource resolves audio tracks with a different token. It is asked again for a
// track whose first download turned out to be broken.
type AudioSource interface {
	GetAudiosByIDs(ctx context.Context, ids []string) ([]vk.Audio, error)
}

// AudioFile is a downloaded track.
type AudioFile struct {
	content.Audio
	Path string
}

// Downloader creates download sessions.
type Downloader struct {
	httpClient  *http.Client
	dir         string
	concurrency int
	ffmpeg      string
	fallback    AudioSource
	logger      *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithTimeout sets the timeout of a single download.
func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) {
		dl.httpClient.Timeout = d
	}
}

// WithDir sets the parent directory of session directories.
func WithDir(dir string) Option {
	return func(dl *Downloader) {
		dl.dir = dir
	}
}

// WithConcurrency sets how many files of one batch are fetched at once.
func WithConcurrency(n int) Option {
	return func(dl *Downloader) {
		dl.concurrency = n
	}
}

// WithFFmpeg sets the ffmpeg binary used for HLS audio.
func WithFFmpeg(path string) Option {
	return func(dl *Downloader) {
		dl.ffmpeg = path
	}
}

// WithFallbackAudios sets the source asked for broken tracks.
func WithFallbackAudios(s AudioSource) Option {
	return func(dl *Downloader) {
		dl.fallback = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(dl *Downloader) {
		dl.logger = l
	}
}

// New creates a Downloader.
func New(opts ...Option) *Downloader {
	d := &Downloader{
		httpClient:  &http.Client{Timeout: time.Hour},
		concurrency: defaultConcurrency,
		ffmpeg:      "ffmpeg",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	return d
}

// NewSession creates a session with its own directory. The caller must Close it.
func (d *Downloader) NewSession() (*Session, error) {
	dir, err := os.MkdirTemp(d.dir, "vk2tg-*")
	if err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Session{d: d, dir: dir}, nil
}

// Session owns the files downloaded during one delivery.
type Session struct {
	d   *Downloader
	dir string
}

// Dir returns the directory holding the session's files.
func (s *Session) Dir() string {
	return s.dir
}

// Close removes every file of the session.
func (s *Session) Close() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// FetchPhotos downloads photos in order.
func (s *Session) FetchPhotos(ctx context.Context, urls []string) ([]string, error) {
	paths := make([]string, len(urls))
	g, ctx := s.group(ctx)
	for i, u := range urls {
		g.Go(func() error {
			path, err := s.download(ctx, u, uuid.NewString()+".jpg")
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// FetchDocuments downloads documents in order, named after their titles.
func (s *Session) FetchDocuments(ctx context.Context, docs []content.Document) ([]string, error) {
	paths := make([]string, len(docs))
	g, ctx := s.group(ctx)
	for i, doc := range docs {
		g.Go(func() error {
			// Each document gets its own directory so equal titles do not collide.
			sub := filepath.Join(s.dir, uuid.NewString())
			if err := os.Mkdir(sub, 0o700); err != nil {
				return fmt.Errorf("create document dir: %w", err)
			}
			path, err := s.downloadTo(ctx, doc.URL, filepath.Join(sub, documentName(doc)))
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// FetchVideos downloads videos in order.
func (s *Session) FetchVideos(ctx context.Context, videos []content.Video) ([]string, error) {
	paths := make([]string, len(videos))
	g, ctx := s.group(ctx)
	for i, v := range videos {
		g.Go(func() error {
			s.d.logger.Info("downloading video", "title", v.Title)
			path, err := s.download(ctx, v.URL, uuid.NewString())
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// FetchAudios downloads tracks in order. A track that is still broken after one
// refetch through the fallback source is left out with a warning.
func (s *Session) FetchAudios(ctx context.Context, audios []content.Audio) ([]AudioFile, error) {
	files := make([]*AudioFile, len(audios))
	g, ctx := s.group(ctx)
	for i, a := range audios {
		g.Go(func() error {
			f, err := s.fetchAudio(ctx, a)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]AudioFile, 0, len(files))
	for _, f := range files {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *Session) fetchAudio(ctx context.Context, a content.Audio) (*AudioFile, error) {
	s.d.logger.Info("downloading audio", "audio", a.ID)
	path, err := s.downloadAudio(ctx, a.URL)
	if err != nil {
		return nil, err
	}
	if validAudio(path) {
		return &AudioFile{Audio: a, Path: path}, nil
	}

	if s.d.fallback == nil {
		s.d.logger.Warn("broken audio dropped", "audio", a.ID, "title", a.Artist+" - "+a.Title)
		return nil, nil
	}

	s.d.logger.Warn("broken audio, trying fallback token", "audio", a.ID)
	again, err := s.d.fallback.GetAudiosByIDs(ctx, []string{a.ID})
	if err != nil {
		return nil, fmt.Errorf("refetch audio %s: %w", a.ID, err)
	}
	if len(again) == 0 || again[0].URL == "" {
		s.d.logger.Warn("audio not available with fallback token", "audio", a.ID)
		return nil, nil
	}

	path, err = s.downloadAudio(ctx, again[0].URL)
	if err != nil {
		return nil, err
	}
	if !validAudio(path) {
		s.d.logger.Warn("broken audio dropped", "audio", a.ID, "title", a.Artist+" - "+a.Title)
		return nil, nil
	}
	return &AudioFile{Audio: a, Path: path}, nil
}

func (s *Session) downloadAudio(ctx context.Context, rawURL string) (string, error) {
	name := uuid.NewString() + ".mp3"
	u, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(u.Path, ".m3u8") {
		return s.downloadTo(ctx, rawURL, filepath.Join(s.dir, name))
	}
	return s.remux(ctx, rawURL, filepath.Join(s.dir, name))
}

// remux copies an HLS stream into a single mp3 file.
func (s *Session) remux(ctx context.Context, rawURL, path string) (string, error) {
	cmd := exec.CommandContext(ctx, s.d.ffmpeg,
		"-loglevel", "error",
		"-http_persistent", "0",
		"-i", rawURL,
		"-c", "copy",
		"-f", "mp3",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("remux audio: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return path, nil
}

func (s *Session) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.d.concurrency)
	return g, ctx
}

// download stores rawURL under name in the session directory. A name without an
// extension gets one from the response content type.
func (s *Session) download(ctx context.Context, rawURL, name string) (string, error) {
	resp, err := s.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if filepath.Ext(name) == "" {
		name += extensionFor(resp.Header.Get("Content-Type"))
	}
	return s.save(resp.Body, filepath.Join(s.dir, name))
}

func (s *Session) downloadTo(ctx context.Context, rawURL, path string) (string, error) {
	resp, err := s.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return s.save(resp.Body, path)
}

func (s *Session) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status: %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (s *Session) save(r io.Reader, path string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	return path, nil
}

// validAudio reports whether the file starts like an MP3: an ID3 tag or an MPEG frame.
func validAudio(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 3)
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	if string(head) == "ID3" {
		return true
	}
	return head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".mp4"
	}
	if ext, ok := videoExtensions[mediaType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ".mp4"
	}
	return exts[0]
}

func documentName(doc content.Document) string {
	name := strings.TrimSpace(doc.Title)
	name = strings.ReplaceAll(name, " ", "_")
	name = unsafeNameChars.ReplaceAllString(name, "")
	if name == "" {
		name = "document"
	}
	if doc.Extension != "" && !strings.EqualFold(filepath.Ext(name), "."+doc.Extension) {
		name += "." + doc.Extension
	}
	return name
}
