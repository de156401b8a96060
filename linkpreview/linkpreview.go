// Package linkpreview finds human-readable titles for web pages.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	defaultMaxTitleLen = 256
	defaultMaxBodySize = 2 << 20
)

// Resolver fetches pages and extracts their titles.
type Resolver struct {
	httpClient  *http.Client
	maxTitleLen int
	maxBodySize int64
	userAgent   string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.httpClient.Timeout = d
	}
}

// WithMaxTitleLength sets the maximum title length in runes.
func WithMaxTitleLength(n int) Option {
	return func(r *Resolver) {
		r.maxTitleLen = n
	}
}

// WithMaxBodySize limits how many bytes of a page are read.
func WithMaxBodySize(n int64) Option {
	return func(r *Resolver) {
		r.maxBodySize = n
	}
}

// WithUserAgent sets the User-Agent header sent with requests.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		r.userAgent = ua
	}
}

// NewResolver creates a new title resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxTitleLen: defaultMaxTitleLen,
		maxBodySize: defaultMaxBodySize,
		userAgent:   "Mozilla/5.0 (compatible; vk-telegram-mirror/1.0)",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Title returns the title of the page at rawURL, or "" if the page has none or
// is not HTML.
func (r *Resolver) Title(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return "", nil
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, r.maxBodySize), parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	title := strings.Join(strings.Fields(article.Title), " ")
	if runes := []rune(title); len(runes) > r.maxTitleLen {
		title = string(runes[:r.maxTitleLen])
	}
	return title, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
