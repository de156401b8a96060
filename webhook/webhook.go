// Package webhook receives VK Callback API events and queues new wall posts.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vk-telegram-mirror/storage"
	"vk-telegram-mirror/vk"
)

const (
	eventConfirmation = "confirmation"
	eventWallPostNew  = "wall_post_new"
)

var forwardedPostTypes = map[string]bool{
	"post":  true,
	"reply": true,
	"photo": true,
	"video": true,
}

// Event is a VK Callback API request.
type Event struct {
	Type    string          `json:"type"`
	GroupID int             `json:"group_id"`
	EventID string          `json:"event_id"`
	Secret  string          `json:"secret"`
	Object  json.RawMessage `json:"object"`
}

// Enqueuer queues wall posts for forwarding.
type Enqueuer interface {
	EnqueueWall(ctx context.Context, ownerID, postID int, force bool) (bool, error)
}

// ConfirmationSource provides the code VK expects in reply to a confirmation event.
type ConfirmationSource interface {
	GetCallbackConfirmationCode(ctx context.Context, groupID int) (string, error)
}

// SettingsStore caches the confirmation code between restarts.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// TaskChecker reports whether a post is already waiting or being forwarded.
type TaskChecker interface {
	IsQueuedOrRunning(ctx context.Context, kind storage.TaskKind, ownerID, itemID int) (bool, error)
}

// Server is the callback HTTP server.
type Server struct {
	echo      *echo.Echo
	addr      string
	groupID   int
	secret    string
	ignoreAds bool
	codes     ConfirmationSource
	enqueuer  Enqueuer
	settings  SettingsStore
	tasks     TaskChecker
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSecret requires every event to carry secret.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithIgnoreAds drops posts marked as advertising.
func WithIgnoreAds(ignore bool) Option {
	return func(s *Server) {
		s.ignoreAds = ignore
	}
}

// WithSettings caches the confirmation code in store.
func WithSettings(store SettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

// WithTasks skips posts whose forwarding is already queued or running. VK
// redelivers events it thinks were not answered in time.
func WithTasks(tasks TaskChecker) Option {
	return func(s *Server) {
		s.tasks = tasks
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a callback server listening on addr for events of groupID.
func NewServer(addr string, groupID int, codes ConfirmationSource, enqueuer Enqueuer, opts ...Option) *Server {
	s := &Server{
		echo:     echo.New(),
		addr:     addr,
		groupID:  groupID,
		codes:    codes,
		enqueuer: enqueuer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	s.echo.GET("/healthz", s.health)
	s.echo.POST("/callback", s.callback)
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("callback server listening", "addr", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) callback(c echo.Context) error {
	var ev Event
	if err := c.Bind(&ev); err != nil {
		s.logger.Warn("invalid callback body", "error", err)
		return c.NoContent(http.StatusBadRequest)
	}

	if s.secret != "" && ev.Secret != s.secret {
		s.logger.Warn("callback with wrong secret", "type", ev.Type, "group_id", ev.GroupID)
		return c.NoContent(http.StatusForbidden)
	}

	ctx := c.Request().Context()
	s.logger.Info("callback event", "type", ev.Type, "event_id", ev.EventID)

	switch ev.Type {
	case eventConfirmation:
		code, err := s.confirmationCode(ctx)
		if err != nil {
			s.logger.Error("failed to get confirmation code", "error", err)
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, code)

	case eventWallPostNew:
		if err := s.handleNewPost(ctx, ev.Object); err != nil {
			return c.NoContent(http.StatusInternalServerError)
		}
	}

	return c.String(http.StatusOK, "ok")
}

// handleNewPost queues a new wall post. Only a failed enqueue is reported, so VK
// redelivers the event.
func (s *Server) handleNewPost(ctx context.Context, object json.RawMessage) error {
	var post vk.Post
	if err := json.Unmarshal(object, &post); err != nil {
		s.logger.Warn("invalid wall post", "error", err)
		return nil
	}
	if post.OwnerID == 0 || post.ID == 0 {
		s.logger.Warn("wall post without owner or id")
		return nil
	}

	logger := s.logger.With("owner_id", post.OwnerID, "post_id", post.ID)
	switch {
	case s.ignoreAds && bool(post.MarkedAsAds):
		logger.Warn("ignored ad post")
		return nil
	case post.IsDonut():
		logger.Warn("ignored donut post")
		return nil
	case !forwardedPostTypes[post.PostType]:
		logger.Info("ignored post type", "post_type", post.PostType)
		return nil
	}

	if s.tasks != nil {
		busy, err := s.tasks.IsQueuedOrRunning(ctx, storage.WallTask, post.OwnerID, post.ID)
		if err != nil {
			logger.Warn("failed to check task status", "error", err)
		} else if busy {
			logger.Warn("post already queued")
			return nil
		}
	}

	queued, err := s.enqueuer.EnqueueWall(ctx, post.OwnerID, post.ID, false)
	if err != nil {
		logger.Error("failed to queue post", "error", err)
		return fmt.Errorf("queue post %d_%d: %w", post.OwnerID, post.ID, err)
	}
	if !queued {
		logger.Warn("post already queued")
	}
	return nil
}

func (s *Server) confirmationCode(ctx context.Context) (string, error) {
	key := "vk_confirmation_code:" + strconv.Itoa(s.groupID)
	if s.settings != nil {
		if code, err := s.settings.GetSetting(ctx, key); err == nil && code != "" {
			return code, nil
		}
	}

	code, err := s.codes.GetCallbackConfirmationCode(ctx, s.groupID)
	if err != nil {
		return "", err
	}

	if s.settings != nil {
		if err := s.settings.SetSetting(ctx, key, code); err != nil {
			s.logger.Warn("failed to cache confirmation code", "error", err)
		}
	}
	return code, nil
}
