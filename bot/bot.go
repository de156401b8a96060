// Package bot implements the private chat through which channel admins queue
// VK posts and playlists by hand.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/delivery"
	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/storage"
	"vk-telegram-mirror/telegram"
)

// Conversation states.
const (
	WaitingForLink   = "waiting_for_link"
	WaitingForChoice = "waiting_for_choice"
)

// Callback data of the confirmation buttons.
const (
	confirmData = "confirm"
	cancelData  = "cancel"
)

// Messenger talks to Telegram.
type Messenger interface {
	SendPlain(ctx context.Context, chatID int64, text string, buttons ...telegram.Button) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	ClearButtons(ctx context.Context, chatID int64, messageID int) error
	CanPost(ctx context.Context, channelID, userID int64) (bool, error)
}

// SessionStore persists conversation state per user.
type SessionStore interface {
	GetSession(ctx context.Context, userID int64) (*storage.Session, error)
	SaveSession(ctx context.Context, s *storage.Session) error
	DeleteSession(ctx context.Context, userID int64) error
}

// TaskLookup reports the queue status of a post or playlist.
type TaskLookup interface {
	GetTask(ctx context.Context, kind storage.TaskKind, ownerID, itemID int) (*storage.Task, error)
}

// Enqueuer queues forwarding jobs.
type Enqueuer interface {
	EnqueueWall(ctx context.Context, ownerID, postID int, force bool) (bool, error)
	EnqueuePlaylist(ctx context.Context, req delivery.PlaylistRequest, force bool) (bool, error)
}

// PostChecker tells whether a wall post can be forwarded.
type PostChecker interface {
	Check(ctx context.Context, ownerID, postID int) (content.SkipReason, error)
}

// PlaylistChecker fetches playlist metadata.
type PlaylistChecker interface {
	Build(ctx context.Context, ownerID, playlistID int, accessKey string, withAudios bool) (*content.Playlist, content.SkipReason, error)
}

// choice is the payload of a session waiting for confirmation.
type choice struct {
	Link
	MessageID int  `json:"message_id"`
	Force     bool `json:"force"`
}

// Handler processes bot updates.
type Handler struct {
	messenger Messenger
	sessions  SessionStore
	tasks     TaskLookup
	enqueuer  Enqueuer
	posts     PostChecker
	playlists PlaylistChecker
	channelID int64
	texts     locale.Strings
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithPlaylists enables playlist links.
func WithPlaylists(p PlaylistChecker) Option {
	return func(h *Handler) {
		h.playlists = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a Handler for admins of channelID.
func NewHandler(
	messenger Messenger,
	sessions SessionStore,
	tasks TaskLookup,
	enqueuer Enqueuer,
	posts PostChecker,
	channelID int64,
	texts locale.Strings,
	opts ...Option,
) *Handler {
	h := &Handler{
		messenger: messenger,
		sessions:  sessions,
		tasks:     tasks,
		enqueuer:  enqueuer,
		posts:     posts,
		channelID: channelID,
		texts:     texts,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run handles updates one at a time until ctx is done or updates is closed.
func (h *Handler) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := h.HandleUpdate(ctx, update); err != nil {
				h.logger.Error("failed to handle update", "update_id", update.UpdateID, "error", err)
			}
		}
	}
}

// HandleUpdate dispatches a single update.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Chat != nil && update.Message.Chat.IsPrivate():
		return h.handleMessage(ctx, update.Message)
	}
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	userID, chatID := msg.From.ID, msg.Chat.ID

	switch msg.Command() {
	case "start":
		return h.handleStart(ctx, userID, chatID)
	case "cancel":
		return h.reset(ctx, userID, chatID)
	}

	if !h.authorize(ctx, userID, chatID) {
		return nil
	}

	session, err := h.sessions.GetSession(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get session: %w", err)
	}
	if session != nil && session.State == WaitingForChoice {
		return h.send(ctx, chatID, h.texts.ClickButton)
	}

	return h.handleLink(ctx, userID, chatID, msg.Text)
}

func (h *Handler) handleStart(ctx context.Context, userID, chatID int64) error {
	if err := h.send(ctx, chatID, h.texts.Hello); err != nil {
		return err
	}
	if !h.authorize(ctx, userID, chatID) {
		return nil
	}
	if err := h.sessions.SaveSession(ctx, &storage.Session{UserID: userID, State: WaitingForLink}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return h.send(ctx, chatID, h.texts.WaitingForLink)
}

func (h *Handler) reset(ctx context.Context, userID, chatID int64) error {
	if err := h.sessions.SaveSession(ctx, &storage.Session{UserID: userID, State: WaitingForLink}); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return h.send(ctx, chatID, h.texts.Cancelled)
}

func (h *Handler) handleLink(ctx context.Context, userID, chatID int64, text string) error {
	link, ok := ParseLink(text)
	if !ok {
		return h.send(ctx, chatID, h.texts.IncorrectLink)
	}
	if link.Kind == storage.PlaylistTask && h.playlists == nil {
		return h.send(ctx, chatID, h.texts.PlaylistsDisabled)
	}

	if err := h.send(ctx, chatID, h.texts.Searching); err != nil {
		return err
	}

	logger := h.logger.With("user_id", userID, "kind", link.Kind, "owner_id", link.OwnerID, "item_id", link.ItemID)
	reason, err := h.lookup(ctx, link)
	if err != nil {
		logger.Error("lookup failed", "error", err)
		return h.send(ctx, chatID, h.texts.LookupFailed)
	}
	if reason != "" {
		logger.Info("link rejected", "reason", reason)
		return h.send(ctx, chatID, h.skipText(link.Kind, reason))
	}

	question, force := h.texts.ConfirmForward, false
	task, err := h.tasks.GetTask(ctx, link.Kind, link.OwnerID, link.ItemID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		logger.Warn("failed to get task status", "error", err)
	case task.Status == storage.Queued:
		question, force = h.texts.AlreadyQueued, true
	case task.Status == storage.Running:
		question, force = h.texts.AlreadyStarted, true
	}

	return h.ask(ctx, userID, chatID, question, choice{Link: link, Force: force})
}

func (h *Handler) lookup(ctx context.Context, link Link) (content.SkipReason, error) {
	if link.Kind == storage.PlaylistTask {
		_, reason, err := h.playlists.Build(ctx, link.OwnerID, link.ItemID, link.AccessKey, false)
		return reason, err
	}
	return h.posts.Check(ctx, link.OwnerID, link.ItemID)
}

func (h *Handler) skipText(kind storage.TaskKind, reason content.SkipReason) string {
	switch {
	case kind == storage.PlaylistTask:
		return h.texts.PlaylistNotFound
	case reason == content.IsDonut:
		return h.texts.PostIsDonut
	case reason == content.IsAd:
		return h.texts.PostIsAd
	default:
		return h.texts.PostNotFound
	}
}

// ask sends a yes/cancel question and waits for a button press.
func (h *Handler) ask(ctx context.Context, userID, chatID int64, question string, c choice) error {
	msgID, err := h.messenger.SendPlain(ctx, chatID, question,
		telegram.Button{Text: h.texts.Yes, Data: confirmData},
		telegram.Button{Text: h.texts.Cancel, Data: cancelData},
	)
	if err != nil {
		return fmt.Errorf("send question: %w", err)
	}
	c.MessageID = msgID

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode choice: %w", err)
	}
	session := &storage.Session{UserID: userID, State: WaitingForChoice, Payload: string(payload)}
	if err := h.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	switch cb.Data {
	case delivery.WaitForPlaylistData:
		return h.messenger.AnswerCallback(ctx, cb.ID, h.texts.PlaylistNotReady, true)
	case cancelData:
		if err := h.messenger.AnswerCallback(ctx, cb.ID, "", false); err != nil {
			h.logger.Warn("failed to answer callback", "error", err)
		}
		if cb.Message == nil || cb.From == nil {
			return nil
		}
		h.clearButtons(ctx, cb.Message)
		return h.reset(ctx, cb.From.ID, cb.Message.Chat.ID)
	case confirmData:
		if err := h.messenger.AnswerCallback(ctx, cb.ID, "", false); err != nil {
			h.logger.Warn("failed to answer callback", "error", err)
		}
		if cb.Message == nil || cb.From == nil {
			return nil
		}
		return h.confirm(ctx, cb.From.ID, cb.Message)
	}
	return h.messenger.AnswerCallback(ctx, cb.ID, "", false)
}

func (h *Handler) confirm(ctx context.Context, userID int64, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	session, err := h.sessions.GetSession(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && session.State != WaitingForChoice) {
		h.clearButtons(ctx, msg)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	var c choice
	if err := json.Unmarshal([]byte(session.Payload), &c); err != nil {
		return fmt.Errorf("decode choice: %w", err)
	}
	if c.MessageID != msg.MessageID {
		h.logger.Info("stale confirmation", "user_id", userID, "message_id", msg.MessageID)
		h.clearButtons(ctx, msg)
		return nil
	}

	h.clearButtons(ctx, msg)
	if !h.authorize(ctx, userID, chatID) {
		return nil
	}

	queued, err := h.enqueue(ctx, c)
	if err != nil {
		return fmt.Errorf("enqueue %s %d_%d: %w", c.Kind, c.OwnerID, c.ItemID, err)
	}
	if !queued {
		// Someone else queued it after the question was asked.
		c.Force = true
		return h.ask(ctx, userID, chatID, h.texts.AlreadyQueued, c)
	}

	h.logger.Info("queued by user", "user_id", userID, "kind", c.Kind, "owner_id", c.OwnerID, "item_id", c.ItemID, "force", c.Force)
	if err := h.sessions.DeleteSession(ctx, userID); err != nil {
		h.logger.Warn("failed to delete session", "user_id", userID, "error", err)
	}
	return h.send(ctx, chatID, h.texts.AddedToQueue)
}

func (h *Handler) enqueue(ctx context.Context, c choice) (bool, error) {
	if c.Kind == storage.PlaylistTask {
		return h.enqueuer.EnqueuePlaylist(ctx, delivery.PlaylistRequest{
			OwnerID:    c.OwnerID,
			PlaylistID: c.ItemID,
			AccessKey:  c.AccessKey,
		}, c.Force)
	}
	return h.enqueuer.EnqueueWall(ctx, c.OwnerID, c.ItemID, c.Force)
}

// authorize tells the user why they cannot proceed when they are not allowed to post.
func (h *Handler) authorize(ctx context.Context, userID, chatID int64) bool {
	ok, err := h.messenger.CanPost(ctx, h.channelID, userID)
	if err != nil {
		h.logger.Error("permission check failed", "user_id", userID, "error", err)
		h.sendQuietly(ctx, chatID, h.texts.PermissionFailed)
		return false
	}
	if !ok {
		h.logger.Warn("user without permission", "user_id", userID)
		h.sendQuietly(ctx, chatID, h.texts.NoPermission)
		return false
	}
	return true
}

func (h *Handler) clearButtons(ctx context.Context, msg *tgbotapi.Message) {
	if err := h.messenger.ClearButtons(ctx, msg.Chat.ID, msg.MessageID); err != nil {
		h.logger.Warn("failed to clear buttons", "message_id", msg.MessageID, "error", err)
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) error {
	if _, err := h.messenger.SendPlain(ctx, chatID, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (h *Handler) sendQuietly(ctx context.Context, chatID int64, text string) {
	if err := h.send(ctx, chatID, text); err != nil {
		h.logger.Warn("failed to reply", "chat_id", chatID, "error", err)
	}
}
