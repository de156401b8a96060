// Package telegram sends composed messages to Telegram channels through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vk-telegram-mirror/markup"
)

// MaxMediaGroup is the largest number of items in one media group.
const MaxMediaGroup = 10

// ErrEmptyMedia is returned when SendMedia is called without items.
var ErrEmptyMedia = errors.New("no media to send")

// MediaKind is the type of an uploaded file.
type MediaKind int

const (
	Photo MediaKind = iota
	Video
	Audio
	Document
)

func (k MediaKind) String() string {
	switch k {
	case Photo:
		return "photo"
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Document:
		return "document"
	default:
		return "unknown"
	}
}

// Media is one local file to upload.
type Media struct {
	Kind      MediaKind
	Path      string
	Caption   markup.Part
	Performer string
	Title     string
	Duration  int
}

// Button is an inline keyboard button. Exactly one of URL and Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

// SendOptions controls how a message is sent.
type SendOptions struct {
	ReplyTo int
	Preview bool
	Button  *Button
}

// BotAPI is the part of tgbotapi.BotAPI the client uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Client sends messages to Telegram chats.
type Client struct {
	api    BotAPI
	logger *slog.Logger

	mu        sync.Mutex
	usernames map[int64]string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new Telegram client.
func NewClient(api BotAPI, opts ...Option) *Client {
	c := &Client{
		api:       api,
		logger:    slog.Default(),
		usernames: make(map[int64]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendText sends a text message and returns its ID.
func (c *Client) SendText(ctx context.Context, chatID int64, text markup.Part, opts SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text.Text)
	msg.Entities = entities(text.Entities)
	msg.DisableWebPagePreview = !opts.Preview
	msg.ReplyToMessageID = opts.ReplyTo
	if opts.Button != nil {
		msg.ReplyMarkup = keyboard(*opts.Button)
	}

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// SendMedia uploads files and returns the ID of the first message. A single file is
// sent on its own and may carry a button; several files go out as one media group.
func (c *Client) SendMedia(ctx context.Context, chatID int64, media []Media, opts SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch {
	case len(media) == 0:
		return 0, ErrEmptyMedia
	case len(media) > MaxMediaGroup:
		return 0, fmt.Errorf("media group of %d items exceeds %d", len(media), MaxMediaGroup)
	case len(media) == 1:
		return c.sendSingle(chatID, media[0], opts)
	}

	items := make([]interface{}, len(media))
	for i, m := range media {
		items[i] = inputMedia(m)
	}
	cfg := tgbotapi.NewMediaGroup(chatID, items)
	cfg.ReplyToMessageID = opts.ReplyTo

	sent, err := c.api.SendMediaGroup(cfg)
	if err != nil {
		return 0, fmt.Errorf("send media group: %w", err)
	}
	if len(sent) == 0 {
		return 0, fmt.Errorf("send media group: empty response")
	}
	return sent[0].MessageID, nil
}

func (c *Client) sendSingle(chatID int64, m Media, opts SendOptions) (int, error) {
	file := tgbotapi.FilePath(m.Path)
	caption, captionEntities := m.Caption.Text, entities(m.Caption.Entities)

	var cfg tgbotapi.Chattable
	switch m.Kind {
	case Photo:
		p := tgbotapi.NewPhoto(chatID, file)
		p.Caption, p.CaptionEntities = caption, captionEntities
		p.ReplyToMessageID = opts.ReplyTo
		p.ReplyMarkup = optionalKeyboard(opts.Button)
		cfg = p
	case Video:
		v := tgbotapi.NewVideo(chatID, file)
		v.Caption, v.CaptionEntities = caption, captionEntities
		v.SupportsStreaming = true
		v.ReplyToMessageID = opts.ReplyTo
		v.ReplyMarkup = optionalKeyboard(opts.Button)
		cfg = v
	case Audio:
		a := tgbotapi.NewAudio(chatID, file)
		a.Caption, a.CaptionEntities = caption, captionEntities
		a.Performer, a.Title, a.Duration = m.Performer, m.Title, m.Duration
		a.ReplyToMessageID = opts.ReplyTo
		a.ReplyMarkup = optionalKeyboard(opts.Button)
		cfg = a
	case Document:
		d := tgbotapi.NewDocument(chatID, file)
		d.Caption, d.CaptionEntities = caption, captionEntities
		d.ReplyToMessageID = opts.ReplyTo
		d.ReplyMarkup = optionalKeyboard(opts.Button)
		cfg = d
	default:
		return 0, fmt.Errorf("unknown media kind %d", m.Kind)
	}

	sent, err := c.api.Send(cfg)
	if err != nil {
		return 0, fmt.Errorf("send %s: %w", m.Kind, err)
	}
	return sent.MessageID, nil
}

// SendLocation sends a map point as a reply.
func (c *Client) SendLocation(ctx context.Context, chatID int64, latitude, longitude float64, replyTo int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	loc := tgbotapi.NewLocation(chatID, latitude, longitude)
	loc.ReplyToMessageID = replyTo

	sent, err := c.api.Send(loc)
	if err != nil {
		return 0, fmt.Errorf("send location: %w", err)
	}
	return sent.MessageID, nil
}

// SendPoll sends an anonymous poll as a reply.
func (c *Client) SendPoll(ctx context.Context, chatID int64, question string, answers []string, multiple bool, replyTo int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	poll := tgbotapi.NewPoll(chatID, question, answers...)
	poll.AllowsMultipleAnswers = multiple
	poll.ReplyToMessageID = replyTo

	sent, err := c.api.Send(poll)
	if err != nil {
		return 0, fmt.Errorf("send poll: %w", err)
	}
	return sent.MessageID, nil
}

// SetButton replaces the inline keyboard of a sent message with a single button.
func (c *Client) SetButton(ctx context.Context, chatID int64, messageID int, b Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, keyboard(b))
	if _, err := c.api.Request(edit); err != nil {
		return fmt.Errorf("edit message %d buttons: %w", messageID, err)
	}
	return nil
}

// ClearButtons removes the inline keyboard of a sent message.
func (c *Client) ClearButtons(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, empty)
	if _, err := c.api.Request(edit); err != nil {
		return fmt.Errorf("clear message %d buttons: %w", messageID, err)
	}
	return nil
}

// Permalink returns the public link of a channel message: t.me/<username>/<id> for
// public channels and t.me/c/<id>/<id> for private ones.
func (c *Client) Permalink(ctx context.Context, chatID int64, messageID int) (string, error) {
	username, err := c.username(ctx, chatID)
	if err != nil {
		return "", err
	}
	if username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID), nil
	}
	internal := strings.TrimPrefix(strconv.FormatInt(chatID, 10), "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID), nil
}

func (c *Client) username(ctx context.Context, chatID int64) (string, error) {
	c.mu.Lock()
	name, ok := c.usernames[chatID]
	c.mu.Unlock()
	if ok {
		return name, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat, err := c.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat.Type != "channel" {
		c.logger.Warn("chat is not a channel", "chat_id", chatID, "type", chat.Type)
	}

	c.mu.Lock()
	c.usernames[chatID] = chat.UserName
	c.mu.Unlock()
	return chat.UserName, nil
}

// SendPlain sends an unformatted text message with optional inline buttons in one row.
func (c *Client) SendPlain(ctx context.Context, chatID int64, text string, buttons ...Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if len(buttons) > 0 {
		msg.ReplyMarkup = keyboard(buttons...)
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// AnswerCallback acknowledges a button press, optionally as an alert.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := c.api.Request(cfg); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// CanPost reports whether userID may publish to the channel.
func (c *Client) CanPost(ctx context.Context, channelID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: channelID, UserID: userID},
	})
	if err != nil {
		return false, fmt.Errorf("get chat member %d: %w", userID, err)
	}
	switch member.Status {
	case "creator":
		return true, nil
	case "administrator":
		return member.CanPostMessages, nil
	default:
		return false, nil
	}
}

func inputMedia(m Media) interface{} {
	file := tgbotapi.FilePath(m.Path)
	switch m.Kind {
	case Video:
		v := tgbotapi.NewInputMediaVideo(file)
		v.Caption, v.CaptionEntities = m.Caption.Text, entities(m.Caption.Entities)
		v.SupportsStreaming = true
		return v
	case Audio:
		a := tgbotapi.NewInputMediaAudio(file)
		a.Caption, a.CaptionEntities = m.Caption.Text, entities(m.Caption.Entities)
		a.Performer, a.Title, a.Duration = m.Performer, m.Title, m.Duration
		return a
	case Document:
		d := tgbotapi.NewInputMediaDocument(file)
		d.Caption, d.CaptionEntities = m.Caption.Text, entities(m.Caption.Entities)
		return d
	default:
		p := tgbotapi.NewInputMediaPhoto(file)
		p.Caption, p.CaptionEntities = m.Caption.Text, entities(m.Caption.Entities)
		return p
	}
}

func entities(in []markup.Entity) []tgbotapi.MessageEntity {
	if len(in) == 0 {
		return nil
	}
	out := make([]tgbotapi.MessageEntity, len(in))
	for i, e := range in {
		out[i] = tgbotapi.MessageEntity{
			Type:   string(e.Type),
			Offset: e.Offset,
			Length: e.Length,
			URL:    e.URL,
		}
	}
	return out
}

func keyboard(buttons ...Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, len(buttons))
	for i, b := range buttons {
		if b.URL != "" {
			row[i] = tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL)
		} else {
			row[i] = tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// optionalKeyboard returns nil for a nil button so no empty keyboard is sent.
func optionalKeyboard(b *Button) interface{} {
	if b == nil {
		return nil
	}
	return keyboard(*b)
}
