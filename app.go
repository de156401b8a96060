package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vk-telegram-mirror/bot"
	"vk-telegram-mirror/config"
	"vk-telegram-mirror/content"
	"vk-telegram-mirror/delivery"
	"vk-telegram-mirror/downloader"
	"vk-telegram-mirror/linkpreview"
	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/pipeline"
	"vk-telegram-mirror/queue"
	"vk-telegram-mirror/storage"
	"vk-telegram-mirror/telegram"
	"vk-telegram-mirror/vk"
)

var errNoDatabase = errors.New("database_url is required for this command")

// App holds the dependencies shared by all commands.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	texts    locale.Strings
	db       *storage.DB
	vk       *vk.Client
	fallback *vk.Client
	api      *tgbotapi.BotAPI
	tg       *telegram.Client
}

func newApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Info("config loaded", "path", configPath)

	texts, err := locale.For(cfg.Language)
	if err != nil {
		return nil, err
	}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database %s: %w", cfg.DBPath, err)
	}
	slog.Info("database initialized", "path", cfg.DBPath)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	slog.Info("telegram bot initialized", "username", api.Self.UserName)

	vkOpts := []vk.Option{vk.WithLanguage(cfg.Language)}
	if cfg.VKAPIVersion != "" {
		vkOpts = append(vkOpts, vk.WithVersion(cfg.VKAPIVersion))
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		texts:  texts,
		db:     db,
		vk:     vk.NewClient(cfg.VKToken, vkOpts...),
		api:    api,
		tg:     telegram.NewClient(api, telegram.WithLogger(logger)),
	}
	if cfg.VKFallbackToken != "" {
		a.fallback = vk.NewClient(cfg.VKFallbackToken, vkOpts...)
	}
	return a, nil
}

// Close releases the database.
func (a *App) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// openQueue connects to the job queue. Only the worker processes jobs.
func (a *App) openQueue(ctx context.Context, work bool) (*queue.Queue, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	opts := []queue.Option{
		queue.WithMaxAttempts(a.cfg.MaxAttempts),
		queue.WithJobTimeout(a.cfg.JobTimeout()),
		queue.WithLogger(a.logger),
	}
	if work {
		opts = append(opts, queue.WithWorkers(a.cfg.WallWorkers, a.cfg.PlaylistWorkers))
	}
	q, err := queue.New(ctx, a.cfg.DatabaseURL, a.db, opts...)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return q, nil
}

// factories builds the content factories. Playlist links are only resolved when a
// playlist channel is configured.
func (a *App) factories() (*content.MessageFactory, *content.PlaylistFactory) {
	playlists := content.NewPlaylistFactory(a.vk, a.vk, a.texts, content.WithPlaylistLogger(a.logger))

	opts := []content.FactoryOption{
		content.WithIgnoreAds(a.cfg.IgnoreAds),
		content.WithTitleResolver(linkpreview.NewResolver()),
		content.WithFactoryLogger(a.logger),
	}
	if a.fallback != nil {
		opts = append(opts, content.WithFallbackVideos(a.fallback))
	}
	if a.cfg.PlaylistsEnabled() {
		opts = append(opts, content.WithPlaylists(playlists))
	}
	return content.NewMessageFactory(a.vk, a.texts, opts...), playlists
}

// runner wires the forwarding pipeline. Teasers get a button and a follow-up job only
// when dispatcher is set.
func (a *App) runner(dispatcher delivery.PlaylistDispatcher) *pipeline.Runner {
	dlOpts := []downloader.Option{
		downloader.WithDir(a.cfg.DownloadDir),
		downloader.WithConcurrency(a.cfg.DownloadConcurrency),
		downloader.WithTimeout(a.cfg.DownloadTimeout()),
		downloader.WithFFmpeg(a.cfg.FFmpegPath),
		downloader.WithLogger(a.logger),
	}
	if a.fallback != nil {
		dlOpts = append(dlOpts, downloader.WithFallbackAudios(a.fallback))
	}
	sessions := sessionOpener{downloader.New(dlOpts...)}

	limits := content.Limits{Message: a.cfg.MessageLimit, Caption: a.cfg.CaptionLimit}
	deliveryOpts := []delivery.Option{
		delivery.WithLimits(limits),
		delivery.WithLogger(a.logger),
	}

	posts, playlists := a.factories()
	runnerOpts := []pipeline.Option{pipeline.WithLogger(a.logger)}
	if a.cfg.PlaylistsEnabled() {
		playlistEngine := delivery.NewPlaylistEngine(a.tg, sessions, a.cfg.PlaylistChannelID, a.texts, deliveryOpts...)
		runnerOpts = append(runnerOpts, pipeline.WithPlaylists(playlists, playlistEngine))
		if dispatcher != nil {
			deliveryOpts = append(deliveryOpts, delivery.WithPlaylistDispatcher(dispatcher))
		}
	}

	engine := delivery.NewEngine(a.tg, sessions, a.cfg.ChannelID, a.texts, deliveryOpts...)
	return pipeline.NewRunner(posts, engine, runnerOpts...)
}

// forward runs one link through the pipeline synchronously.
func (a *App) forward(ctx context.Context, runner *pipeline.Runner, link bot.Link) (string, content.SkipReason, error) {
	if link.Kind == storage.PlaylistTask {
		return runner.ForwardPlaylist(ctx, delivery.PlaylistRequest{
			OwnerID:    link.OwnerID,
			PlaylistID: link.ItemID,
			AccessKey:  link.AccessKey,
		})
	}
	return runner.ForwardWall(ctx, link.OwnerID, link.ItemID)
}

// sessionOpener adapts *downloader.Downloader to delivery.Downloader.
type sessionOpener struct {
	d *downloader.Downloader
}

func (o sessionOpener) NewSession() (delivery.Session, error) {
	s, err := o.d.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
