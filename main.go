package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/urfave/cli/v2"

	"vk-telegram-mirror/bot"
	"vk-telegram-mirror/config"
	"vk-telegram-mirror/delivery"
	"vk-telegram-mirror/scheduler"
	"vk-telegram-mirror/webhook"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "vk2tg",
		Usage:   "Mirror VK wall posts and playlists to Telegram channels",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   config.GetConfigPath(),
			},
		},
		Commands: []*cli.Command{
			workerCommand(),
			receiverCommand(),
			botCommand(),
			forwardCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Work forwarding jobs from the queue and run maintenance",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := newApp(c.String("config"))
			if err != nil {
				return err
			}
			defer app.Close()

			q, err := app.openQueue(ctx, true)
			if err != nil {
				return err
			}
			defer q.Close()

			sched, err := scheduler.NewScheduler(app.cfg.Timezone, app.logger)
			if err != nil {
				return err
			}
			if err := sched.Schedule("prune", app.cfg.MaintenanceTime, func() {
				app.prune(context.Background())
			}); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			if err := q.Start(ctx, app.runner(q)); err != nil {
				return err
			}
			<-ctx.Done()

			slog.Info("stopping worker")
			stopCtx, stop := context.WithTimeout(context.Background(), app.cfg.JobTimeout())
			defer stop()
			return q.Stop(stopCtx)
		},
	}
}

func receiverCommand() *cli.Command {
	return &cli.Command{
		Name:  "receiver",
		Usage: "Serve the VK Callback API and queue new wall posts",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := newApp(c.String("config"))
			if err != nil {
				return err
			}
			defer app.Close()

			if app.cfg.GroupID == 0 {
				return fmt.Errorf("group_id is required for the receiver")
			}

			q, err := app.openQueue(ctx, false)
			if err != nil {
				return err
			}
			defer q.Close()

			server := webhook.NewServer(app.cfg.WebhookAddr, app.cfg.GroupID, app.vk, q,
				webhook.WithSecret(app.cfg.WebhookSecret),
				webhook.WithIgnoreAds(app.cfg.IgnoreAds),
				webhook.WithSettings(app.db),
				webhook.WithTasks(app.db),
				webhook.WithLogger(app.logger),
			)
			return server.Start(ctx)
		},
	}
}

func botCommand() *cli.Command {
	return &cli.Command{
		Name:  "bot",
		Usage: "Answer channel admins who queue posts and playlists by hand",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := newApp(c.String("config"))
			if err != nil {
				return err
			}
			defer app.Close()

			q, err := app.openQueue(ctx, false)
			if err != nil {
				return err
			}
			defer q.Close()

			posts, playlists := app.factories()
			opts := []bot.Option{bot.WithLogger(app.logger)}
			if app.cfg.PlaylistsEnabled() {
				opts = append(opts, bot.WithPlaylists(playlists))
			}
			handler := bot.NewHandler(app.tg, app.db, app.db, q, posts, app.cfg.ChannelID, app.texts, opts...)

			u := tgbotapi.NewUpdate(0)
			u.Timeout = 60
			u.AllowedUpdates = []string{"message", "callback_query"}
			updates := app.api.GetUpdatesChan(u)

			slog.Info("starting bot polling", "username", app.api.Self.UserName)
			handler.Run(ctx, updates)
			app.api.StopReceivingUpdates()
			slog.Info("bot stopped")
			return nil
		},
	}
}

func forwardCommand() *cli.Command {
	return &cli.Command{
		Name:      "forward",
		Usage:     "Forward posts or playlists right away, bypassing the queue",
		ArgsUsage: "LINK...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one VK link is required")
			}

			ctx, cancel := signalContext()
			defer cancel()

			app, err := newApp(c.String("config"))
			if err != nil {
				return err
			}
			defer app.Close()

			// Playlist teasers still hand off to the queue when there is one.
			var dispatcher delivery.PlaylistDispatcher
			if app.cfg.DatabaseURL != "" {
				q, err := app.openQueue(ctx, false)
				if err != nil {
					return err
				}
				defer q.Close()
				dispatcher = q
			}
			runner := app.runner(dispatcher)

			for _, arg := range c.Args().Slice() {
				link, ok := bot.ParseLink(arg)
				if !ok {
					return fmt.Errorf("not a VK post or playlist link: %q", arg)
				}
				permalink, reason, err := app.forward(ctx, runner, link)
				if err != nil {
					return fmt.Errorf("forward %s: %w", arg, err)
				}
				if reason != "" {
					slog.Warn("skipped", "link", arg, "reason", reason)
					continue
				}
				fmt.Fprintln(c.App.Writer, permalink)
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the job queue schema in PostgreSQL",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := newApp(c.String("config"))
			if err != nil {
				return err
			}
			defer app.Close()

			q, err := app.openQueue(ctx, false)
			if err != nil {
				return err
			}
			defer q.Close()
			return q.Migrate(ctx)
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// prune forgets finished tasks and idle bot conversations.
func (a *App) prune(ctx context.Context) {
	started := time.Now()
	tasks, err := a.db.PruneTasks(ctx, a.cfg.Retention())
	if err != nil {
		a.logger.Error("failed to prune tasks", "error", err)
	}
	sessions, err := a.db.PruneSessions(ctx, a.cfg.SessionTTL())
	if err != nil {
		a.logger.Error("failed to prune sessions", "error", err)
	}
	a.logger.Info("maintenance finished", "tasks", tasks, "sessions", sessions, "duration", time.Since(started))
}
