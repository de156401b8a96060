// Package queue runs forwarding tasks as River jobs on PostgreSQL.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/delivery"
	"vk-telegram-mirror/pipeline"
	"vk-telegram-mirror/storage"
)

const (
	WallQueue     = "wall"
	PlaylistQueue = "playlist"
)

// A job stays unique while it is in any of these states.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// ForwardWallArgs are the arguments of a wall post job.
type ForwardWallArgs struct {
	OwnerID int `json:"owner_id"`
	PostID  int `json:"post_id"`
}

// Kind returns the job kind for River.
func (ForwardWallArgs) Kind() string {
	return "forward_wall"
}

// ForwardPlaylistArgs are the arguments of a playlist job. The reply fields point at the
// teaser in the main channel, if any.
type ForwardPlaylistArgs struct {
	OwnerID        int    `json:"owner_id"`
	PlaylistID     int    `json:"playlist_id"`
	AccessKey      string `json:"access_key,omitempty"`
	ReplyChatID    int64  `json:"reply_chat_id,omitempty"`
	ReplyMessageID int    `json:"reply_message_id,omitempty"`
}

// Kind returns the job kind for River.
func (ForwardPlaylistArgs) Kind() string {
	return "forward_playlist"
}

func (a ForwardPlaylistArgs) request() delivery.PlaylistRequest {
	req := delivery.PlaylistRequest{OwnerID: a.OwnerID, PlaylistID: a.PlaylistID, AccessKey: a.AccessKey}
	if a.ReplyChatID != 0 {
		req.Origin = &delivery.Origin{ChatID: a.ReplyChatID, MessageID: a.ReplyMessageID}
	}
	return req
}

func playlistArgs(req delivery.PlaylistRequest) ForwardPlaylistArgs {
	args := ForwardPlaylistArgs{OwnerID: req.OwnerID, PlaylistID: req.PlaylistID, AccessKey: req.AccessKey}
	if req.Origin != nil {
		args.ReplyChatID = req.Origin.ChatID
		args.ReplyMessageID = req.Origin.MessageID
	}
	return args
}

// Forwarder runs forwarding tasks.
type Forwarder interface {
	ForwardWall(ctx context.Context, ownerID, postID int) (string, content.SkipReason, error)
	ForwardPlaylist(ctx context.Context, req delivery.PlaylistRequest) (string, content.SkipReason, error)
}

// Tracker keeps the dedupe status of tasks.
type Tracker interface {
	ReserveTask(ctx context.Context, kind storage.TaskKind, ownerID, itemID int) (bool, error)
	SetTaskStatus(ctx context.Context, kind storage.TaskKind, ownerID, itemID int, status storage.TaskStatus) error
}

type inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Queue enqueues forwarding jobs and, when started, works them.
type Queue struct {
	client    *river.Client[pgx.Tx]
	inserter  inserter
	pool      *pgxpool.Pool
	tracker   Tracker
	forwarder Forwarder
	logger    *slog.Logger

	wallWorkers     int
	playlistWorkers int
	maxAttempts     int
	jobTimeout      time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers enables job processing with the given number of workers per queue.
func WithWorkers(wall, playlist int) Option {
	return func(q *Queue) {
		q.wallWorkers = wall
		q.playlistWorkers = playlist
	}
}

// WithMaxAttempts sets how many times a failing job is tried.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		q.maxAttempts = n
	}
}

// WithJobTimeout sets how long one job may run.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.jobTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New connects to PostgreSQL and creates the River client. Without WithWorkers the
// client only inserts jobs.
func New(ctx context.Context, databaseURL string, tracker Tracker, opts ...Option) (*Queue, error) {
	q := &Queue{
		tracker:     tracker,
		logger:      slog.Default(),
		maxAttempts: 3,
		jobTimeout:  30 * time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &wallWorker{q: q})
	river.AddWorker(workers, &playlistWorker{q: q})

	config := &river.Config{
		Workers:    workers,
		JobTimeout: q.jobTimeout,
		Logger:     q.logger,
	}
	if q.wallWorkers > 0 || q.playlistWorkers > 0 {
		config.Queues = map[string]river.QueueConfig{
			WallQueue:     {MaxWorkers: max(q.wallWorkers, 1)},
			PlaylistQueue: {MaxWorkers: max(q.playlistWorkers, 1)},
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), config)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}

	q.client = client
	q.inserter = client
	q.pool = pool
	return q, nil
}

// Migrate brings the River schema up to date.
func (q *Queue) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(q.pool), nil)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}
	for _, v := range res.Versions {
		q.logger.Info("applied migration", "version", v.Version, "name", v.Name)
	}
	return nil
}

// Start begins working jobs with f. It requires WithWorkers.
func (q *Queue) Start(ctx context.Context, f Forwarder) error {
	q.forwarder = f
	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	q.logger.Info("queue started", "wall_workers", q.wallWorkers, "playlist_workers", q.playlistWorkers)
	return nil
}

// Stop waits for running jobs to finish.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// Close releases the connection pool.
func (q *Queue) Close() {
	q.pool.Close()
}

// EnqueueWall queues a wall post. It reports false without error when the post is
// already queued or running; force queues it anyway.
func (q *Queue) EnqueueWall(ctx context.Context, ownerID, postID int, force bool) (bool, error) {
	args := ForwardWallArgs{OwnerID: ownerID, PostID: postID}
	return q.enqueue(ctx, storage.WallTask, ownerID, postID, args, WallQueue, force)
}

// EnqueuePlaylist queues a playlist. It reports false without error when the playlist
// is already queued or running; force queues it anyway.
func (q *Queue) EnqueuePlaylist(ctx context.Context, req delivery.PlaylistRequest, force bool) (bool, error) {
	return q.enqueue(ctx, storage.PlaylistTask, req.OwnerID, req.PlaylistID, playlistArgs(req), PlaylistQueue, force)
}

// DispatchPlaylist queues the playlist announced by a teaser. The teaser waits for it,
// so the job is inserted even if the same playlist is already queued.
func (q *Queue) DispatchPlaylist(ctx context.Context, req delivery.PlaylistRequest) error {
	_, err := q.EnqueuePlaylist(ctx, req, true)
	return err
}

func (q *Queue) enqueue(ctx context.Context, kind storage.TaskKind, ownerID, itemID int, args river.JobArgs, queue string, force bool) (bool, error) {
	logger := q.logger.With("kind", kind, "owner_id", ownerID, "item_id", itemID)

	if force {
		if err := q.tracker.SetTaskStatus(ctx, kind, ownerID, itemID, storage.Queued); err != nil {
			return false, fmt.Errorf("mark task queued: %w", err)
		}
	} else {
		ok, err := q.tracker.ReserveTask(ctx, kind, ownerID, itemID)
		if err != nil {
			return false, err
		}
		if !ok {
			logger.Info("task already queued or running")
			return false, nil
		}
	}

	opts := &river.InsertOpts{Queue: queue, MaxAttempts: q.maxAttempts}
	if !force {
		opts.UniqueOpts = river.UniqueOpts{ByArgs: true, ByState: uniqueStates}
	}

	res, err := q.inserter.Insert(ctx, args, opts)
	if err != nil {
		q.setStatus(ctx, logger, kind, ownerID, itemID, storage.Done)
		return false, fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}
	if res.UniqueSkippedAsDuplicate {
		logger.Info("job already in queue", "job_id", res.Job.ID)
		return false, nil
	}

	logger.Info("task queued", "job_id", res.Job.ID, "forced", force)
	return true, nil
}

// run wraps one attempt of a job with task status bookkeeping. Skips finish the task;
// errors leave it queued until the last attempt.
func (q *Queue) run(ctx context.Context, job *rivertype.JobRow, kind storage.TaskKind, ownerID, itemID int, fn func(context.Context) (content.SkipReason, error)) error {
	logger := q.logger.With("kind", kind, "owner_id", ownerID, "item_id", itemID, "attempt", job.Attempt)
	q.setStatus(ctx, logger, kind, ownerID, itemID, storage.Running)

	reason, err := fn(ctx)
	switch {
	case err == nil:
		if reason != "" {
			logger.Warn("task skipped", "reason", reason)
		}
		q.setStatus(ctx, logger, kind, ownerID, itemID, storage.Done)
		return nil

	case errors.Is(err, pipeline.ErrPlaylistsDisabled):
		logger.Error("task cancelled", "error", err)
		q.setStatus(ctx, logger, kind, ownerID, itemID, storage.Done)
		return river.JobCancel(err)

	case job.Attempt >= job.MaxAttempts:
		logger.Error("task failed", "error", err)
		q.setStatus(ctx, logger, kind, ownerID, itemID, storage.Done)
		return err

	default:
		logger.Warn("task failed, will retry", "error", err)
		q.setStatus(ctx, logger, kind, ownerID, itemID, storage.Queued)
		return err
	}
}

func (q *Queue) setStatus(ctx context.Context, logger *slog.Logger, kind storage.TaskKind, ownerID, itemID int, status storage.TaskStatus) {
	if err := q.tracker.SetTaskStatus(ctx, kind, ownerID, itemID, status); err != nil {
		logger.Warn("failed to update task status", "status", status, "error", err)
	}
}

type wallWorker struct {
	river.WorkerDefaults[ForwardWallArgs]
	q *Queue
}

func (w *wallWorker) Work(ctx context.Context, job *river.Job[ForwardWallArgs]) error {
	a := job.Args
	return w.q.run(ctx, job.JobRow, storage.WallTask, a.OwnerID, a.PostID, func(ctx context.Context) (content.SkipReason, error) {
		_, reason, err := w.q.forwarder.ForwardWall(ctx, a.OwnerID, a.PostID)
		return reason, err
	})
}

type playlistWorker struct {
	river.WorkerDefaults[ForwardPlaylistArgs]
	q *Queue
}

func (w *playlistWorker) Work(ctx context.Context, job *river.Job[ForwardPlaylistArgs]) error {
	a := job.Args
	return w.q.run(ctx, job.JobRow, storage.PlaylistTask, a.OwnerID, a.PlaylistID, func(ctx context.Context) (content.SkipReason, error) {
		_, reason, err := w.q.forwarder.ForwardPlaylist(ctx, a.request())
		return reason, err
	})
}
