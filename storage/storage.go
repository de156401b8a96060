package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// TaskKind names what a task forwards.
type TaskKind string

const (
	WallTask     TaskKind = "wall"
	PlaylistTask TaskKind = "playlist"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	Queued  TaskStatus = "queued"
	Running TaskStatus = "running"
	Done    TaskStatus = "done"
)

// Task is the dedupe record of one forwarded item, keyed by kind, owner and item ID.
type Task struct {
	Kind      TaskKind
	OwnerID   int
	ItemID    int
	Status    TaskStatus
	UpdatedAt time.Time
}

// Session is the conversation state of one bot user.
type Session struct {
	UserID    int64
	State     string
	Payload   string
	UpdatedAt time.Time
}

// DB wraps the SQLite database connection and provides storage operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers, which makes ReserveTask atomic across goroutines.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, now: time.Now}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		kind TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		item_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (kind, owner_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id INTEGER PRIMARY KEY,
		state TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// ReserveTask marks the task queued unless it is already queued or running. It reports
// whether the caller won the reservation and should enqueue the job.
func (db *DB) ReserveTask(ctx context.Context, kind TaskKind, ownerID, itemID int) (bool, error) {
	query := `
	INSERT INTO tasks (kind, owner_id, item_id, status, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(kind, owner_id, item_id) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at
	WHERE tasks.status = ?
	`
	res, err := db.conn.ExecContext(ctx, query, kind, ownerID, itemID, Queued, db.now().Unix(), Done)
	if err != nil {
		return false, fmt.Errorf("reserve task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve task: %w", err)
	}
	return n == 1, nil
}

// SetTaskStatus stores the status of a task, creating the record if needed.
func (db *DB) SetTaskStatus(ctx context.Context, kind TaskKind, ownerID, itemID int, status TaskStatus) error {
	query := `
	INSERT INTO tasks (kind, owner_id, item_id, status, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(kind, owner_id, item_id) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, kind, ownerID, itemID, status, db.now().Unix())
	return err
}

// GetTask retrieves a task record.
func (db *DB) GetTask(ctx context.Context, kind TaskKind, ownerID, itemID int) (*Task, error) {
	query := `
	SELECT kind, owner_id, item_id, status, updated_at
	FROM tasks WHERE kind = ? AND owner_id = ? AND item_id = ?
	`

	task := &Task{}
	var updatedAt int64
	err := db.conn.QueryRowContext(ctx, query, kind, ownerID, itemID).Scan(
		&task.Kind,
		&task.OwnerID,
		&task.ItemID,
		&task.Status,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	task.UpdatedAt = time.Unix(updatedAt, 0)
	return task, nil
}

// IsQueuedOrRunning reports whether the task is waiting in the queue or being worked on.
func (db *DB) IsQueuedOrRunning(ctx context.Context, kind TaskKind, ownerID, itemID int) (bool, error) {
	task, err := db.GetTask(ctx, kind, ownerID, itemID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return task.Status != Done, nil
}

// PruneTasks deletes finished tasks not updated within the given duration.
func (db *DB) PruneTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := db.now().Add(-olderThan).Unix()
	query := `DELETE FROM tasks WHERE status = ? AND updated_at < ?`

	res, err := db.conn.ExecContext(ctx, query, Done, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSession retrieves the session of a bot user.
func (db *DB) GetSession(ctx context.Context, userID int64) (*Session, error) {
	query := `SELECT user_id, state, payload, updated_at FROM sessions WHERE user_id = ?`

	s := &Session{}
	var updatedAt int64
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(&s.UserID, &s.State, &s.Payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return s, nil
}

// SaveSession inserts or replaces the session of a bot user.
func (db *DB) SaveSession(ctx context.Context, s *Session) error {
	query := `
	INSERT INTO sessions (user_id, state, payload, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		state = excluded.state,
		payload = excluded.payload,
		updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, s.UserID, s.State, s.Payload, db.now().Unix())
	return err
}

// DeleteSession removes the session of a bot user (idempotent).
func (db *DB) DeleteSession(ctx context.Context, userID int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

// PruneSessions deletes sessions idle for longer than the given duration.
func (db *DB) PruneSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := db.now().Add(-olderThan).Unix()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSetting retrieves a setting value by key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	var value string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.conn.ExecContext(ctx, query, key, value)
	return err
}
