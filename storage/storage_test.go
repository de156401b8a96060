package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewDB(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	// Verify tables exist by querying them
	ctx := context.Background()
	for _, table := range []string{"tasks", "sessions", "settings"} {
		if _, err := db.conn.ExecContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1"); err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}
}

func TestNewDBReopensExistingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	if err := db.SetTaskStatus(ctx, WallTask, -1, 2, Running); err != nil {
		t.Fatalf("SetTaskStatus failed: %v", err)
	}
	db.Close()

	db, err = NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB (reopen) failed: %v", err)
	}
	defer db.Close()

	task, err := db.GetTask(ctx, WallTask, -1, 2)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != Running {
		t.Errorf("status = %q, want %q", task.Status, Running)
	}
}

func TestReserveTask(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	// First reservation wins
	ok, err := db.ReserveTask(ctx, WallTask, -1, 10)
	if err != nil {
		t.Fatalf("ReserveTask failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first reservation to succeed")
	}

	// Queued task cannot be reserved again
	ok, _ = db.ReserveTask(ctx, WallTask, -1, 10)
	if ok {
		t.Error("expected reservation of queued task to fail")
	}

	// Running task cannot be reserved either
	if err := db.SetTaskStatus(ctx, WallTask, -1, 10, Running); err != nil {
		t.Fatalf("SetTaskStatus failed: %v", err)
	}
	ok, _ = db.ReserveTask(ctx, WallTask, -1, 10)
	if ok {
		t.Error("expected reservation of running task to fail")
	}

	// Done task can be reserved again
	if err := db.SetTaskStatus(ctx, WallTask, -1, 10, Done); err != nil {
		t.Fatalf("SetTaskStatus failed: %v", err)
	}
	ok, _ = db.ReserveTask(ctx, WallTask, -1, 10)
	if !ok {
		t.Error("expected reservation of done task to succeed")
	}

	task, _ := db.GetTask(ctx, WallTask, -1, 10)
	if task.Status != Queued {
		t.Errorf("status = %q, want %q", task.Status, Queued)
	}
}

func TestReserveTaskKeysByKind(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	if ok, _ := db.ReserveTask(ctx, WallTask, -1, 10); !ok {
		t.Fatal("expected wall reservation to succeed")
	}
	if ok, _ := db.ReserveTask(ctx, PlaylistTask, -1, 10); !ok {
		t.Error("expected playlist with the same IDs to be a separate task")
	}
	if ok, _ := db.ReserveTask(ctx, WallTask, -1, 11); !ok {
		t.Error("expected another post to be a separate task")
	}
}

func TestReserveTaskConcurrent(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.ReserveTask(ctx, WallTask, -5, 99)
			if err != nil {
				t.Errorf("ReserveTask failed: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}

func TestIsQueuedOrRunning(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	busy, err := db.IsQueuedOrRunning(ctx, PlaylistTask, 1, 2)
	if err != nil {
		t.Fatalf("IsQueuedOrRunning failed: %v", err)
	}
	if busy {
		t.Error("expected unknown task not to be busy")
	}

	for _, tc := range []struct {
		status TaskStatus
		want   bool
	}{
		{Queued, true},
		{Running, true},
		{Done, false},
	} {
		if err := db.SetTaskStatus(ctx, PlaylistTask, 1, 2, tc.status); err != nil {
			t.Fatalf("SetTaskStatus failed: %v", err)
		}
		busy, _ := db.IsQueuedOrRunning(ctx, PlaylistTask, 1, 2)
		if busy != tc.want {
			t.Errorf("status %q: busy = %v, want %v", tc.status, busy, tc.want)
		}
	}
}

func TestGetTaskNotFound(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	_, err := db.GetTask(context.Background(), WallTask, 1, 1)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestPruneTasks(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	db.now = func() time.Time { return now.Add(-72 * time.Hour) }
	db.SetTaskStatus(ctx, WallTask, 1, 1, Done)
	db.SetTaskStatus(ctx, WallTask, 1, 2, Running)

	db.now = func() time.Time { return now }
	db.SetTaskStatus(ctx, WallTask, 1, 3, Done)

	n, err := db.PruneTasks(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneTasks failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	if _, err := db.GetTask(ctx, WallTask, 1, 1); err != ErrNotFound {
		t.Errorf("expected old done task to be pruned, got: %v", err)
	}
	if _, err := db.GetTask(ctx, WallTask, 1, 2); err != nil {
		t.Errorf("expected old running task to be kept, got: %v", err)
	}
	if _, err := db.GetTask(ctx, WallTask, 1, 3); err != nil {
		t.Errorf("expected recent done task to be kept, got: %v", err)
	}
}

func TestSessionOperations(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	// Get non-existent session
	_, err := db.GetSession(ctx, 42)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown session, got: %v", err)
	}

	// Save session
	if err := db.SaveSession(ctx, &Session{UserID: 42, State: "waiting_for_link"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	s, err := db.GetSession(ctx, 42)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.State != "waiting_for_link" || s.Payload != "" {
		t.Errorf("session = %+v, want waiting_for_link without payload", s)
	}

	// Update session
	if err := db.SaveSession(ctx, &Session{UserID: 42, State: "waiting_for_choice", Payload: `{"kind":"wall"}`}); err != nil {
		t.Fatalf("SaveSession (update) failed: %v", err)
	}
	s, _ = db.GetSession(ctx, 42)
	if s.State != "waiting_for_choice" || s.Payload != `{"kind":"wall"}` {
		t.Errorf("session = %+v after update", s)
	}

	// Delete session, twice
	for range 2 {
		if err := db.DeleteSession(ctx, 42); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}
	}
	if _, err := db.GetSession(ctx, 42); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestPruneSessions(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	now := time.Now()
	db.now = func() time.Time { return now.Add(-2 * time.Hour) }
	db.SaveSession(ctx, &Session{UserID: 1, State: "waiting_for_link"})

	db.now = func() time.Time { return now }
	db.SaveSession(ctx, &Session{UserID: 2, State: "waiting_for_link"})

	n, err := db.PruneSessions(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, err := db.GetSession(ctx, 2); err != nil {
		t.Errorf("expected recent session to be kept, got: %v", err)
	}
}

func TestSettingsOperations(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()
	ctx := context.Background()

	// Get non-existent setting
	_, err := db.GetSetting(ctx, "unknown")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown setting, got: %v", err)
	}

	// Set setting
	if err := db.SetSetting(ctx, "confirmation_code", "abc"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	val, err := db.GetSetting(ctx, "confirmation_code")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if val != "abc" {
		t.Errorf("value = %q, want 'abc'", val)
	}

	// Update setting
	if err := db.SetSetting(ctx, "confirmation_code", "def"); err != nil {
		t.Fatalf("SetSetting (update) failed: %v", err)
	}

	val, _ = db.GetSetting(ctx, "confirmation_code")
	if val != "def" {
		t.Errorf("value = %q, want 'def'", val)
	}
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	return db
}
