package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vk-telegram-mirror/content"
	"vk-telegram-mirror/delivery"
	"vk-telegram-mirror/locale"
	"vk-telegram-mirror/storage"
	"vk-telegram-mirror/telegram"
)

const (
	testUser    int64 = 777
	testChannel int64 = -1001
)

// Mock implementations for testing

type sentMessage struct {
	chatID  int64
	text    string
	buttons []telegram.Button
}

type answer struct {
	id    string
	text  string
	alert bool
}

type mockMessenger struct {
	sent       []sentMessage
	answers    []answer
	cleared    []int
	denied     bool
	permErr    error
	permChecks int
	nextID     int
}

func (m *mockMessenger) SendPlain(ctx context.Context, chatID int64, text string, buttons ...telegram.Button) (int, error) {
	m.sent = append(m.sent, sentMessage{chatID, text, buttons})
	m.nextID++
	return 100 + m.nextID, nil
}

func (m *mockMessenger) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	m.answers = append(m.answers, answer{callbackID, text, alert})
	return nil
}

func (m *mockMessenger) ClearButtons(ctx context.Context, chatID int64, messageID int) error {
	m.cleared = append(m.cleared, messageID)
	return nil
}

func (m *mockMessenger) CanPost(ctx context.Context, channelID, userID int64) (bool, error) {
	m.permChecks++
	if m.permErr != nil {
		return false, m.permErr
	}
	return !m.denied, nil
}

func (m *mockMessenger) texts() []string {
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.text
	}
	return out
}

func (m *mockMessenger) last() sentMessage {
	return m.sent[len(m.sent)-1]
}

type mockSessions map[int64]*storage.Session

func (m mockSessions) GetSession(ctx context.Context, userID int64) (*storage.Session, error) {
	s, ok := m[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

func (m mockSessions) SaveSession(ctx context.Context, s *storage.Session) error {
	m[s.UserID] = s
	return nil
}

func (m mockSessions) DeleteSession(ctx context.Context, userID int64) error {
	delete(m, userID)
	return nil
}

type mockTasks map[Link]storage.TaskStatus

func (m mockTasks) GetTask(ctx context.Context, kind storage.TaskKind, ownerID, itemID int) (*storage.Task, error) {
	status, ok := m[Link{Kind: kind, OwnerID: ownerID, ItemID: itemID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Task{Kind: kind, OwnerID: ownerID, ItemID: itemID, Status: status}, nil
}

type enqueued struct {
	link  Link
	force bool
}

type mockEnqueuer struct {
	jobs      []enqueued
	duplicate bool
	err       error
}

func (m *mockEnqueuer) EnqueueWall(ctx context.Context, ownerID, postID int, force bool) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.jobs = append(m.jobs, enqueued{Link{Kind: storage.WallTask, OwnerID: ownerID, ItemID: postID}, force})
	return !m.duplicate, nil
}

func (m *mockEnqueuer) EnqueuePlaylist(ctx context.Context, req delivery.PlaylistRequest, force bool) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	link := Link{Kind: storage.PlaylistTask, OwnerID: req.OwnerID, ItemID: req.PlaylistID, AccessKey: req.AccessKey}
	m.jobs = append(m.jobs, enqueued{link, force})
	return !m.duplicate, nil
}

type mockPosts struct {
	reason content.SkipReason
	err    error
}

func (m *mockPosts) Check(ctx context.Context, ownerID, postID int) (content.SkipReason, error) {
	return m.reason, m.err
}

type mockPlaylists struct {
	reason    content.SkipReason
	err       error
	accessKey string
}

func (m *mockPlaylists) Build(ctx context.Context, ownerID, playlistID int, accessKey string, withAudios bool) (*content.Playlist, content.SkipReason, error) {
	m.accessKey = accessKey
	if m.err != nil || m.reason != "" {
		return nil, m.reason, m.err
	}
	return &content.Playlist{}, "", nil
}

type fixture struct {
	messenger *mockMessenger
	sessions  mockSessions
	tasks     mockTasks
	enqueuer  *mockEnqueuer
	posts     *mockPosts
	playlists *mockPlaylists
	texts     locale.Strings
	handler   *Handler
}

func newFixture(t *testing.T, withPlaylists bool) *fixture {
	t.Helper()
	texts, err := locale.For("en")
	if err != nil {
		t.Fatalf("locale.For failed: %v", err)
	}
	f := &fixture{
		messenger: &mockMessenger{},
		sessions:  mockSessions{},
		tasks:     mockTasks{},
		enqueuer:  &mockEnqueuer{},
		posts:     &mockPosts{},
		playlists: &mockPlaylists{},
		texts:     texts,
	}
	opts := []Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	if withPlaylists {
		opts = append(opts, WithPlaylists(f.playlists))
	}
	f.handler = NewHandler(f.messenger, f.sessions, f.tasks, f.enqueuer, f.posts, testChannel, texts, opts...)
	return f
}

func (f *fixture) handle(t *testing.T, update tgbotapi.Update) {
	t.Helper()
	if err := f.handler.HandleUpdate(context.Background(), update); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
}

func privateChat() *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: testUser, Type: "private"}
}

func text(s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: testUser},
		Chat: privateChat(),
		Text: s,
	}}
}

func command(name string) tgbotapi.Update {
	u := text("/" + name)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name) + 1}}
	return u
}

func callback(data string, messageID int) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: testUser},
		Message: &tgbotapi.Message{MessageID: messageID, Chat: privateChat()},
		Data:    data,
	}}
}

func (f *fixture) choice(t *testing.T) choice {
	t.Helper()
	s, ok := f.sessions[testUser]
	if !ok || s.State != WaitingForChoice {
		t.Fatalf("session = %+v, want %s", s, WaitingForChoice)
	}
	var c choice
	if err := json.Unmarshal([]byte(s.Payload), &c); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return c
}

// Tests

func TestStart(t *testing.T) {
	f := newFixture(t, false)

	f.handle(t, command("start"))

	want := []string{f.texts.Hello, f.texts.WaitingForLink}
	if got := f.messenger.texts(); !equal(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
	if f.sessions[testUser].State != WaitingForLink {
		t.Errorf("state = %q, want %q", f.sessions[testUser].State, WaitingForLink)
	}
}

func TestStartWithoutPermission(t *testing.T) {
	f := newFixture(t, false)
	f.messenger.denied = true

	f.handle(t, command("start"))

	want := []string{f.texts.Hello, f.texts.NoPermission}
	if got := f.messenger.texts(); !equal(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
	if _, ok := f.sessions[testUser]; ok {
		t.Error("session should not be created")
	}
}

func TestPermissionCheckFailure(t *testing.T) {
	f := newFixture(t, false)
	f.messenger.permErr = errors.New("chat not found")

	f.handle(t, text("https://vk.com/wall-1_2"))

	want := []string{f.texts.PermissionFailed}
	if got := f.messenger.texts(); !equal(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestIgnoresGroupChats(t *testing.T) {
	f := newFixture(t, false)
	u := text("https://vk.com/wall-1_2")
	u.Message.Chat = &tgbotapi.Chat{ID: -500, Type: "group"}

	f.handle(t, u)

	if len(f.messenger.sent) != 0 || f.messenger.permChecks != 0 {
		t.Errorf("group message should be ignored, sent %q", f.messenger.texts())
	}
}

func TestIncorrectLink(t *testing.T) {
	f := newFixture(t, false)

	f.handle(t, text("hello"))

	want := []string{f.texts.IncorrectLink}
	if got := f.messenger.texts(); !equal(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestWallLinkAsksForConfirmation(t *testing.T) {
	f := newFixture(t, false)

	f.handle(t, text("https://vk.com/wall-1_2"))

	want := []string{f.texts.Searching, f.texts.ConfirmForward}
	if got := f.messenger.texts(); !equal(got, want) {
		t.Fatalf("sent %q, want %q", got, want)
	}
	question := f.messenger.last()
	if len(question.buttons) != 2 || question.buttons[0].Data != confirmData || question.buttons[1].Data != cancelData {
		t.Errorf("buttons = %+v", question.buttons)
	}

	c := f.choice(t)
	if c.Kind != storage.WallTask || c.OwnerID != -1 || c.ItemID != 2 || c.Force {
		t.Errorf("choice = %+v", c)
	}
	if c.MessageID != 102 {
		t.Errorf("choice message = %d, want 102", c.MessageID)
	}
}

func TestWallLinkRejected(t *testing.T) {
	tests := []struct {
		reason content.SkipReason
		want   func(locale.Strings) string
	}{
		{content.NotFound, func(s locale.Strings) string { return s.PostNotFound }},
		{content.IsDonut, func(s locale.Strings) string { return s.PostIsDonut }},
		{content.IsAd, func(s locale.Strings) string { return s.PostIsAd }},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			f := newFixture(t, false)
			f.posts.reason = tt.reason

			f.handle(t, text("vk.com/wall-1_2"))

			if got := f.messenger.last().text; got != tt.want(f.texts) {
				t.Errorf("reply = %q, want %q", got, tt.want(f.texts))
			}
			if _, ok := f.sessions[testUser]; ok {
				t.Error("session should not wait for a choice")
			}
		})
	}
}

func TestLookupFailure(t *testing.T) {
	f := newFixture(t, false)
	f.posts.err = errors.New("vk is down")

	f.handle(t, text("vk.com/wall-1_2"))

	if got := f.messenger.last().text; got != f.texts.LookupFailed {
		t.Errorf("reply = %q, want %q", got, f.texts.LookupFailed)
	}
}

func TestBusyTaskAsksToForce(t *testing.T) {
	tests := []struct {
		status storage.TaskStatus
		want   func(locale.Strings) string
	}{
		{storage.Queued, func(s locale.Strings) string { return s.AlreadyQueued }},
		{storage.Running, func(s locale.Strings) string { return s.AlreadyStarted }},
		{storage.Done, func(s locale.Strings) string { return s.ConfirmForward }},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t, false)
			f.tasks[Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}] = tt.status

			f.handle(t, text("https://m.vk.com/wall-1_2"))

			if got := f.messenger.last().text; got != tt.want(f.texts) {
				t.Errorf("question = %q, want %q", got, tt.want(f.texts))
			}
			if got := f.choice(t).Force; got != (tt.status != storage.Done) {
				t.Errorf("force = %v", got)
			}
		})
	}
}

func TestConfirmEnqueues(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, text("https://vk.com/wall-1_2"))
	msgID := f.choice(t).MessageID

	f.handle(t, callback(confirmData, msgID))

	if len(f.enqueuer.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(f.enqueuer.jobs))
	}
	job := f.enqueuer.jobs[0]
	if job.link != (Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}) || job.force {
		t.Errorf("job = %+v", job)
	}
	if got := f.messenger.last().text; got != f.texts.AddedToQueue {
		t.Errorf("reply = %q, want %q", got, f.texts.AddedToQueue)
	}
	if len(f.messenger.cleared) != 1 || f.messenger.cleared[0] != msgID {
		t.Errorf("cleared = %v, want [%d]", f.messenger.cleared, msgID)
	}
	if _, ok := f.sessions[testUser]; ok {
		t.Error("session should be deleted")
	}
	if len(f.messenger.answers) != 1 {
		t.Errorf("expected the callback to be answered once, got %d", len(f.messenger.answers))
	}
}

func TestConfirmForcesBusyTask(t *testing.T) {
	f := newFixture(t, false)
	f.tasks[Link{Kind: storage.WallTask, OwnerID: -1, ItemID: 2}] = storage.Running
	f.handle(t, text("https://vk.com/wall-1_2"))

	f.handle(t, callback(confirmData, f.choice(t).MessageID))

	if len(f.enqueuer.jobs) != 1 || !f.enqueuer.jobs[0].force {
		t.Errorf("jobs = %+v, want one forced job", f.enqueuer.jobs)
	}
}

func TestConfirmDuplicateAsksAgain(t *testing.T) {
	f := newFixture(t, false)
	f.enqueuer.duplicate = true
	f.handle(t, text("https://vk.com/wall-1_2"))

	f.handle(t, callback(confirmData, f.choice(t).MessageID))

	if got := f.messenger.last().text; got != f.texts.AlreadyQueued {
		t.Errorf("reply = %q, want %q", got, f.texts.AlreadyQueued)
	}
	if !f.choice(t).Force {
		t.Error("second question should force")
	}
}

func TestConfirmEnqueueFailure(t *testing.T) {
	f := newFixture(t, false)
	f.enqueuer.err = errors.New("db down")
	f.handle(t, text("https://vk.com/wall-1_2"))

	err := f.handler.HandleUpdate(context.Background(), callback(confirmData, f.choice(t).MessageID))
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestStaleConfirmIgnored(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, text("https://vk.com/wall-1_2"))

	f.handle(t, callback(confirmData, 1))

	if len(f.enqueuer.jobs) != 0 {
		t.Errorf("stale confirmation queued %+v", f.enqueuer.jobs)
	}
	if len(f.messenger.cleared) != 1 || f.messenger.cleared[0] != 1 {
		t.Errorf("cleared = %v, want [1]", f.messenger.cleared)
	}
}

func TestConfirmWithoutSession(t *testing.T) {
	f := newFixture(t, false)

	f.handle(t, callback(confirmData, 5))

	if len(f.enqueuer.jobs) != 0 {
		t.Errorf("queued without a session: %+v", f.enqueuer.jobs)
	}
}

func TestCancelButton(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, text("https://vk.com/wall-1_2"))
	msgID := f.choice(t).MessageID

	f.handle(t, callback(cancelData, msgID))

	if got := f.messenger.last().text; got != f.texts.Cancelled {
		t.Errorf("reply = %q, want %q", got, f.texts.Cancelled)
	}
	if f.sessions[testUser].State != WaitingForLink {
		t.Errorf("state = %q, want %q", f.sessions[testUser].State, WaitingForLink)
	}
	if len(f.messenger.cleared) != 1 {
		t.Errorf("buttons should be cleared")
	}
	if len(f.enqueuer.jobs) != 0 {
		t.Errorf("cancel queued %+v", f.enqueuer.jobs)
	}
}

func TestCancelCommand(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, text("https://vk.com/wall-1_2"))

	f.handle(t, command("cancel"))

	if f.sessions[testUser].State != WaitingForLink {
		t.Errorf("state = %q, want %q", f.sessions[testUser].State, WaitingForLink)
	}
	if got := f.messenger.last().text; got != f.texts.Cancelled {
		t.Errorf("reply = %q, want %q", got, f.texts.Cancelled)
	}
}

func TestTextWhileWaitingForChoice(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, text("https://vk.com/wall-1_2"))

	f.handle(t, text("https://vk.com/wall-1_3"))

	if got := f.messenger.last().text; got != f.texts.ClickButton {
		t.Errorf("reply = %q, want %q", got, f.texts.ClickButton)
	}
	if c := f.choice(t); c.ItemID != 2 {
		t.Errorf("choice changed to %+v", c)
	}
}

func TestPlaylistTeaserButton(t *testing.T) {
	f := newFixture(t, false)

	f.handle(t, callback(delivery.WaitForPlaylistData, 9))

	want := answer{"cb", f.texts.PlaylistNotReady, true}
	if len(f.messenger.answers) != 1 || f.messenger.answers[0] != want {
		t.Errorf("answers = %+v, want %+v", f.messenger.answers, want)
	}
	if f.messenger.permChecks != 0 {
		t.Error("teaser button should not check permissions")
	}
}

func TestPlaylistsDisabled(t *testing.T) {
	f := newFixture(t, false)

	f.handle(t, text("https://vk.com/music/playlist/-1_2"))

	want := []string{f.texts.PlaylistsDisabled}
	if got := f.messenger.texts(); !equal(got, want) {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestPlaylistFlow(t *testing.T) {
	f := newFixture(t, true)

	f.handle(t, text("https://vk.com/music/album/-1_2_abc"))

	if f.playlists.accessKey != "abc" {
		t.Errorf("access key = %q, want abc", f.playlists.accessKey)
	}
	c := f.choice(t)
	if c.Kind != storage.PlaylistTask || c.AccessKey != "abc" {
		t.Fatalf("choice = %+v", c)
	}

	f.handle(t, callback(confirmData, c.MessageID))

	if len(f.enqueuer.jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(f.enqueuer.jobs))
	}
	want := Link{Kind: storage.PlaylistTask, OwnerID: -1, ItemID: 2, AccessKey: "abc"}
	if f.enqueuer.jobs[0].link != want {
		t.Errorf("job = %+v, want %+v", f.enqueuer.jobs[0].link, want)
	}
}

func TestPlaylistNotFound(t *testing.T) {
	f := newFixture(t, true)
	f.playlists.reason = content.NotFound

	f.handle(t, text("https://vk.com/music/playlist/-1_2"))

	if got := f.messenger.last().text; got != f.texts.PlaylistNotFound {
		t.Errorf("reply = %q, want %q", got, f.texts.PlaylistNotFound)
	}
}

func TestRunStopsWhenUpdatesClose(t *testing.T) {
	f := newFixture(t, false)
	updates := make(chan tgbotapi.Update, 1)
	updates <- command("start")
	close(updates)

	f.handler.Run(context.Background(), updates)

	if len(f.messenger.sent) != 2 {
		t.Errorf("expected 2 messages, got %d", len(f.messenger.sent))
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
