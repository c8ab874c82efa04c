package domain

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"
)

// memStore is an in-memory ContentStore and CursorRepository.
type memStore struct {
	posts    map[int64]*Post
	users    map[int64]*User
	meta     map[int64]map[string]string
	comments map[int64]*commentRow
	cursors  map[string]int64
	nextID   int64

	createUserErr error
	findErr       error

	findUserCalls int
	setMetaCalls  int
}

type commentRow struct {
	record NewFeedbackRecord
	id     int64
}

func newMemStore() *memStore {
	return &memStore{
		posts:    make(map[int64]*Post),
		users:    make(map[int64]*User),
		meta:     make(map[int64]map[string]string),
		comments: make(map[int64]*commentRow),
		cursors:  make(map[string]int64),
		nextID:   100,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetPost(_ context.Context, id int64) (*Post, error) {
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FindComments(_ context.Context, postID int64, authorEmail string) ([]FeedbackRecord, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []FeedbackRecord
	for _, c := range m.comments {
		if c.record.PostID == postID && c.record.AuthorEmail == authorEmail {
			out = append(out, FeedbackRecord{
				ID:          c.id,
				PostID:      postID,
				AuthorEmail: authorEmail,
				Content:     c.record.Content,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertComment(_ context.Context, record *NewFeedbackRecord) (int64, error) {
	id := m.id()
	m.comments[id] = &commentRow{record: *record, id: id}
	return id, nil
}

func (m *memStore) UpdateComment(_ context.Context, id int64, content string) error {
	c, ok := m.comments[id]
	if !ok {
		return ErrNotFound
	}
	c.record.Content = content
	return nil
}

func (m *memStore) DeleteComment(_ context.Context, id int64) error {
	delete(m.comments, id)
	return nil
}

func (m *memStore) FindUserByLogin(_ context.Context, login string) (*User, error) {
	m.findUserCalls++
	for _, u := range m.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) CreateUser(_ context.Context, user *NewUser) (int64, error) {
	if m.createUserErr != nil {
		return 0, m.createUserErr
	}
	id := m.id()
	m.users[id] = &User{ID: id, Login: user.Login, Email: user.Email, DisplayName: user.DisplayName}
	return id, nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserMeta(_ context.Context, userID int64, key string) (string, bool, error) {
	v, ok := m.meta[userID][key]
	return v, ok, nil
}

func (m *memStore) SetUserMeta(_ context.Context, userID int64, key, value string) error {
	m.setMetaCalls++
	if m.meta[userID] == nil {
		m.meta[userID] = make(map[string]string)
	}
	m.meta[userID][key] = value
	return nil
}

func (m *memStore) GetCursor(_ context.Context, service string) (int64, error) {
	return m.cursors[service], nil
}

func (m *memStore) UpdateCursor(_ context.Context, service string, cursor int64) error {
	m.cursors[service] = cursor
	return nil
}

func (m *memStore) botComments(postID int64) []FeedbackRecord {
	out, _ := m.FindComments(context.Background(), postID, DefaultBotIdentity().Email)
	return out
}

func newTestService(t *testing.T, store *memStore) *FeedbackService {
	t.Helper()
	reconciler := NewReconciler(NewReportBuilder(testBank(), &seqRand{}))
	svc, err := NewFeedbackService(store, store, reconciler, DefaultBotIdentity(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewFeedbackService: %v", err)
	}
	return svc
}

const authorID = 1

func seedAuthor(store *memStore) {
	store.users[authorID] = &User{ID: authorID, Login: "ada", DisplayName: "Ada Lovelace"}
}

func TestHandlePublishedInsertsFeedbackWithIntro(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg">`}
	svc := newTestService(t, store)

	outcome, err := svc.HandlePublished(context.Background(), 10)
	if err != nil {
		t.Fatalf("HandlePublished: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("outcome: got %s, want %s", outcome, OutcomeInserted)
	}

	records := store.botComments(10)
	if len(records) != 1 {
		t.Fatalf("expected 1 feedback record, got %d", len(records))
	}
	content := records[0].Content
	if !strings.Contains(content, "Ada Lovelace") {
		t.Errorf("expected intro with author name, got %q", content)
	}
	if !strings.Contains(content, "<li>missing one</li>") {
		t.Errorf("expected missing-alt item, got %q", content)
	}
	if store.meta[authorID]["equalify_intro_sent"] != "1" {
		t.Errorf("intro flag not persisted: %v", store.meta[authorID])
	}

	row := store.comments[records[0].ID].record
	bot := DefaultBotIdentity()
	if row.AuthorName != bot.CommentAuthor || row.AuthorURL != bot.URL || !row.Approved {
		t.Errorf("unexpected comment fields: %+v", row)
	}
	if u, ok := store.users[row.UserID]; !ok || u.Login != bot.Login {
		t.Errorf("comment not attributed to bot account: user_id=%d", row.UserID)
	}
}

func TestHandlePublishedCleanPost(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg" alt="a cat">`}
	svc := newTestService(t, store)

	outcome, err := svc.HandlePublished(context.Background(), 10)
	if err != nil {
		t.Fatalf("HandlePublished: %v", err)
	}
	if outcome != OutcomeClean {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeClean)
	}
	if len(store.comments) != 0 {
		t.Errorf("expected no comments, got %d", len(store.comments))
	}
	if store.setMetaCalls != 0 {
		t.Errorf("clean post must not touch the intro flag")
	}
}

func TestHandlePublishedCleanStateIsIdempotent(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	bot := DefaultBotIdentity()
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<p>no media</p>`}
	store.comments[1] = &commentRow{id: 1, record: NewFeedbackRecord{PostID: 10, AuthorEmail: bot.Email, Content: "old"}}
	store.comments[2] = &commentRow{id: 2, record: NewFeedbackRecord{PostID: 10, AuthorEmail: bot.Email, Content: "older"}}
	store.comments[3] = &commentRow{id: 3, record: NewFeedbackRecord{PostID: 10, AuthorEmail: "reader@example.com", Content: "nice post"}}
	svc := newTestService(t, store)

	for i, want := range []Outcome{OutcomeCleared, OutcomeClean} {
		outcome, err := svc.HandlePublished(context.Background(), 10)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if outcome != want {
			t.Errorf("run %d: got %s, want %s", i, outcome, want)
		}
		if n := len(store.botComments(10)); n != 0 {
			t.Errorf("run %d: expected no bot feedback, got %d", i, n)
		}
	}
	if _, ok := store.comments[3]; !ok {
		t.Error("unrelated comment was removed")
	}
}

func TestHandlePublishedIntroSentOnce(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg">`}
	store.posts[11] = &Post{ID: 11, Status: PostStatusPublished, AuthorID: authorID, Body: `<svg></svg>`}
	svc := newTestService(t, store)

	for _, id := range []int64{10, 11, 10, 11} {
		if _, err := svc.HandlePublished(context.Background(), id); err != nil {
			t.Fatalf("HandlePublished(%d): %v", id, err)
		}
	}

	if store.setMetaCalls != 1 {
		t.Errorf("intro flag written %d times, want 1", store.setMetaCalls)
	}
	second := store.botComments(11)
	if len(second) != 1 {
		t.Fatalf("expected 1 record on second post, got %d", len(second))
	}
	if strings.Contains(second[0].Content, "Ada") {
		t.Errorf("second post should not repeat the intro: %q", second[0].Content)
	}
	// The first post's feedback was rewritten on its second run without the intro.
	first := store.botComments(10)
	if len(first) != 1 || strings.Contains(first[0].Content, "Ada") {
		t.Errorf("first post feedback: %+v", first)
	}
}

func TestHandlePublishedCollapsesDuplicates(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.meta[authorID] = map[string]string{"equalify_intro_sent": "1"}
	bot := DefaultBotIdentity()
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg" alt="">`}
	store.comments[1] = &commentRow{id: 1, record: NewFeedbackRecord{PostID: 10, AuthorEmail: bot.Email, Content: "stale one"}}
	store.comments[2] = &commentRow{id: 2, record: NewFeedbackRecord{PostID: 10, AuthorEmail: bot.Email, Content: "stale two"}}
	svc := newTestService(t, store)

	outcome, err := svc.HandlePublished(context.Background(), 10)
	if err != nil {
		t.Fatalf("HandlePublished: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeUpdated)
	}

	records := store.botComments(10)
	if len(records) != 2 {
		t.Fatalf("expected both records to remain, got %d", len(records))
	}
	if records[0].Content != records[1].Content {
		t.Errorf("records differ:\n%q\n%q", records[0].Content, records[1].Content)
	}
	if !strings.Contains(records[0].Content, "<li>empty one</li>") {
		t.Errorf("unexpected content %q", records[0].Content)
	}
}

func TestHandlePublishedIntroFlagSavedOnUpdate(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	bot := DefaultBotIdentity()
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg">`}
	store.comments[1] = &commentRow{id: 1, record: NewFeedbackRecord{PostID: 10, AuthorEmail: bot.Email, Content: "stale"}}
	svc := newTestService(t, store)

	outcome, err := svc.HandlePublished(context.Background(), 10)
	if err != nil {
		t.Fatalf("HandlePublished: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeUpdated)
	}
	if store.setMetaCalls != 1 {
		t.Errorf("intro flag written %d times, want 1", store.setMetaCalls)
	}
	if store.meta[authorID]["equalify_intro_sent"] != "1" {
		t.Errorf("intro flag not persisted: %v", store.meta[authorID])
	}

	records := store.botComments(10)
	if len(records) != 1 {
		t.Fatalf("expected 1 feedback record, got %d", len(records))
	}
	if !strings.Contains(records[0].Content, "Ada Lovelace") {
		t.Errorf("updated feedback should carry the intro: %q", records[0].Content)
	}
}

func TestHandlePublishedSkips(t *testing.T) {
	testCases := []struct {
		name string
		post *Post
	}{
		{name: "missing post"},
		{name: "draft", post: &Post{ID: 10, Status: "draft", AuthorID: authorID, Body: `<img src="a.jpg">`}},
		{name: "scheduled", post: &Post{ID: 10, Status: "future", AuthorID: authorID, Body: `<img src="a.jpg">`}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			seedAuthor(store)
			if tc.post != nil {
				store.posts[tc.post.ID] = tc.post
			}
			svc := newTestService(t, store)

			outcome, err := svc.HandlePublished(context.Background(), 10)
			if err != nil {
				t.Fatalf("HandlePublished: %v", err)
			}
			if outcome != OutcomeSkipped {
				t.Errorf("outcome: got %s, want %s", outcome, OutcomeSkipped)
			}
			if len(store.comments) != 0 || len(store.users) != 1 {
				t.Errorf("skipped post caused writes: comments=%d users=%d", len(store.comments), len(store.users))
			}
		})
	}
}

func TestHandlePublishedBotBootstrapFailure(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.createUserErr = errors.New("duplicate email")
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg">`}
	svc := newTestService(t, store)

	_, err := svc.HandlePublished(context.Background(), 10)
	if err == nil || !errors.Is(err, store.createUserErr) {
		t.Fatalf("expected bootstrap error, got %v", err)
	}
	if len(store.comments) != 0 || store.setMetaCalls != 0 {
		t.Error("nothing should be written without a bot account")
	}
}

func TestHandlePublishedReusesBotAccount(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.users[50] = &User{ID: 50, Login: "equalify", DisplayName: "Equalify"}
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg">`}
	svc := newTestService(t, store)

	for i := 0; i < 3; i++ {
		if _, err := svc.HandlePublished(context.Background(), 10); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if len(store.users) != 2 {
		t.Errorf("expected no new accounts, got %d users", len(store.users))
	}
	if store.findUserCalls != 1 {
		t.Errorf("bot account looked up %d times, want 1", store.findUserCalls)
	}
	records := store.botComments(10)
	if len(records) != 1 || store.comments[records[0].ID].record.UserID != 50 {
		t.Errorf("feedback not attributed to existing bot account: %+v", records)
	}
}

func TestHandlePublishedUnknownAuthor(t *testing.T) {
	store := newMemStore()
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: 99, Body: `<img src="a.jpg">`}
	svc := newTestService(t, store)

	if _, err := svc.HandlePublished(context.Background(), 10); err != nil {
		t.Fatalf("HandlePublished: %v", err)
	}
	records := store.botComments(10)
	if len(records) != 1 || !strings.Contains(records[0].Content, "Hello there") {
		t.Errorf("expected a generic greeting, got %+v", records)
	}
	if store.setMetaCalls != 0 {
		t.Error("intro flag must not be written for a missing author")
	}
}

func TestHandlePublishedStoreError(t *testing.T) {
	store := newMemStore()
	seedAuthor(store)
	store.findErr = errors.New("connection reset")
	store.posts[10] = &Post{ID: 10, Status: PostStatusPublished, AuthorID: authorID, Body: `<img src="a.jpg">`}
	svc := newTestService(t, store)

	if _, err := svc.HandlePublished(context.Background(), 10); !errors.Is(err, store.findErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestNewFeedbackServiceValidatesIdentity(t *testing.T) {
	store := newMemStore()
	bot := DefaultBotIdentity()
	bot.Email = ""
	reconciler := NewReconciler(NewReportBuilder(testBank(), &seqRand{}))
	if _, err := NewFeedbackService(store, store, reconciler, bot, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected an error for a bot identity without email")
	}
}

func TestCursorPassthrough(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.UpdateCursor(ctx, "events", 42); err != nil {
		t.Fatalf("UpdateCursor: %v", err)
	}
	got, err := svc.GetCursor(ctx, "events")
	if err != nil || got != 42 {
		t.Fatalf("GetCursor: got %d, %v", got, err)
	}
}
