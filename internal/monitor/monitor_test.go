package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pauljones0/holemonitor/internal/config"
	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/treehole"
)

// --- Mock implementations ---

type mockFetcher struct {
	pages       map[int][]models.Post
	pageErrs    map[int]error
	comments    map[int64]treehole.CommentOutcome
	commentErrs map[int64]error

	pageCalls    []int
	commentCalls []int64
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		pages:       make(map[int][]models.Post),
		pageErrs:    make(map[int]error),
		comments:    make(map[int64]treehole.CommentOutcome),
		commentErrs: make(map[int64]error),
	}
}

func (m *mockFetcher) FetchPostsPage(_ context.Context, page int) ([]models.Post, error) {
	m.pageCalls = append(m.pageCalls, page)
	if err := m.pageErrs[page]; err != nil {
		return nil, err
	}
	return slices.Clone(m.pages[page]), nil
}

func (m *mockFetcher) FetchComments(_ context.Context, pid int64, _ int) (treehole.CommentOutcome, error) {
	m.commentCalls = append(m.commentCalls, pid)
	if err := m.commentErrs[pid]; err != nil {
		return treehole.CommentOutcome{}, err
	}
	out := m.comments[pid]
	out.Comments = slices.Clone(out.Comments)
	return out, nil
}

type mockStore struct {
	posts    map[int64]models.Post
	comments map[int64]models.Comment

	postUpserts   [][]models.Post
	commentReads  []int64
	postsErr      error
	exportedTable []string
}

func newMockStore() *mockStore {
	return &mockStore{
		posts:    make(map[int64]models.Post),
		comments: make(map[int64]models.Comment),
	}
}

func (m *mockStore) UpsertPosts(_ context.Context, posts []models.Post) error {
	if m.postsErr != nil {
		return m.postsErr
	}
	m.postUpserts = append(m.postUpserts, slices.Clone(posts))
	for _, p := range posts {
		if old, ok := m.posts[p.PID]; ok {
			p = p.Fill(old)
		}
		m.posts[p.PID] = p
	}
	return nil
}

func (m *mockStore) UpsertComments(_ context.Context, comments []models.Comment) error {
	for _, c := range comments {
		if _, ok := m.comments[c.CID]; ok {
			continue
		}
		m.comments[c.CID] = c
	}
	return nil
}

func (m *mockStore) GetCommentsForPost(_ context.Context, pid int64) ([]models.Comment, error) {
	m.commentReads = append(m.commentReads, pid)
	var out []models.Comment
	for _, c := range m.comments {
		if c.PID == pid {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.Comment) int { return int(a.CID - b.CID) })
	return out, nil
}

func (m *mockStore) GetStatistics(_ context.Context, table string) (models.Stats, error) {
	switch table {
	case "holes":
		return models.Stats{Table: table, Count: len(m.posts)}, nil
	case "comments":
		return models.Stats{Table: table, Count: len(m.comments)}, nil
	}
	return models.Stats{}, fmt.Errorf("unknown table %q", table)
}

func (m *mockStore) ExportCSV(_ context.Context, table string, w io.Writer) (int, error) {
	m.exportedTable = append(m.exportedTable, table)
	_, err := io.WriteString(w, "id\n")
	return 0, err
}

type sentMessage struct {
	title string
	body  string
}

type mockNotifier struct {
	sent    []sentMessage
	sendErr error
}

func (m *mockNotifier) Send(_ context.Context, title, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{title: title, body: body})
	return nil
}

type mockSummarizer struct {
	summary string
	calls   int
}

func (m *mockSummarizer) Summarize(_ context.Context, _ models.Post, _ []models.Comment) (string, error) {
	m.calls++
	return m.summary, nil
}

// --- Helpers ---

var cycleTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

func testConfig() *config.Config {
	return &config.Config{
		SearchPages:       2,
		PageInterval:      5 * time.Second,
		PageJitter:        time.Second,
		CycleInterval:     5 * time.Minute,
		MaxAttempts:       1,
		MaxStagnantCycles: 3,
		HotCapacity:       5,
		WithComments:      true,
		FlushEveryPages:   10,
		NumDays:           1,
		QuietHour:         3,
		QuietDuration:     5 * time.Hour,
	}
}

type harness struct {
	m        *Monitor
	fetcher  *mockFetcher
	store    *mockStore
	notifier *mockNotifier
	sleeps   []time.Duration
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{fetcher: newMockFetcher(), store: newMockStore(), notifier: &mockNotifier{}}
	m, err := New(h.fetcher, h.store, h.notifier, nil, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.now = func() time.Time { return cycleTime }
	m.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	m.jitter = func() int { return 0 }
	h.m = m
	return h
}

func post(pid int64, text string, replies int) models.Post {
	created := cycleTime.Add(-time.Duration(1000-pid) * time.Minute)
	return models.Post{
		PID:           pid,
		Text:          text,
		CreatedAt:     &created,
		ReplyCount:    models.Ptr(replies),
		LikeCount:     models.Ptr(0),
		LastRetrieved: cycleTime.Add(-time.Hour),
	}
}

func comments(pid int64, n int) []models.Comment {
	out := make([]models.Comment, n)
	for i := range out {
		out[i] = models.Comment{CID: pid*100 + int64(i) + 1, PID: pid, Text: fmt.Sprintf("reply %d", i+1), Author: "Alice"}
	}
	return out
}

// --- Tests ---

func TestRunCycle_PersistsAllPages(t *testing.T) {
	h := newHarness(t, testConfig())
	for i := int64(0); i < 25; i++ {
		h.fetcher.pages[1] = append(h.fetcher.pages[1], post(1000-i, "page one", 0))
		h.fetcher.pages[2] = append(h.fetcher.pages[2], post(975-i, "page two", 0))
	}

	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if len(h.store.posts) != 50 {
		t.Fatalf("Expected 50 posts in store, got %d", len(h.store.posts))
	}
	for pid, p := range h.store.posts {
		if !p.LastRetrieved.Equal(cycleTime) {
			t.Errorf("Post %d last_retrive = %v, want cycle time %v", pid, p.LastRetrieved, cycleTime)
		}
	}
	if !slices.Equal(h.fetcher.pageCalls, []int{1, 2}) {
		t.Errorf("Expected pages 1 and 2 fetched, got %v", h.fetcher.pageCalls)
	}
}

func TestRunCycle_PacingBetweenPages(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 3
	h := newHarness(t, cfg)
	h.m.jitter = func() int { return 1 }

	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	want := []time.Duration{6 * time.Second, 6 * time.Second}
	if !slices.Equal(h.sleeps, want) {
		t.Errorf("Expected pauses %v, got %v", want, h.sleeps)
	}
}

func TestRunCycle_KeywordMatchNotifiesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.KeyWords = "[出 票]"
	h := newHarness(t, cfg)
	h.fetcher.pages[1] = []models.Post{
		post(3, "出一张周五的票", 0),
		post(2, "求票", 0),
		post(1, "出票啦", 0),
	}

	for i := 0; i < 2; i++ {
		if err := h.m.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}

	if len(h.notifier.sent) != 1 {
		t.Fatalf("Expected 1 notification across two cycles, got %d", len(h.notifier.sent))
	}
	msg := h.notifier.sent[0]
	if msg.title != "Holemonitor: 找到匹配，共有2条记录" {
		t.Errorf("Unexpected title %q", msg.title)
	}
	if !strings.HasPrefix(msg.body, "pid: 3\n") || !strings.Contains(msg.body, "pid: 1\n") || strings.Contains(msg.body, "pid: 2\n") {
		t.Errorf("Unexpected body %q", msg.body)
	}
}

func TestRunCycle_NotifyFailureIsReported(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.KeyWords = "出"
	h := newHarness(t, cfg)
	h.notifier.sendErr = errors.New("webhook down")
	h.fetcher.pages[1] = []models.Post{post(1, "出票", 0)}

	err := h.m.RunCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "webhook down") {
		t.Errorf("Expected notification error, got %v", err)
	}
	if len(h.store.posts) != 1 {
		t.Error("Posts should still be persisted when notification fails")
	}
}

func TestRunCycle_RetiredThreadIsFinalizedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.MaxStagnantCycles = 2
	cfg.LiveKeyWords = "[演唱会]"
	cfg.NegativeKeyWords = "已出"
	h := newHarness(t, cfg)
	sum := &mockSummarizer{summary: "有人转让演唱会门票"}
	h.m.summarizer = sum

	h.fetcher.pages[1] = []models.Post{post(7, "周六演唱会有人去吗", 3)}
	h.fetcher.comments[7] = treehole.CommentOutcome{Comments: comments(7, 3)}

	for i := 0; i < 4; i++ {
		if err := h.m.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: RunCycle() error = %v", i+1, err)
		}
	}

	// Cycles 1 and 2 fetch comments, cycle 3 retires, cycle 4 is already retired.
	if len(h.fetcher.commentCalls) != 2 {
		t.Errorf("Expected 2 comment fetches, got %d", len(h.fetcher.commentCalls))
	}
	if len(h.store.comments) != 3 {
		t.Errorf("Expected 3 stored comments, got %d", len(h.store.comments))
	}
	if !slices.Equal(h.store.commentReads, []int64{7}) {
		t.Errorf("Expected exactly one snapshot read for 7, got %v", h.store.commentReads)
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("Expected 1 thread notification, got %d", len(h.notifier.sent))
	}
	body := h.notifier.sent[0].body
	if !strings.Contains(body, "summary: 有人转让演唱会门票") || !strings.Contains(body, "reply 3") {
		t.Errorf("Unexpected thread body %q", body)
	}
	if sum.calls != 1 {
		t.Errorf("Expected 1 summary call, got %d", sum.calls)
	}
}

func TestRunCycle_NegativeTermSuppressesThread(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.MaxStagnantCycles = 1
	cfg.LiveKeyWords = "[演唱会]"
	cfg.NegativeKeyWords = "已出"
	h := newHarness(t, cfg)

	h.fetcher.pages[1] = []models.Post{post(7, "演唱会门票", 1)}
	h.fetcher.comments[7] = treehole.CommentOutcome{Comments: []models.Comment{{CID: 1, PID: 7, Text: "已出"}}}

	for i := 0; i < 2; i++ {
		if err := h.m.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}
	if len(h.store.commentReads) != 1 {
		t.Fatalf("Expected the thread to be finalized, reads = %v", h.store.commentReads)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("Expected negative term to suppress notification, got %d", len(h.notifier.sent))
	}
}

func TestRunCycle_CommentFailureFallsBackToStored(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	h := newHarness(t, cfg)

	h.fetcher.pages[1] = []models.Post{post(2, "broken", 4), post(1, "fine", 2)}
	h.fetcher.commentErrs[2] = errors.New("connection reset")
	h.fetcher.comments[1] = treehole.CommentOutcome{Comments: comments(1, 2)}
	h.store.UpsertComments(context.Background(), comments(2, 1))

	err := h.m.RunCycle(context.Background())
	if err == nil {
		t.Fatal("Expected the per-post failure to be reported")
	}
	if !slices.Equal(h.store.commentReads, []int64{2}) {
		t.Errorf("Expected a stored snapshot read for 2, got %v", h.store.commentReads)
	}
	if _, ok := h.store.comments[101]; !ok {
		t.Error("Comments of the healthy post should still be stored")
	}
	if len(h.store.posts) != 2 {
		t.Errorf("Expected both posts persisted, got %d", len(h.store.posts))
	}
}

func TestRunCycle_DeletedPostIsForgotten(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	h := newHarness(t, cfg)

	h.fetcher.pages[1] = []models.Post{post(5, "gone soon", 2)}
	h.fetcher.comments[5] = treehole.CommentOutcome{Gone: true}

	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if h.m.tracker.IsActive(5) {
		t.Error("Deleted post should no longer be tracked")
	}
	if !slices.Equal(h.store.commentReads, []int64{5}) {
		t.Errorf("Expected stored snapshot read, got %v", h.store.commentReads)
	}
}

func TestRunCycle_PageFailureSkipsPage(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.pageErrs[1] = errors.New("502 bad gateway")
	h.fetcher.pages[2] = []models.Post{post(10, "survivor", 0)}

	err := h.m.RunCycle(context.Background())
	if err == nil {
		t.Fatal("Expected page failure to be reported")
	}
	if _, ok := h.store.posts[10]; !ok || len(h.store.posts) != 1 {
		t.Errorf("Expected only page 2 posts to be stored, got %d", len(h.store.posts))
	}
}

func TestRunCycle_MergeKeepsKnownText(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.WithComments = false
	h := newHarness(t, cfg)

	h.fetcher.pages[1] = []models.Post{post(9, "original", 1)}
	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	h.fetcher.pages[1] = []models.Post{{PID: 9, ReplyCount: models.Ptr(5)}}
	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	last := h.store.postUpserts[len(h.store.postUpserts)-1]
	if len(last) != 1 || last[0].Text != "original" || last[0].Replies() != 5 {
		t.Errorf("Expected merged post with old text and new replies, got %+v", last)
	}
}

func TestRunCycle_UpdatesHotHoles(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.WithComments = false
	cfg.HotCapacity = 2
	h := newHarness(t, cfg)

	p1, p2, p3 := post(1, "a", 10), post(2, "b", 1), post(3, "c", 5)
	h.fetcher.pages[1] = []models.Post{p3, p2, p1}
	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	holes := h.m.Ranker().Holes()
	if len(holes) != 2 || holes[0].PID != 1 || holes[1].PID != 3 {
		t.Errorf("Expected holes 1 and 3, got %+v", holes)
	}
}

func TestRunCycle_EvictsUntrackedPosts(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	h := newHarness(t, cfg)

	h.fetcher.pages[1] = []models.Post{post(1, "quiet", 0), post(2, "busy", 3)}
	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	h.fetcher.pages[1] = nil
	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if _, ok := h.m.session[1]; ok {
		t.Error("Post without activity should be evicted once it leaves the pages")
	}
	if _, ok := h.m.session[2]; !ok {
		t.Error("Actively tracked post should stay in the session until it retires")
	}
}

func TestRunCycle_OffPageThreadRetiresAndIsFinalized(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.MaxStagnantCycles = 3
	cfg.LiveKeyWords = "[busy]"
	h := newHarness(t, cfg)

	h.fetcher.pages[1] = []models.Post{post(2, "busy", 3)}
	h.fetcher.comments[2] = treehole.CommentOutcome{Comments: comments(2, 3)}
	if err := h.m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	// The thread scrolls off the pages while still active.
	h.fetcher.pages[1] = nil
	for i := 0; i < 20; i++ {
		if err := h.m.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: RunCycle() error = %v", i+2, err)
		}
	}

	if h.m.tracker.IsActive(2) {
		t.Error("Off-page thread should have retired")
	}
	if _, ok := h.m.session[2]; ok {
		t.Error("Retired off-page thread should be evicted")
	}
	if h.m.tracker.Retired() != 0 {
		t.Errorf("Expected retirement to be forgotten after eviction, got %d", h.m.tracker.Retired())
	}
	if !slices.Equal(h.store.commentReads, []int64{2}) {
		t.Errorf("Expected one final snapshot read for 2, got %v", h.store.commentReads)
	}
	if len(h.fetcher.commentCalls) != 1 {
		t.Errorf("Expected no comment fetches while off the pages, got %d", len(h.fetcher.commentCalls))
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].title != "Holemonitor: 树洞#2已结束" {
		t.Errorf("Expected one thread notification for 2, got %+v", h.notifier.sent)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cycles := 0
	h.m.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if d == cfg.CycleInterval {
			cycles++
			if cycles == 2 {
				cancel()
			}
		}
		return ctx.Err()
	}

	err := h.m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(h.fetcher.pageCalls) != 2 {
		t.Errorf("Expected 2 cycles, got %d page fetches", len(h.fetcher.pageCalls))
	}
}

func TestRun_QuietWindow(t *testing.T) {
	cfg := testConfig()
	cfg.SearchPages = 1
	cfg.MorningSleep = true
	cfg.QuietHour = cycleTime.Hour()
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.m.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if d == cfg.CycleInterval {
			cancel()
		}
		return ctx.Err()
	}

	_ = h.m.Run(ctx)
	if len(h.sleeps) == 0 || h.sleeps[0] != cfg.QuietDuration {
		t.Errorf("Expected quiet window sleep first, got %v", h.sleeps)
	}
}

func TestNew_InvalidRule(t *testing.T) {
	cfg := testConfig()
	cfg.KeyWords = "(unclosed"
	if _, err := New(newMockFetcher(), newMockStore(), &mockNotifier{}, nil, cfg); err == nil {
		t.Error("Expected error for invalid keyword pattern")
	}
}
