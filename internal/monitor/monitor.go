// Package monitor drives the polling loops: the continuous Monitor loop and
// the one-shot backfill crawl.
package monitor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/pauljones0/holemonitor/internal/activity"
	"github.com/pauljones0/holemonitor/internal/config"
	"github.com/pauljones0/holemonitor/internal/hotholes"
	"github.com/pauljones0/holemonitor/internal/keyword"
	"github.com/pauljones0/holemonitor/internal/merge"
	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/notifier"
	"github.com/pauljones0/holemonitor/internal/treehole"
	"github.com/pauljones0/holemonitor/internal/util"
	"github.com/pauljones0/holemonitor/internal/validator"
)

type Monitor struct {
	fetcher    Fetcher
	store      Store
	notifier   Notifier
	summarizer Summarizer
	validator  *validator.Validator
	config     *config.Config
	policy     util.RetryPolicy

	tracker *activity.Tracker
	matcher *keyword.Matcher
	live    *keyword.LiveMatcher
	ranker  *hotholes.Ranker

	// session holds every post seen this process that is still of interest.
	session map[int64]models.Post

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() int
}

// New builds a Monitor. KeyWords and LiveKeyWords are parsed here; an empty
// rule disables the corresponding matcher. s may be nil.
func New(f Fetcher, st Store, n Notifier, s Summarizer, cfg *config.Config) (*Monitor, error) {
	m := &Monitor{
		fetcher:    f,
		store:      st,
		notifier:   n,
		summarizer: s,
		validator:  validator.New(),
		config:     cfg,
		policy:     util.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.RetryBackoff},
		tracker:    activity.New(cfg.MaxStagnantCycles),
		ranker:     hotholes.New(cfg.HotCapacity),
		session:    make(map[int64]models.Post),
		now:        time.Now,
		sleep:      util.Sleep,
		jitter:     func() int { return rand.IntN(3) - 1 },
	}

	rule, err := keyword.ParseRule(cfg.KeyWords)
	switch {
	case err == nil:
		m.matcher = keyword.NewMatcher(rule)
		slog.Info("Keyword monitoring enabled", "rule", rule.String())
	case !errors.Is(err, keyword.ErrEmptyRule):
		return nil, fmt.Errorf("invalid KEY_WORDS: %w", err)
	}

	liveRule, err := keyword.ParseRule(cfg.LiveKeyWords)
	switch {
	case err == nil:
		m.live = keyword.NewLiveMatcher(liveRule, util.ParseTerms(cfg.NegativeKeyWords))
		slog.Info("Live keyword monitoring enabled", "rule", liveRule.String(), "negatives", cfg.NegativeKeyWords)
	case !errors.Is(err, keyword.ErrEmptyRule):
		return nil, fmt.Errorf("invalid LIVE_KEY_WORDS: %w", err)
	}

	return m, nil
}

// Ranker exposes the hot-holes table for read-only inspection.
func (m *Monitor) Ranker() *hotholes.Ranker {
	return m.ranker
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately. A failed cycle is logged and the loop carries on.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("Monitor loop starting", "pages", m.config.SearchPages, "interval", m.config.CycleInterval)
	for {
		if m.inQuietWindow(m.now()) {
			slog.Info("Entering quiet window", "duration", m.config.QuietDuration)
			if err := m.sleep(ctx, m.config.QuietDuration); err != nil {
				return err
			}
		}

		_, _, err := util.Timed("monitor cycle", func() (struct{}, error) {
			return struct{}{}, m.RunCycle(ctx)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.Warn("Cycle finished with errors, continuing", "error", err)
		}

		slog.Debug("Sleeping until next cycle", "duration", m.config.CycleInterval)
		if err := m.sleep(ctx, m.config.CycleInterval); err != nil {
			return err
		}
	}
}

func (m *Monitor) inQuietWindow(t time.Time) bool {
	return m.config.MorningSleep && t.Hour() == m.config.QuietHour
}

// RunCycle performs one fetch, merge, track, match and persist pass.
// Page and per-post failures are logged and collected; the rest of the cycle
// still runs. The returned error joins them.
func (m *Monitor) RunCycle(ctx context.Context) error {
	cycleStart := m.now()
	var errs []error

	slog.Info("Fetching pages", "pages", m.config.SearchPages)
	var fetched []models.Post
	for page := 1; page <= m.config.SearchPages; page++ {
		posts, err := m.fetchPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Skipping page after fetch failure", "page", page, "error", err)
			errs = append(errs, err)
		} else {
			fetched = append(fetched, posts...)
		}
		if page < m.config.SearchPages {
			if err := m.pause(ctx); err != nil {
				return err
			}
		}
	}

	for i := range fetched {
		fetched[i].LastRetrieved = cycleStart
	}
	fetched = m.validator.FilterPosts(fetched)

	slog.Info("Merging posts", "fetched", len(fetched), "session", len(m.session))
	cycleSet := merge.Index(fetched, postKey)
	m.session = merge.Into(m.session, cycleSet)
	current := make([]models.Post, 0, len(cycleSet))
	for pid := range cycleSet {
		current = append(current, m.session[pid])
	}
	// Newest first, like the pages.
	slices.SortFunc(current, func(a, b models.Post) int { return cmp.Compare(b.PID, a.PID) })

	for _, p := range current {
		m.ranker.AddHole(p.PID, p.Hot())
	}

	if m.config.WithComments {
		slog.Info("Tracking comments", "candidates", len(current), "active", m.tracker.Active())
		for _, p := range current {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.trackPost(ctx, p, cycleStart); err != nil {
				errs = append(errs, err)
			}
		}
		if err := m.trackOffPage(ctx, cycleSet); err != nil {
			errs = append(errs, err)
		}
	}

	if m.matcher != nil {
		slog.Info("Matching keywords", "rule", m.matcher.Rule().String())
		if err := m.matchAndNotify(ctx, current); err != nil {
			errs = append(errs, err)
		}
	}

	slog.Info("Persisting posts", "count", len(current))
	if err := m.store.UpsertPosts(ctx, current); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist posts: %w", err))
	}

	m.evict(cycleSet)
	return errors.Join(errs...)
}

func (m *Monitor) fetchPage(ctx context.Context, page int) ([]models.Post, error) {
	return util.FetchWithRetry(ctx, m.policy, fmt.Sprintf("posts page %d", page), func(ctx context.Context) ([]models.Post, error) {
		return m.fetcher.FetchPostsPage(ctx, page)
	})
}

// pause waits PageInterval shifted by -1, 0 or +1 PageJitter.
func (m *Monitor) pause(ctx context.Context) error {
	d := m.config.PageInterval + time.Duration(m.jitter())*m.config.PageJitter
	return m.sleep(ctx, d)
}

// trackPost observes p and fetches or finalises its comments.
func (m *Monitor) trackPost(ctx context.Context, p models.Post, cycleStart time.Time) error {
	replies := p.Replies()
	if replies <= 0 {
		return nil
	}

	switch decision := m.tracker.Observe(p.PID, replies); decision {
	case activity.AlreadyRetired:
		return nil
	case activity.JustRetired:
		slog.Info("Thread retired", "pid", p.PID, "replies", replies)
		return m.finalize(ctx, p)
	}

	op := fmt.Sprintf("comments %d", p.PID)
	out, err := util.FetchWithRetry(ctx, m.policy, op, func(ctx context.Context) (treehole.CommentOutcome, error) {
		return m.fetcher.FetchComments(ctx, p.PID, replies)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("Failed to fetch comments, reporting stored snapshot", "pid", p.PID, "error", err)
		m.reportStored(ctx, p.PID)
		return fmt.Errorf("comments for %d: %w", p.PID, err)
	}
	if out.Gone {
		slog.Warn("Post deleted", "pid", p.PID)
		m.tracker.Forget(p.PID)
		m.reportStored(ctx, p.PID)
		return nil
	}

	comments := out.Comments
	for i := range comments {
		comments[i].LastRetrieved = cycleStart
	}
	comments = m.validator.FilterComments(comments)
	if err := m.store.UpsertComments(ctx, comments); err != nil {
		return fmt.Errorf("failed to persist comments for %d: %w", p.PID, err)
	}
	slog.Debug("Stored comments", "pid", p.PID, "count", len(comments))
	return nil
}

// trackOffPage observes active session posts that fell off this cycle's
// pages at their last known reply count, so they stagnate and retire like
// any other thread. No comments are fetched for them.
func (m *Monitor) trackOffPage(ctx context.Context, seen map[int64]models.Post) error {
	var stale []models.Post
	for pid, p := range m.session {
		if _, ok := seen[pid]; ok || !m.tracker.IsActive(pid) {
			continue
		}
		stale = append(stale, p)
	}
	slices.SortFunc(stale, func(a, b models.Post) int { return cmp.Compare(b.PID, a.PID) })

	var errs []error
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.tracker.Observe(p.PID, p.Replies()) != activity.JustRetired {
			continue
		}
		slog.Info("Off-page thread retired", "pid", p.PID, "replies", p.Replies())
		if err := m.finalize(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reportStored logs the previously stored comments of pid.
func (m *Monitor) reportStored(ctx context.Context, pid int64) {
	comments, err := m.store.GetCommentsForPost(ctx, pid)
	if err != nil {
		slog.Error("Failed to read stored comments", "pid", pid, "error", err)
		return
	}
	logSnapshot(pid, comments)
}

func logSnapshot(pid int64, comments []models.Comment) {
	slog.Info("Final comment snapshot", "pid", pid, "count", len(comments))
	for _, c := range comments {
		slog.Info("Comment", "pid", pid, "cid", c.CID, "name", c.Author, "time", c.CreatedAt, "text", c.Text)
	}
}

// finalize reports a retired thread and, when the live rule matches, sends
// it to the operator.
func (m *Monitor) finalize(ctx context.Context, p models.Post) error {
	comments, err := m.store.GetCommentsForPost(ctx, p.PID)
	if err != nil {
		return fmt.Errorf("failed to read comments for %d: %w", p.PID, err)
	}
	logSnapshot(p.PID, comments)

	if m.live == nil {
		return nil
	}
	ok, err := m.live.Evaluate(p, comments)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var digest string
	if m.summarizer != nil {
		digest, err = m.summarizer.Summarize(ctx, p, comments)
		if err != nil {
			slog.Warn("Failed to summarize thread", "pid", p.PID, "error", err)
			digest = ""
		}
	}

	slog.Info("Live keyword matched finished thread", "pid", p.PID)
	if err := m.notifier.Send(ctx, notifier.ThreadTitle(p.PID), notifier.RenderThread(p, comments, digest)); err != nil {
		return fmt.Errorf("failed to notify thread %d: %w", p.PID, err)
	}
	return nil
}

func (m *Monitor) matchAndNotify(ctx context.Context, posts []models.Post) error {
	matches, err := m.matcher.Match(posts)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		slog.Info("No keyword match")
		return nil
	}

	slog.Info("Keyword matched, sending notification", "count", len(matches))
	if err := m.notifier.Send(ctx, notifier.MatchTitle(len(matches)), notifier.RenderMatches(matches)); err != nil {
		return fmt.Errorf("failed to send match notification: %w", err)
	}
	return nil
}

// evict drops session posts that were not on this cycle's pages and are no
// longer tracked, then forgets retirements of posts outside the session.
func (m *Monitor) evict(seen map[int64]models.Post) {
	for pid := range m.session {
		if _, ok := seen[pid]; ok {
			continue
		}
		if m.tracker.IsActive(pid) {
			continue
		}
		delete(m.session, pid)
	}
	m.tracker.Prune(func(pid int64) bool {
		_, ok := m.session[pid]
		return ok
	})
}

func postKey(p models.Post) int64 { return p.PID }
