package monitor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/pauljones0/holemonitor/internal/merge"
	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/storage"
	"github.com/pauljones0/holemonitor/internal/util"
)

// Backfill crawls pages 1, 2, 3, ... until the oldest post of the latest page
// is NumDays older than the start of the crawl, or a page comes back empty.
// Every FlushEveryPages pages the working set is written to the store and
// reset; what is left at the end is flushed too. A page that cannot be
// fetched ends the crawl with an error. Statistics for both tables are
// returned and, with ExportDir set, both tables are exported as CSV.
func (m *Monitor) Backfill(ctx context.Context) ([]models.Stats, error) {
	stats, _, err := util.Timed("backfill", func() ([]models.Stats, error) {
		return m.backfill(ctx)
	})
	return stats, err
}

func (m *Monitor) backfill(ctx context.Context) ([]models.Stats, error) {
	start := m.now()
	horizon := time.Duration(m.config.NumDays) * 24 * time.Hour
	flushEvery := max(1, m.config.FlushEveryPages)
	slog.Info("Backfill starting", "days", m.config.NumDays, "flush_every", flushEvery)

	working := make(map[int64]models.Post)
	for page := 1; ; page++ {
		posts, err := m.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("backfill aborted at page %d: %w", page, err)
		}
		posts = m.validator.FilterPosts(posts)
		merge.Into(working, merge.Index(posts, postKey))

		if page%flushEvery == 0 {
			slog.Info("Backfill progress", "page", page)
			if err := m.flush(ctx, working); err != nil {
				return nil, err
			}
			working = make(map[int64]models.Post)
		}

		if len(posts) == 0 {
			slog.Info("Reached last page", "page", page)
			break
		}
		if oldest, ok := oldestCreated(posts); ok && start.Sub(oldest) >= horizon {
			slog.Info("Reached backfill horizon", "page", page, "oldest", oldest)
			break
		}

		if err := m.pause(ctx); err != nil {
			return nil, err
		}
	}

	if len(working) > 0 {
		if err := m.flush(ctx, working); err != nil {
			return nil, err
		}
	}
	slog.Info("Backfill complete")

	var stats []models.Stats
	for _, table := range []string{storage.TablePosts, storage.TableComments} {
		st, err := m.store.GetStatistics(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s statistics: %w", table, err)
		}
		slog.Info("Table statistics", "table", st.Table, "count", st.Count,
			"oldest", st.OldestTime, "newest", st.NewestTime, "last_update", st.LastUpdate)
		stats = append(stats, st)
	}

	if m.config.ExportDir != "" {
		if err := m.export(ctx, start); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// flush fetches comments for every post with replies, then writes comments
// and posts. A post whose comments cannot be fetched is logged and skipped.
func (m *Monitor) flush(ctx context.Context, working map[int64]models.Post) error {
	posts := make([]models.Post, 0, len(working))
	for _, p := range working {
		posts = append(posts, p)
	}
	slices.SortFunc(posts, func(a, b models.Post) int { return cmp.Compare(b.PID, a.PID) })

	if m.config.WithComments {
		var comments []models.Comment
		for _, p := range posts {
			if p.Replies() <= 0 {
				continue
			}
			op := fmt.Sprintf("comments %d", p.PID)
			out, err := util.FetchWithRetry(ctx, m.policy, op, func(ctx context.Context) ([]models.Comment, error) {
				res, err := m.fetcher.FetchComments(ctx, p.PID, p.Replies())
				if err != nil {
					return nil, err
				}
				if res.Gone {
					return nil, util.Gone(op, 0)
				}
				return res.Comments, nil
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("Skipping comments", "pid", p.PID, "error", err)
				continue
			}
			comments = append(comments, out...)
		}
		comments = m.validator.FilterComments(comments)
		if err := m.store.UpsertComments(ctx, comments); err != nil {
			return fmt.Errorf("failed to persist comments: %w", err)
		}
	}

	if err := m.store.UpsertPosts(ctx, posts); err != nil {
		return fmt.Errorf("failed to persist posts: %w", err)
	}
	slog.Info("Flushed working set", "posts", len(posts))
	return nil
}

func (m *Monitor) export(ctx context.Context, start time.Time) error {
	if err := os.MkdirAll(m.config.ExportDir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	for _, table := range []string{storage.TablePosts, storage.TableComments} {
		path := filepath.Join(m.config.ExportDir, fmt.Sprintf("%s_%s.csv", start.Format("2006-01-02"), table))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		n, err := m.store.ExportCSV(ctx, table, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", table, err)
		}
		slog.Info("Exported table", "table", table, "rows", n, "path", path)
	}
	return nil
}

func oldestCreated(posts []models.Post) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, p := range posts {
		if p.CreatedAt == nil {
			continue
		}
		if !found || p.CreatedAt.Before(oldest) {
			oldest = *p.CreatedAt
			found = true
		}
	}
	return oldest, found
}
