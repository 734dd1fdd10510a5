package monitor

import (
	"context"
	"io"

	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/treehole"
)

// Fetcher abstracts the forum API client.
type Fetcher interface {
	FetchPostsPage(ctx context.Context, page int) ([]models.Post, error)
	FetchComments(ctx context.Context, pid int64, minLimit int) (treehole.CommentOutcome, error)
}

// Store abstracts the storage layer for posts and comments.
type Store interface {
	UpsertPosts(ctx context.Context, posts []models.Post) error
	UpsertComments(ctx context.Context, comments []models.Comment) error
	GetCommentsForPost(ctx context.Context, pid int64) ([]models.Comment, error)
	GetStatistics(ctx context.Context, table string) (models.Stats, error)
	ExportCSV(ctx context.Context, table string, w io.Writer) (int, error)
}

// Notifier abstracts the notification layer.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Summarizer digests a finished thread. Implementations may return "" to
// mean no summary.
type Summarizer interface {
	Summarize(ctx context.Context, post models.Post, comments []models.Comment) (string, error)
}
