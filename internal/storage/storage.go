// Package storage persists posts and comments. SQLite is the default backend;
// Firestore is available for hosted deployments.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pauljones0/holemonitor/internal/config"
	"github.com/pauljones0/holemonitor/internal/models"
)

const (
	TablePosts    = "holes"
	TableComments = "comments"

	// timeLayout is the text form of timestamps in rows and exports.
	timeLayout = "2006-01-02 15:04:05"
)

// ErrUnknownTable is returned for a table name other than TablePosts or TableComments.
var ErrUnknownTable = errors.New("unknown table")

var (
	postColumns    = []string{"pid", "text", "type", "time", "reply", "likenum", "last_retrive"}
	commentColumns = []string{"cid", "pid", "text", "name", "time", "comment_id", "last_retrive"}
)

// Exporter writes a table as CSV with a header row and returns the number of
// data rows written.
type Exporter interface {
	ExportCSV(ctx context.Context, table string, w io.Writer) (int, error)
}

// Store is implemented by every backend.
//
// Posts are upserted with the field rule of models.Post.Fill applied against
// the stored row. Comments are append-only: a cid already stored is left as is.
type Store interface {
	Exporter
	UpsertPosts(ctx context.Context, posts []models.Post) error
	UpsertComments(ctx context.Context, comments []models.Comment) error
	GetCommentsForPost(ctx context.Context, pid int64) ([]models.Comment, error)
	GetStatistics(ctx context.Context, table string) (models.Stats, error)
	Close() error
}

// Open returns the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverFirestore:
		return NewFirestore(ctx, cfg.ProjectID)
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.DBPath, cfg.RemoveExisting)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func columnsFor(table string) ([]string, error) {
	switch table {
	case TablePosts:
		return postColumns, nil
	case TableComments:
		return commentColumns, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownTable, table)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(timeLayout, s, time.Local)
}
