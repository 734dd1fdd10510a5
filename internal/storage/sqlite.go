package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/pauljones0/holemonitor/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

const upsertPostSQL = `INSERT INTO holes(pid, text, type, time, reply, likenum, last_retrive)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(pid) DO UPDATE SET
  text = COALESCE(NULLIF(excluded.text, ''), holes.text),
  type = COALESCE(excluded.type, holes.type),
  time = COALESCE(excluded.time, holes.time),
  reply = COALESCE(excluded.reply, holes.reply),
  likenum = COALESCE(excluded.likenum, holes.likenum),
  last_retrive = COALESCE(excluded.last_retrive, holes.last_retrive)`

const insertCommentSQL = `INSERT INTO comments(cid, pid, text, name, time, comment_id, last_retrive)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(cid) DO NOTHING`

type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path. With
// removeExisting set, a previous file at path is deleted first.
func OpenSQLite(ctx context.Context, path string, removeExisting bool) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if removeExisting {
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("remove existing database %s: %w", p, err)
			}
		}
		slog.Info("Removed existing database", "path", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The loop is the only writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	s := &SQLite{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	slog.Info("Opened SQLite store", "path", path)
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) UpsertPosts(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	return s.inTx(ctx, upsertPostSQL, func(stmt *sql.Stmt) error {
		for _, p := range posts {
			var created any
			if p.CreatedAt != nil {
				created = formatTime(*p.CreatedAt)
			}
			_, err := stmt.ExecContext(ctx,
				p.PID, p.Text, nullPtr(p.Type), created,
				nullPtr(p.ReplyCount), nullPtr(p.LikeCount), nullStr(formatTime(p.LastRetrieved)),
			)
			if err != nil {
				return fmt.Errorf("upsert post %d: %w", p.PID, err)
			}
		}
		return nil
	})
}

func (s *SQLite) UpsertComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	return s.inTx(ctx, insertCommentSQL, func(stmt *sql.Stmt) error {
		for _, c := range comments {
			_, err := stmt.ExecContext(ctx,
				c.CID, c.PID, c.Text, nullStr(c.Author), nullStr(formatTime(c.CreatedAt)),
				nullStr(c.ExternalCommentID), nullStr(formatTime(c.LastRetrieved)),
			)
			if err != nil {
				return fmt.Errorf("insert comment %d: %w", c.CID, err)
			}
		}
		return nil
	})
}

func (s *SQLite) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetCommentsForPost returns the stored comments of pid ordered by cid.
func (s *SQLite) GetCommentsForPost(ctx context.Context, pid int64) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid, pid, text, name, time, comment_id, last_retrive FROM comments WHERE pid = ? ORDER BY cid`, pid)
	if err != nil {
		return nil, fmt.Errorf("query comments for %d: %w", pid, err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var (
			c                           models.Comment
			name, created, extID, retrv sql.NullString
		)
		if err := rows.Scan(&c.CID, &c.PID, &c.Text, &name, &created, &extID, &retrv); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Author = name.String
		c.ExternalCommentID = extID.String
		if c.CreatedAt, err = parseTime(created.String); err != nil {
			return nil, fmt.Errorf("comment %d time: %w", c.CID, err)
		}
		if c.LastRetrieved, err = parseTime(retrv.String); err != nil {
			return nil, fmt.Errorf("comment %d last_retrive: %w", c.CID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetStatistics reports the row count, the time of the rows with the lowest
// and highest key, and the latest last_retrive of table.
func (s *SQLite) GetStatistics(ctx context.Context, table string) (models.Stats, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return models.Stats{}, err
	}
	key := cols[0]
	st := models.Stats{Table: table}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&st.Count); err != nil {
		return models.Stats{}, fmt.Errorf("count %s: %w", table, err)
	}
	if st.Count == 0 {
		return st, nil
	}

	var oldest, newest, last sql.NullString
	q := fmt.Sprintf(`SELECT
  (SELECT time FROM %[1]s ORDER BY %[2]s ASC LIMIT 1),
  (SELECT time FROM %[1]s ORDER BY %[2]s DESC LIMIT 1),
  (SELECT MAX(last_retrive) FROM %[1]s)`, table, key)
	if err := s.db.QueryRowContext(ctx, q).Scan(&oldest, &newest, &last); err != nil {
		return models.Stats{}, fmt.Errorf("statistics %s: %w", table, err)
	}
	st.OldestTime, st.NewestTime, st.LastUpdate = oldest.String, newest.String, last.String
	return st, nil
}

func (s *SQLite) ExportCSV(ctx context.Context, table string, w io.Writer) (int, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), table, cols[0]))
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return 0, err
	}

	vals := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	record := make([]string, len(cols))

	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return n, fmt.Errorf("scan %s: %w", table, err)
		}
		for i, v := range vals {
			record[i] = v.String
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullPtr[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
