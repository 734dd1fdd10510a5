package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/holemonitor/internal/models"
)

// Firestore keeps posts in the "holes" collection and comments in
// "comments", each document keyed by the decimal pid or cid.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, projectID string) (*Firestore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (c *Firestore) Close() error {
	return c.client.Close()
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// postFields returns the fields of p that should overwrite the stored
// document. Absent values are left out so a merge keeps the stored ones.
func postFields(p models.Post) map[string]interface{} {
	m := map[string]interface{}{"pid": p.PID}
	if p.Text != "" {
		m["text"] = p.Text
	}
	if p.Type != nil {
		m["type"] = *p.Type
	}
	if p.CreatedAt != nil {
		m["time"] = *p.CreatedAt
	}
	if p.ReplyCount != nil {
		m["reply"] = *p.ReplyCount
	}
	if p.LikeCount != nil {
		m["likenum"] = *p.LikeCount
	}
	if !p.LastRetrieved.IsZero() {
		m["last_retrive"] = p.LastRetrieved
	}
	return m
}

func (c *Firestore) UpsertPosts(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	col := c.client.Collection(TablePosts)
	bulkWriter := c.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(posts))
	for _, p := range posts {
		job, err := bulkWriter.Set(col.Doc(docID(p.PID)), postFields(p), firestore.MergeAll)
		if err != nil {
			bulkWriter.End()
			return fmt.Errorf("queue post %d: %w", p.PID, err)
		}
		jobs = append(jobs, job)
	}
	bulkWriter.End()

	failed := 0
	var firstErr error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("upsert post %d: %w", posts[i].PID, err)
			}
		}
	}
	if failed > 0 {
		slog.Error("Firestore post upsert had failures", "failed", failed, "total", len(posts))
		return firstErr
	}
	return nil
}

// UpsertComments creates comments that do not exist yet. Existing documents
// are left untouched.
func (c *Firestore) UpsertComments(ctx context.Context, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	col := c.client.Collection(TableComments)
	bulkWriter := c.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(comments))
	for _, cm := range comments {
		// Create fails if the document already exists.
		job, err := bulkWriter.Create(col.Doc(docID(cm.CID)), cm)
		if err != nil {
			bulkWriter.End()
			return fmt.Errorf("queue comment %d: %w", cm.CID, err)
		}
		jobs = append(jobs, job)
	}
	bulkWriter.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				continue
			}
			return fmt.Errorf("create comment %d: %w", comments[i].CID, err)
		}
	}
	return nil
}

func (c *Firestore) GetCommentsForPost(ctx context.Context, pid int64) ([]models.Comment, error) {
	iter := c.client.Collection(TableComments).Where("pid", "==", pid).Documents(ctx)
	defer iter.Stop()

	var out []models.Comment
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate comments for %d: %w", pid, err)
		}
		var cm models.Comment
		if err := doc.DataTo(&cm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comment %s: %w", doc.Ref.ID, err)
		}
		out = append(out, cm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })
	return out, nil
}

func (c *Firestore) GetStatistics(ctx context.Context, table string) (models.Stats, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return models.Stats{}, err
	}
	key := cols[0]
	col := c.client.Collection(table)
	st := models.Stats{Table: table}

	countSnapshot, err := col.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to count %s: %w", table, err)
	}
	countValue, ok := countSnapshot["all"]
	if !ok {
		return models.Stats{}, fmt.Errorf("count aggregation result was invalid: 'all' key missing")
	}
	n, err := aggregateCount(countValue)
	if err != nil {
		return models.Stats{}, err
	}
	st.Count = int(n)
	if st.Count == 0 {
		return st, nil
	}

	if st.OldestTime, err = c.firstTime(ctx, col.OrderBy(key, firestore.Asc), "time"); err != nil {
		return models.Stats{}, err
	}
	if st.NewestTime, err = c.firstTime(ctx, col.OrderBy(key, firestore.Desc), "time"); err != nil {
		return models.Stats{}, err
	}
	if st.LastUpdate, err = c.firstTime(ctx, col.OrderBy("last_retrive", firestore.Desc), "last_retrive"); err != nil {
		return models.Stats{}, err
	}
	return st, nil
}

// aggregateCount reads the value of a count aggregation.
func aggregateCount(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case *firestorepb.Value:
		return val.GetIntegerValue(), nil
	default:
		return 0, fmt.Errorf("count aggregation result has unexpected type %T", v)
	}
}

func (c *Firestore) firstTime(ctx context.Context, q firestore.Query, field string) (string, error) {
	iter := q.Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", field, err)
	}
	return cell(doc.Data()[field]), nil
}

func (c *Firestore) ExportCSV(ctx context.Context, table string, w io.Writer) (int, error) {
	cols, err := columnsFor(table)
	if err != nil {
		return 0, err
	}
	iter := c.client.Collection(table).OrderBy(cols[0], firestore.Asc).Documents(ctx)
	defer iter.Stop()

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return 0, err
	}
	record := make([]string, len(cols))
	n := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to iterate %s: %w", table, err)
		}
		data := doc.Data()
		for i, col := range cols {
			record[i] = cell(data[col])
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

// cell renders a Firestore value the way the SQLite backend stores it.
func cell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return formatTime(val)
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
