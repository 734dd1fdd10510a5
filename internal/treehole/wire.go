package treehole

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/util"
)

type envelope struct {
	Code    int             `json:"code"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) ok() bool {
	return e.Success == nil || *e.Success
}

// list decodes the record list nested at data.data.
func (e *envelope) list(dst any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return errors.New("response has no data")
	}
	var page struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(e.Data, &page); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	if len(page.Data) == 0 || string(page.Data) == "null" {
		return errors.New("response has no data.data list")
	}
	if err := json.Unmarshal(page.Data, dst); err != nil {
		return fmt.Errorf("decode data.data: %w", err)
	}
	return nil
}

type apiPost struct {
	PID       json.Number  `json:"pid"`
	Text      *string      `json:"text"`
	Type      *string      `json:"type"`
	Timestamp *json.Number `json:"timestamp"`
	Reply     *json.Number `json:"reply"`
	LikeNum   *json.Number `json:"likenum"`
	Hot       *json.Number `json:"hot"`
}

func (a apiPost) toPost(retrieved time.Time) (models.Post, error) {
	pid, err := a.PID.Int64()
	if err != nil {
		return models.Post{}, fmt.Errorf("post pid %q: %w", a.PID, err)
	}
	p := models.Post{PID: pid, Type: a.Type, LastRetrieved: retrieved}
	if a.Text != nil {
		p.Text = util.PlainText(*a.Text)
	}
	if p.CreatedAt, err = epoch(a.Timestamp); err != nil {
		return models.Post{}, fmt.Errorf("post %d timestamp: %w", pid, err)
	}
	if p.ReplyCount, err = optInt(a.Reply); err != nil {
		return models.Post{}, fmt.Errorf("post %d reply: %w", pid, err)
	}
	if p.LikeCount, err = optInt(a.LikeNum); err != nil {
		return models.Post{}, fmt.Errorf("post %d likenum: %w", pid, err)
	}
	if a.Hot != nil {
		h, err := a.Hot.Float64()
		if err != nil {
			return models.Post{}, fmt.Errorf("post %d hot: %w", pid, err)
		}
		p.Hotness = &h
	}
	return p, nil
}

type apiComment struct {
	CID       json.Number     `json:"cid"`
	PID       *json.Number    `json:"pid"`
	Text      *string         `json:"text"`
	Name      *string         `json:"name"`
	Timestamp *json.Number    `json:"timestamp"`
	CommentID json.RawMessage `json:"comment_id"`
}

func (a apiComment) toComment(pid int64, retrieved time.Time) (models.Comment, error) {
	cid, err := a.CID.Int64()
	if err != nil {
		return models.Comment{}, fmt.Errorf("comment cid %q: %w", a.CID, err)
	}
	c := models.Comment{CID: cid, PID: pid, LastRetrieved: retrieved}
	if a.PID != nil {
		if owner, err := a.PID.Int64(); err == nil && owner > 0 {
			c.PID = owner
		}
	}
	if a.Text != nil {
		c.Text = util.PlainText(*a.Text)
	}
	if a.Name != nil {
		c.Author = *a.Name
	}
	created, err := epoch(a.Timestamp)
	if err != nil {
		return models.Comment{}, fmt.Errorf("comment %d timestamp: %w", cid, err)
	}
	if created != nil {
		c.CreatedAt = *created
	}
	c.ExternalCommentID = rawScalar(a.CommentID)
	return c, nil
}

func epoch(n *json.Number) (*time.Time, error) {
	if n == nil {
		return nil, nil
	}
	sec, err := n.Int64()
	if err != nil {
		return nil, err
	}
	t := time.Unix(sec, 0)
	return &t, nil
}

func optInt(n *json.Number) (*int, error) {
	if n == nil {
		return nil, nil
	}
	v, err := n.Int64()
	if err != nil {
		return nil, err
	}
	i := int(v)
	return &i, nil
}

// rawScalar renders a JSON scalar as text; null and absent become "".
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
