package models

import (
	"time"
)

// Post is a single forum submission ("hole"), keyed by PID.
//
// Fields the API may omit are pointers so that a partial fetch never
// overwrites a previously known value. See Fill for the merge rule.
type Post struct {
	PID           int64      `firestore:"pid" validate:"gt=0"`
	Text          string     `firestore:"text"`
	Type          *string    `firestore:"type,omitempty"`
	CreatedAt     *time.Time `firestore:"time,omitempty"`
	ReplyCount    *int       `firestore:"reply,omitempty" validate:"omitnil,gte=0"`
	LikeCount     *int       `firestore:"likenum,omitempty" validate:"omitnil,gte=0"`
	Hotness       *float64   `firestore:"-"`
	LastRetrieved time.Time  `firestore:"last_retrive"`
}

// Replies returns the known reply count, or 0.
func (p Post) Replies() int {
	if p.ReplyCount == nil {
		return 0
	}
	return *p.ReplyCount
}

// Likes returns the known like count, or 0.
func (p Post) Likes() int {
	if p.LikeCount == nil {
		return 0
	}
	return *p.LikeCount
}

// Hot returns the API supplied hotness, falling back to replies plus likes.
func (p Post) Hot() float64 {
	if p.Hotness != nil {
		return *p.Hotness
	}
	return float64(p.Replies() + p.Likes())
}

// Fill returns p with every absent field taken from older.
//
//   - Text: p wins unless empty.
//   - Type, CreatedAt, ReplyCount, LikeCount, Hotness: p wins unless nil.
//   - LastRetrieved: p wins unless zero.
//
// PID is never changed.
func (p Post) Fill(older Post) Post {
	if p.Text == "" {
		p.Text = older.Text
	}
	if p.Type == nil {
		p.Type = older.Type
	}
	if p.CreatedAt == nil {
		p.CreatedAt = older.CreatedAt
	}
	if p.ReplyCount == nil {
		p.ReplyCount = older.ReplyCount
	}
	if p.LikeCount == nil {
		p.LikeCount = older.LikeCount
	}
	if p.Hotness == nil {
		p.Hotness = older.Hotness
	}
	if p.LastRetrieved.IsZero() {
		p.LastRetrieved = older.LastRetrieved
	}
	return p
}

// Comment is a reply to a post, keyed globally by CID.
type Comment struct {
	CID               int64     `firestore:"cid" validate:"gt=0"`
	PID               int64     `firestore:"pid" validate:"gt=0"`
	Text              string    `firestore:"text"`
	Author            string    `firestore:"name"`
	CreatedAt         time.Time `firestore:"time"`
	ExternalCommentID string    `firestore:"comment_id"`
	LastRetrieved     time.Time `firestore:"last_retrive"`
}

// Fill returns c with empty fields taken from older.
func (c Comment) Fill(older Comment) Comment {
	if c.PID == 0 {
		c.PID = older.PID
	}
	if c.Text == "" {
		c.Text = older.Text
	}
	if c.Author == "" {
		c.Author = older.Author
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = older.CreatedAt
	}
	if c.ExternalCommentID == "" {
		c.ExternalCommentID = older.ExternalCommentID
	}
	if c.LastRetrieved.IsZero() {
		c.LastRetrieved = older.LastRetrieved
	}
	return c
}

// Stats summarises one persisted table.
type Stats struct {
	Table      string
	Count      int
	OldestTime string
	NewestTime string
	LastUpdate string
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
