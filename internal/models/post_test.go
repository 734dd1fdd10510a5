package models

import (
	"testing"
	"time"
)

func TestPostFill_KeepsOlderWhenMissing(t *testing.T) {
	created := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	older := Post{
		PID:        42,
		Text:       "old text",
		Type:       Ptr("text"),
		CreatedAt:  &created,
		ReplyCount: Ptr(3),
		LikeCount:  Ptr(7),
	}
	newer := Post{PID: 42, ReplyCount: Ptr(5)}

	got := newer.Fill(older)

	if got.Text != "old text" {
		t.Errorf("Expected old text to be kept, got %q", got.Text)
	}
	if got.Type == nil || *got.Type != "text" {
		t.Errorf("Expected type 'text', got %v", got.Type)
	}
	if got.CreatedAt == nil || !got.CreatedAt.Equal(created) {
		t.Errorf("Expected created time to be kept, got %v", got.CreatedAt)
	}
	if got.Replies() != 5 {
		t.Errorf("Expected newer reply count 5, got %d", got.Replies())
	}
	if got.Likes() != 7 {
		t.Errorf("Expected older like count 7, got %d", got.Likes())
	}
}

func TestPostFill_NewerWins(t *testing.T) {
	older := Post{PID: 1, Text: "a", ReplyCount: Ptr(1), LikeCount: Ptr(1)}
	newer := Post{PID: 1, Text: "b", ReplyCount: Ptr(0), LikeCount: Ptr(2)}

	got := newer.Fill(older)
	if got.Text != "b" || got.Replies() != 0 || got.Likes() != 2 {
		t.Errorf("Expected newer values to win, got text=%q reply=%d like=%d", got.Text, got.Replies(), got.Likes())
	}
}

func TestPostHot(t *testing.T) {
	p := Post{ReplyCount: Ptr(3), LikeCount: Ptr(4)}
	if p.Hot() != 7 {
		t.Errorf("Expected fallback hotness 7, got %v", p.Hot())
	}
	p.Hotness = Ptr(99.5)
	if p.Hot() != 99.5 {
		t.Errorf("Expected supplied hotness 99.5, got %v", p.Hot())
	}
}

func TestCommentFill(t *testing.T) {
	older := Comment{CID: 9, PID: 1, Text: "hi", Author: "Alice"}
	got := Comment{CID: 9, Text: "edited"}.Fill(older)
	if got.PID != 1 || got.Author != "Alice" || got.Text != "edited" {
		t.Errorf("Unexpected merged comment: %+v", got)
	}
}
