// Package notifier delivers match reports to an operator over a webhook.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/pauljones0/holemonitor/internal/config"
	"github.com/pauljones0/holemonitor/internal/models"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// MatchTitle is the notification title for n matched posts.
func MatchTitle(n int) string {
	return fmt.Sprintf("Holemonitor: 找到匹配，共有%d条记录", n)
}

// RenderMatches lists posts as pid, time and text blocks.
func RenderMatches(posts []models.Post) string {
	var b strings.Builder
	for _, p := range posts {
		created := ""
		if p.CreatedAt != nil {
			created = p.CreatedAt.Format(reportTimeLayout)
		}
		fmt.Fprintf(&b, "pid: %d\ntime: %s\ntext: %s\n\n", p.PID, created, p.Text)
	}
	return b.String()
}

// ThreadTitle is the notification title for a finished thread.
func ThreadTitle(pid int64) string {
	return fmt.Sprintf("Holemonitor: 树洞#%d已结束", pid)
}

// RenderThread renders a finished thread with its comments. A non-empty
// summary is placed first.
func RenderThread(post models.Post, comments []models.Comment, summary string) string {
	var b strings.Builder
	if summary != "" {
		fmt.Fprintf(&b, "summary: %s\n\n", summary)
	}
	b.WriteString(RenderMatches([]models.Post{post}))
	for _, c := range comments {
		fmt.Fprintf(&b, "[%s] %s: %s\n", c.CreatedAt.Format(reportTimeLayout), c.Author, c.Text)
	}
	return b.String()
}

// New returns the transport selected by cfg.Notifier.
func New(cfg *config.Config) (Sender, error) {
	switch cfg.Notifier {
	case config.NotifierDiscord:
		return NewDiscord(cfg.DiscordWebhookURL), nil
	case config.NotifierServerChan, "":
		return NewServerChan(cfg.ServerKey), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}

// Sender delivers one titled message.
type Sender interface {
	Send(ctx context.Context, title, body string) error
}
