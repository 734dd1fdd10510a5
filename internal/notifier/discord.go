package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/holemonitor/internal/util"
)

const (
	colorReport = 3447003 // #3498DB

	// Discord embed limits.
	maxTitleLen       = 256
	maxDescriptionLen = 4096
)

// Discord posts messages to a Discord channel webhook.
type Discord struct {
	webhookURL  string
	client      *http.Client
	rateLimiter *rate.Limiter
	now         func() time.Time
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		// Discord allows 5 webhook requests per 2 seconds.
		rateLimiter: rate.NewLimiter(rate.Every(400*time.Millisecond), 1),
		now:         time.Now,
	}
}

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}

type discordEmbed struct {
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Timestamp   string             `json:"timestamp,omitempty"`
	Color       int                `json:"color,omitempty"`
	Footer      discordEmbedFooter `json:"footer,omitempty"`
}

type discordMessageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

func formatEmbed(title, body string, ts time.Time) discordEmbed {
	return discordEmbed{
		Title:       util.Truncate(title, maxTitleLen-1),
		Description: util.Truncate(body, maxDescriptionLen-1),
		Timestamp:   ts.Format(time.RFC3339),
		Color:       colorReport,
		Footer:      discordEmbedFooter{Text: "holemonitor"},
	}
}

// Send posts one embed. It is a no-op without a webhook URL.
func (c *Discord) Send(ctx context.Context, title, body string) error {
	if c.webhookURL == "" {
		return nil
	}
	payload := discordWebhookPayload{Embeds: []discordEmbed{formatEmbed(title, body, c.now())}}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	parsedURL, err := url.Parse(c.webhookURL)
	if err != nil {
		return err
	}
	q := parsedURL.Query()
	q.Set("wait", "true")
	parsedURL.RawQuery = q.Encode()

	respBody, err := sendWithRetry(ctx, c.client, c.rateLimiter, "discord", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedURL.String(), bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}

	var msg discordMessageResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return err
	}
	slog.Info("Sent Discord notification", "message_id", msg.ID, "title", title)
	return nil
}
