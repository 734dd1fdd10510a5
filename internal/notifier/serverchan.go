package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

const serverChanEndpoint = "https://sctapi.ftqq.com"

// ServerChan pushes messages through the ServerChan (Server酱) service.
type ServerChan struct {
	key         string
	endpoint    string
	client      *http.Client
	rateLimiter *rate.Limiter
}

func NewServerChan(key string) *ServerChan {
	return &ServerChan{
		key:         key,
		endpoint:    serverChanEndpoint,
		client:      &http.Client{Timeout: httpTimeout},
		rateLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

type serverChanResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts title and body as the form fields title and desp. It is a no-op
// without a send key.
func (s *ServerChan) Send(ctx context.Context, title, body string) error {
	if s.key == "" {
		slog.Debug("ServerChan key not set, skipping notification", "title", title)
		return nil
	}
	form := url.Values{}
	form.Set("title", title)
	form.Set("desp", body)
	target := fmt.Sprintf("%s/%s.send", s.endpoint, s.key)

	respBody, err := sendWithRetry(ctx, s.client, s.rateLimiter, "serverchan", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return err
	}

	var res serverChanResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return fmt.Errorf("decode serverchan response: %w", err)
	}
	if res.Code != 0 {
		return fmt.Errorf("serverchan rejected message: code %d: %s", res.Code, res.Message)
	}
	slog.Info("Sent ServerChan notification", "title", title)
	return nil
}
