package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxSendAttempts = 4
	baseBackoff     = 250 * time.Millisecond
	maxRetryAfter   = 30 * time.Second
	httpTimeout     = 10 * time.Second
)

// sendWithRetry performs the request built by newReq, retrying on 429 and
// 5xx responses. The body of the final successful response is returned.
func sendWithRetry(ctx context.Context, client *http.Client, limiter *rate.Limiter, name string, newReq func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", name, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		lastErr = fmt.Errorf("%s status: %s, body: %s", name, resp.Status, string(body))
		wait := retryBackoff(resp, attempt)
		if wait == 0 {
			return nil, lastErr
		}
		slog.Warn("Notification failed, retrying", "notifier", name, "status", resp.StatusCode, "attempt", attempt+1, "wait", wait)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// retryBackoff returns how long to wait before retrying resp, or 0 when the
// status is not retryable. attempt is 0-indexed.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && secs > 0 {
			return min(time.Duration(secs*float64(time.Second)), maxRetryAfter)
		}
		return time.Second * time.Duration(attempt+1)
	case resp.StatusCode >= 500:
		return baseBackoff * time.Duration(math.Pow(2, float64(attempt)))
	default:
		return 0
	}
}
