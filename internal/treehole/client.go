// Package treehole is an HTTP client for the forum's JSON content API. It
// consumes an already authenticated session (bearer token and cookies).
package treehole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/pauljones0/holemonitor/internal/config"
	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/util"
)

const (
	// PageSize is fixed server side.
	PageSize = 25
	// MinCommentLimit is the smallest comment page requested.
	MinCommentLimit = 10

	postsPath    = "/pku_hole"
	commentsPath = "/pku_comment_v3"
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36"

	maxBodyBytes = 8 << 20
)

// goneMessages are API messages meaning the post was deleted or hidden.
var goneMessages = []string{"不存在", "已删除", "已被删除", "not found", "deleted"}

// CommentOutcome is the result of a comment fetch. Gone is set when the post
// no longer exists; Comments is then empty.
type CommentOutcome struct {
	Comments []models.Comment
	Gone     bool
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cookie     string
	timeout    time.Duration
	limiter    *rate.Limiter
	now        func() time.Time
}

func New(cfg *config.Config) (*Client, error) {
	base, err := util.NormalizeBaseURL(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		httpClient: &http.Client{Jar: jar},
		baseURL:    base,
		token:      cfg.Token,
		cookie:     cfg.Cookie,
		timeout:    cfg.FetchTimeout,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}, nil
}

// FetchPostsPage fetches one page of posts, newest first. Pages start at 1.
func (c *Client) FetchPostsPage(ctx context.Context, page int) ([]models.Post, error) {
	op := fmt.Sprintf("posts page %d", page)
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(PageSize))

	env, err := c.get(ctx, op, c.baseURL+postsPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if !env.ok() {
		return nil, util.Transient(op, http.StatusOK, fmt.Errorf("API reported failure: %s", env.Message))
	}

	var items []apiPost
	if err := env.list(&items); err != nil {
		return nil, util.Malformed(op, err)
	}

	retrieved := c.now()
	posts := make([]models.Post, 0, len(items))
	for _, it := range items {
		p, err := it.toPost(retrieved)
		if err != nil {
			return nil, util.Malformed(op, err)
		}
		posts = append(posts, p)
	}
	slog.Debug("Fetched posts page", "page", page, "count", len(posts))
	return posts, nil
}

// FetchComments fetches the comments of pid, asking for at least
// max(MinCommentLimit, minLimit) records.
func (c *Client) FetchComments(ctx context.Context, pid int64, minLimit int) (CommentOutcome, error) {
	op := fmt.Sprintf("comments %d", pid)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(max(MinCommentLimit, minLimit)))

	env, err := c.get(ctx, op, fmt.Sprintf("%s%s/%d?%s", c.baseURL, commentsPath, pid, q.Encode()))
	if err != nil {
		if util.IsKind(err, util.KindGone) {
			return CommentOutcome{Gone: true}, nil
		}
		return CommentOutcome{}, err
	}
	if !env.ok() {
		if isGoneMessage(env.Message) {
			return CommentOutcome{Gone: true}, nil
		}
		return CommentOutcome{}, util.Transient(op, http.StatusOK, fmt.Errorf("API reported failure: %s", env.Message))
	}

	var items []apiComment
	if err := env.list(&items); err != nil {
		return CommentOutcome{}, util.Malformed(op, err)
	}

	retrieved := c.now()
	comments := make([]models.Comment, 0, len(items))
	for _, it := range items {
		cm, err := it.toComment(pid, retrieved)
		if err != nil {
			return CommentOutcome{}, util.Malformed(op, err)
		}
		comments = append(comments, cm)
	}
	return CommentOutcome{Comments: comments}, nil
}

func (c *Client) get(ctx context.Context, op, urlStr string) (*envelope, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, util.Transient(op, 0, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, util.Transient(op, res.StatusCode, fmt.Errorf("read body: %w", err))
	}

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, util.Gone(op, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, util.Transient(op, res.StatusCode, fmt.Errorf("unexpected status %s", res.Status))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, util.Malformed(op, fmt.Errorf("decode envelope: %w", err))
	}
	return &env, nil
}

func isGoneMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range goneMessages {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
