// Package summary produces a one-line digest of a finished thread with Gemini.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pauljones0/holemonitor/internal/models"
	"github.com/pauljones0/holemonitor/internal/util"
)

// maxPromptComments bounds how much of a long thread is sent.
const maxPromptComments = 50

type Client struct {
	client *genai.Client
	model  string
}

type result struct {
	Summary string `json:"summary"`
}

// NewClient returns nil without an API key. A nil *Client is usable and
// always returns an empty summary.
func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{client: client, model: modelID}, nil
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.2),
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"summary": {
					Type:        genai.TypeString,
					Description: "One sentence in Chinese (at most 60 characters) describing what the thread asked and how it was resolved.",
				},
			},
			Required: []string{"summary"},
		},
	}
}

// Summarize returns a short digest of post and its comments.
func (c *Client) Summarize(ctx context.Context, post models.Post, comments []models.Comment) (string, error) {
	if c == nil || c.client == nil {
		return "", nil
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(buildPrompt(post, comments)), generationConfig())
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no text in gemini response")
	}
	return parseSummary(text)
}

func buildPrompt(post models.Post, comments []models.Comment) string {
	var b strings.Builder
	b.WriteString("Summarize this anonymous forum thread.\n\n")
	fmt.Fprintf(&b, "Post #%d:\n%s\n\nReplies:\n", post.PID, util.Truncate(post.Text, 2000))
	if len(comments) > maxPromptComments {
		comments = comments[:maxPromptComments]
	}
	for _, c := range comments {
		fmt.Fprintf(&b, "- %s: %s\n", c.Author, util.Truncate(c.Text, 300))
	}
	b.WriteString("\nOutput JSON adhering to the schema.\n")
	return b.String()
}

func parseSummary(text string) (string, error) {
	// Clean up potential markdown formatting just in case
	jsonStr := strings.TrimSpace(text)
	jsonStr = strings.TrimPrefix(jsonStr, "```json")
	jsonStr = strings.TrimPrefix(jsonStr, "```")
	jsonStr = strings.TrimSuffix(jsonStr, "```")

	var r result
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &r); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}
	return strings.TrimSpace(r.Summary), nil
}
