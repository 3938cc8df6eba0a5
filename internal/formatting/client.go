// Package formatting wraps the external idea-enrichment service: the
// collaborator that classifies intent, extracts keywords, scores
// sentiment, and judges on-topic relevance for a submitted idea (spec §6).
package formatting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/topictrends/cluster-core/internal/models"
)

const requestTimeout = 15 * time.Second

// Client calls the external formatting/enrichment service.
type Client struct {
	url  string
	http *http.Client
}

// New constructs a Client against the configured formatting service URL.
func New(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: requestTimeout}}
}

type formatRequest struct {
	Text             string `json:"text"`
	DiscussionPrompt string `json:"discussion_prompt"`
}

// Format classifies a submitted idea against its discussion's prompt,
// returning intent, keywords, sentiment, and an on-topic score.
func (c *Client) Format(ctx context.Context, text, discussionPrompt string) (models.Enrichment, error) {
	body, err := json.Marshal(formatRequest{Text: text, DiscussionPrompt: discussionPrompt})
	if err != nil {
		return models.Enrichment{}, fmt.Errorf("marshaling format request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/format", bytes.NewReader(body))
	if err != nil {
		return models.Enrichment{}, fmt.Errorf("creating format request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Enrichment{}, fmt.Errorf("calling formatting service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.
		return models.Enrichment{}, fmt.Errorf("formatting service returned status %d", resp.StatusCode)
	}

	var enrichment models.Enrichment

	limited := io.LimitReader(resp.Body, 1<<20)
	if err := json.NewDecoder(limited).Decode(&enrichment); err != nil {
		return models.Enrichment{}, fmt.Errorf("decoding format response: %w", err)
	}

	return enrichment, nil
}
