// Package summarize wraps the external summarization service used to
// produce a Topic's representative text from its member ideas (spec §4.4
// step 5/§4.5 step 5, §6).
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const requestTimeout = 20 * time.Second

// Client calls the external summarization service.
type Client struct {
	url  string
	http *http.Client
}

// New constructs a Client against the configured summarizer service URL.
func New(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: requestTimeout}}
}

type summarizeRequest struct {
	Texts []string `json:"texts"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize condenses a topic's member texts into a single representative
// text, used to seed or refresh a Topic's RepresentativeText.
func (c *Client) Summarize(ctx context.Context, memberTexts []string) (string, error) {
	if len(memberTexts) == 0 {
		return "", fmt.Errorf("summarize: no member texts provided")
	}

	body, err := json.Marshal(summarizeRequest{Texts: memberTexts})
	if err != nil {
		return "", fmt.Errorf("marshaling summarize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/summarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating summarize request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling summarizer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.
		return "", fmt.Errorf("summarizer service returned status %d", resp.StatusCode)
	}

	var result summarizeResponse

	limited := io.LimitReader(resp.Body, 1<<20)
	if err := json.NewDecoder(limited).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding summarize response: %w", err)
	}

	return result.Summary, nil
}
