// Package embedding wraps the external text->vector service behind a
// rate-limited, retrying, circuit-breaking client (spec §4.2, §6).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/topictrends/cluster-core/internal/config"
	"github.com/topictrends/cluster-core/internal/metrics"
)

const requestTimeout = 30 * time.Second

// Circuit breaker configuration, adapted from the ollama embedding service
// client's breaker.
const (
	cbFailureThreshold = 5
	cbCooldown         = 30 * time.Second
)

const (
	cbClosed = iota
	cbOpen
	cbHalfOpen
)

// ErrCircuitOpen is returned when the circuit breaker is open and requests
// are being rejected without calling the embedding service.
var ErrCircuitOpen = errors.New("embedding circuit breaker is open")

// errRateLimited marks a failure as retryable per spec §4.2/§7(a)/§8 scenario 6.
type errRateLimited struct{ status int }

func (e *errRateLimited) Error() string {
	return fmt.Sprintf("embedding service rate-limited the request (status %d)", e.status)
}

// retryBackoffs are the fixed exponential delays of spec §8 scenario 6:
// 1s, 2s, 4s across three attempts.
var retryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Client embeds idea text into fixed-dimension vectors. It enforces a
// single global rate limit and retries rate-limited responses with bounded
// exponential backoff, distinguishing them from non-retryable failures.
type Client struct {
	url     string
	apiKey  config.Secret
	http    *http.Client
	limiter *limiter

	mu              sync.Mutex
	cbState         int
	cbFailures      int
	cbLastFailureAt time.Time
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// New constructs a Client against the configured embedding service URL,
// rate-limited to ratePerSec calls/s (spec §6 default: 100/s).
func New(url string, apiKey config.Secret, ratePerSec int) *Client {
	return &Client{
		url:     url,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: newLimiter(ratePerSec),
		cbState: cbClosed,
	}
}

// Embed produces a vector embedding for the given text, retrying
// rate-limited responses up to three times with 1s/2s/4s backoff (spec §8
// scenario 6). Non-retryable failures and storage/circuit-breaker errors
// return immediately.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		if attempt > 0 {
			metrics.EmbeddingRetries.Inc()

			timer := time.NewTimer(retryBackoffs[attempt-1])

			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		embedding, err := c.attempt(ctx, text)
		if err == nil {
			return embedding, nil
		}

		lastErr = err

		var rl *errRateLimited
		if !errors.As(err, &rl) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("embedding request exhausted retries: %w", lastErr)
}

// attempt performs one rate-limited, circuit-broken RPC.
func (c *Client) attempt(ctx context.Context, text string) ([]float32, error) {
	if err := c.cbAllow(); err != nil {
		return nil, err
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embedding rate limit: %w", err)
	}

	start := time.Now()
	embedding, err := c.doEmbed(ctx, text)
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())

	var rl *errRateLimited
	if err != nil && !errors.As(err, &rl) {
		// Rate-limit responses don't trip the breaker; they're expected and
		// handled by the retry loop above.
		c.cbRecordFailure()
	} else if err == nil {
		c.cbRecordSuccess()
	}

	return embedding, err
}

func (c *Client) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if key := c.apiKey.Value(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.
		return nil, &errRateLimited{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)) //nolint:errcheck // best-effort drain before close.
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var result embedResponse

	limited := io.LimitReader(resp.Body, 10<<20)
	if err := json.NewDecoder(limited).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}

	return result.Embedding, nil
}

func (c *Client) cbAllow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cbState {
	case cbClosed:
		return nil
	case cbOpen:
		if time.Since(c.cbLastFailureAt) >= cbCooldown {
			c.cbState = cbHalfOpen
			return nil
		}

		return ErrCircuitOpen
	case cbHalfOpen:
		return ErrCircuitOpen
	}

	return nil
}

func (c *Client) cbRecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cbFailures = 0
	c.cbState = cbClosed
}

func (c *Client) cbRecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cbFailures++
	c.cbLastFailureAt = time.Now()

	if c.cbFailures >= cbFailureThreshold || c.cbState == cbHalfOpen {
		c.cbState = cbOpen
	}
}
