package embedding_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/topictrends/cluster-core/internal/config"
	"github.com/topictrends/cluster-core/internal/embedding"
)

func TestClient_EmbedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}}) //nolint:errcheck
	}))
	defer srv.Close()

	c := embedding.New(srv.URL, config.Secret(""), 100)

	got, err := c.Embed(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3-dim embedding, got %d", len(got))
	}
}

func TestClient_RetriesRateLimitedThenSucceeds(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.5}}) //nolint:errcheck
	}))
	defer srv.Close()

	c := embedding.New(srv.URL, config.Secret(""), 100)

	_, err := c.Embed(context.Background(), "an idea")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}

	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestClient_NonRetryableFailureReturnsImmediately(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := embedding.New(srv.URL, config.Secret(""), 100)

	_, err := c.Embed(context.Background(), "an idea")
	if err == nil {
		t.Fatal("expected an error")
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable failure, got %d", calls)
	}
}

func TestClient_ExhaustsRetriesOnPersistentRateLimit(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := embedding.New(srv.URL, config.Secret(""), 100)

	_, err := c.Embed(context.Background(), "an idea")
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}

	// One initial attempt plus three retries (spec §8 scenario 6).
	if atomic.LoadInt32(&calls) != 4 {
		t.Fatalf("expected exactly 4 calls, got %d", calls)
	}
}
