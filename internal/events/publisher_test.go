package events_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/events"
	"github.com/topictrends/cluster-core/internal/models"
	"github.com/topictrends/cluster-core/internal/ws"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)

	return l
}

// TestPublisher_PublishBatchProcessedDeliversToDiscussionRoom exercises
// spec §4.8: a published event is delivered to a client connected to its
// discussion's room, under the documented event type.
func TestPublisher_PublishBatchProcessedDeliversToDiscussionRoom(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub(testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		client := ws.NewClient(hub, conn, "d1")
		hub.Register(client)

		go client.WritePump(r.Context())
		client.ReadPump(r.Context())
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	// Give the server side a moment to register before publishing.
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	pub := events.New(hub, testLogger())
	pub.PublishBatchProcessed(models.BatchProcessedEvent{
		DiscussionID:   "d1",
		ProcessedIdeas: []models.Projection{{ID: "i1"}},
		BatchSize:      1,
		ProcessedAt:    time.Unix(0, 0),
	})

	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}

	var evt ws.Event
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}

	if evt.Type != models.EventBatchProcessed {
		t.Errorf("expected event type %q, got %q", models.EventBatchProcessed, evt.Type)
	}

	var payload models.BatchProcessedEvent
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("invalid payload JSON: %v", err)
	}

	if payload.DiscussionID != "d1" {
		t.Errorf("expected discussion_id 'd1', got %q", payload.DiscussionID)
	}
}

// TestPublisher_PublishUnprocessedCountUsesCountsDiscussionID exercises the
// embedded UnprocessedCounts.DiscussionID routing for spec §4.8's third
// event type.
func TestPublisher_PublishUnprocessedCountUsesCountsDiscussionID(t *testing.T) {
	t.Parallel()

	hub := ws.NewHub(testLogger())
	pub := events.New(hub, testLogger())

	// No subscribers connected and nothing is read back; this only verifies
	// the call does not panic.
	pub.PublishUnprocessedCount(models.UnprocessedCountEvent{
		UnprocessedCounts: models.UnprocessedCounts{
			DiscussionID:   "d2",
			NeedsEmbedding: 3,
		},
	})
}
