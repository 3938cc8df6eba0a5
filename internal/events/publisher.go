// Package events adapts the three domain events of spec §4.8 onto
// room-scoped WebSocket broadcasts, where the room is the discussion id.
package events

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/models"
	"github.com/topictrends/cluster-core/internal/ws"
)

// Publisher implements domain.EventPublisher over a WebSocket Hub.
// Delivery is best-effort to currently connected subscribers; the store
// remains the source of truth (spec §4.8).
type Publisher struct {
	hub *ws.Hub
	log *logrus.Logger
}

// New constructs a Publisher.
func New(hub *ws.Hub, log *logrus.Logger) *Publisher {
	return &Publisher{hub: hub, log: log}
}

// PublishNewIdea re-broadcasts a freshly submitted idea's client-safe
// projection to its discussion's room (spec §4.8 "new_idea").
func (p *Publisher) PublishNewIdea(discussionID string, idea models.Projection) {
	p.broadcast(discussionID, models.EventNewIdea, models.NewIdeaEvent{
		DiscussionID: discussionID,
		Idea:         idea,
	})
}

// PublishBatchProcessed announces the outcome of one Centroid Clustering
// Engine invocation (spec §4.4 step 6, §4.8 "batch_processed").
func (p *Publisher) PublishBatchProcessed(event models.BatchProcessedEvent) {
	p.broadcast(event.DiscussionID, models.EventBatchProcessed, event)
}

// PublishUnprocessedCount announces the needs-embedding/needs-clustering
// split for a discussion (spec §4.8 "unprocessed_count_updated").
func (p *Publisher) PublishUnprocessedCount(event models.UnprocessedCountEvent) {
	p.broadcast(event.DiscussionID, models.EventUnprocessedCountUpdated, event)
}

func (p *Publisher) broadcast(discussionID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).WithField("event_type", eventType).Error("marshalling event payload")
		return
	}

	p.hub.BroadcastEvent(eventType, discussionID, json.RawMessage(data))
}
