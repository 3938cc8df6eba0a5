// Package models defines the data types for the idea clustering core.
package models

import (
	"time"
)

// IdeaStatus is the canonical lifecycle state of an Idea (spec §3).
type IdeaStatus string

const (
	IdeaPending    IdeaStatus = "pending"
	IdeaProcessing IdeaStatus = "processing"
	IdeaEmbedded   IdeaStatus = "embedded"
	IdeaCompleted  IdeaStatus = "completed"
	IdeaFailed     IdeaStatus = "failed"
	IdeaStuck      IdeaStatus = "stuck"
)

// Enrichment holds the optional fields produced by the Formatting Client (spec §4.5/§6).
type Enrichment struct {
	Intent    string   `json:"intent,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Sentiment string   `json:"sentiment,omitempty"`
	OnTopic   *float64 `json:"on_topic_score,omitempty"`
}

// Idea is a single user-submitted text awaiting assignment to a Topic.
type Idea struct {
	ID             string     `json:"id"`
	DiscussionID   string     `json:"discussion_id"`
	Text           string     `json:"text"`
	SubmitterID    string     `json:"submitter_id"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	Status         IdeaStatus `json:"status"`
	Embedding      []float32  `json:"-"`
	TopicID        *string    `json:"topic_id,omitempty"`
	Enrichment     Enrichment `json:"enrichment"`
	LastAttemptAt  *time.Time `json:"-"`
	UpdatedAt      time.Time  `json:"-"`
}

// HasEmbedding reports whether the idea carries a usable embedding vector.
func (i *Idea) HasEmbedding() bool {
	return len(i.Embedding) > 0
}

// Projection is the client-safe view of an Idea used in fan-out events
// (spec §3 "critical persisted fields"; never includes the raw embedding).
type Projection struct {
	ID           string     `json:"id"`
	DiscussionID string     `json:"discussion_id"`
	Text         string     `json:"text"`
	SubmitterID  string     `json:"submitter_id"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Status       IdeaStatus `json:"status"`
	TopicID      *string    `json:"topic_id,omitempty"`
	Enrichment   Enrichment `json:"enrichment"`
}

// Project converts an Idea into its client-safe projection.
func (i *Idea) Project() Projection {
	return Projection{
		ID:           i.ID,
		DiscussionID: i.DiscussionID,
		Text:         i.Text,
		SubmitterID:  i.SubmitterID,
		SubmittedAt:  i.SubmittedAt,
		Status:       i.Status,
		TopicID:      i.TopicID,
		Enrichment:   i.Enrichment,
	}
}
