package models

import "time"

// Event type names emitted by the Event Publisher (spec §4.8).
const (
	EventNewIdea                 = "new_idea"
	EventBatchProcessed          = "batch_processed"
	EventUnprocessedCountUpdated = "unprocessed_count_updated"
)

// NewIdeaEvent is produced by the external submission handler using the
// core's idea projection; the core re-publishes it unchanged.
type NewIdeaEvent struct {
	DiscussionID string     `json:"discussion_id"`
	Idea         Projection `json:"idea"`
}

// BatchProcessedEvent carries the outcome of one Centroid Clustering Engine
// invocation (spec §4.4 step 6).
type BatchProcessedEvent struct {
	DiscussionID     string       `json:"discussion_id"`
	ProcessedIdeas   []Projection `json:"processed_ideas"`
	BatchSize        int          `json:"batch_size"`
	UnclusteredCount int          `json:"unclustered_count"`
	ProcessedAt      time.Time    `json:"processed_at"`
}

// UnprocessedCountEvent carries the needs-embedding/needs-clustering split.
type UnprocessedCountEvent struct {
	UnprocessedCounts
}
