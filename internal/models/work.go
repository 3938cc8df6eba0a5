package models

import "time"

// WorkItem is a FIFO entry in the Work Queue (spec §3/§4.1).
type WorkItem struct {
	IdeaID       string    `json:"idea_id"`
	DiscussionID string    `json:"discussion_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// DeferredIdea is a payload held in a per-discussion Deferred Queue while
// the Reclustering Lock is held (spec §3/§4.4 step 1).
type DeferredIdea struct {
	DiscussionID string    `json:"discussion_id"`
	IdeaID       string    `json:"idea_id"`
	DeferredAt   time.Time `json:"deferred_at"`
}

// LockInfo describes the current state of a discussion's Reclustering Lock.
type LockInfo struct {
	DiscussionID string    `json:"discussion_id"`
	Holder       string    `json:"holder"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}
