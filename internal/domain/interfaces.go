// Package domain defines the canonical interfaces for every external
// collaborator the clustering core depends on. No component reaches for
// global state; a composition root (cmd/clusterworker) wires concrete
// implementations into the Clustering Coordinator and Dispatcher, and
// tests substitute in-memory fakes.
package domain

import (
	"context"
	"time"

	"github.com/topictrends/cluster-core/internal/models"
)

// IdeaStore is the durable record of ideas (spec §3, §4.1-§4.7).
type IdeaStore interface {
	GetIdea(ctx context.Context, ideaID string) (*models.Idea, error)
	GetIdeas(ctx context.Context, ideaIDs []string) ([]models.Idea, error)
	ListEmbedded(ctx context.Context, discussionID string) ([]models.Idea, error)
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.Idea, error)

	// UpdateStatusBulk transitions a set of ideas to a new status in one write (§4.7 step 2).
	UpdateStatusBulk(ctx context.Context, ideaIDs []string, status models.IdeaStatus) error
	// MarkAttempt records the "last attempt" timestamp before an embed call (§4.3 step a).
	MarkAttempt(ctx context.Context, ideaID string, at time.Time) error
	// MarkEmbedded persists embedding + enrichment + status=embedded atomically (§4.3 step c).
	MarkEmbedded(ctx context.Context, ideaID string, embedding []float32, enrichment models.Enrichment) error
	// ResetToPending is the retry hook for stuck/failed ideas (spec §6).
	ResetToPending(ctx context.Context, ideaIDs []string) error

	// CountByStatus returns per-status counts for a discussion (operator surface, §7).
	CountByStatus(ctx context.Context, discussionID string) (map[models.IdeaStatus]int, error)
}

// Assignment is one idea's final topic assignment for a bulk commit.
type Assignment struct {
	IdeaID  string
	TopicID string
}

// TopicStore is the durable record of topics (spec §3).
type TopicStore interface {
	ListByDiscussion(ctx context.Context, discussionID string) ([]models.Topic, error)

	// CommitBatch atomically upserts topics and assigns ideas in one bulk
	// write, and sets each assigned idea's status to completed (§4.4 step 5,
	// §4.6 "atomic commit primitives").
	CommitBatch(ctx context.Context, discussionID string, topics []models.Topic, assignments []Assignment) error

	// ReplaceAll atomically deletes every existing topic for a discussion and
	// inserts the new set, then bulk-assigns ideas to it (§4.5 step 6).
	ReplaceAll(ctx context.Context, discussionID string, topics []models.Topic, assignments []Assignment) error
}

// DiscussionStore is a read-only view over externally-owned discussions (spec §3).
type DiscussionStore interface {
	Get(ctx context.Context, discussionID string) (*models.Discussion, error)
	// UnprocessedCounts splits outstanding work into the needs-embedding and
	// needs-clustering phases (§4.8 "unprocessed_count_updated", §9 "operator
	// surface as a view over the canonical status set").
	UnprocessedCounts(ctx context.Context, discussionID string) (*models.UnprocessedCounts, error)
}

// Queue is the Work Queue & Lock Service (spec §4.1): a persistent FIFO of
// idea-process jobs, a keyed mutex for reclustering, and a per-discussion
// deferred-work queue.
type Queue interface {
	Enqueue(ctx context.Context, ideaID, discussionID string) error
	DequeueBatch(ctx context.Context, max int, pollTimeout time.Duration) ([]models.WorkItem, error)

	AcquireLock(ctx context.Context, discussionID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, discussionID string) error
	LockHeld(ctx context.Context, discussionID string) (bool, error)
	// ClearLock forcibly releases a wedged lock (admin hook, spec §6).
	ClearLock(ctx context.Context, discussionID string) error

	Defer(ctx context.Context, discussionID string, ideaIDs []string) error
	// DrainDeferred atomically pops all deferred idea IDs for a discussion.
	DrainDeferred(ctx context.Context, discussionID string) ([]string, error)
}

// EmbeddingClient wraps the external text->vector service (spec §4.2, §6).
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FormattingClient wraps the external enrichment service (spec §6).
type FormattingClient interface {
	Format(ctx context.Context, text, discussionPrompt string) (models.Enrichment, error)
}

// Summarizer wraps the external summarization collaborator (spec §4.4/§6).
type Summarizer interface {
	Summarize(ctx context.Context, memberTexts []string) (string, error)
}

// EventPublisher emits the three room-scoped events of spec §4.8. Delivery
// is best-effort to currently connected subscribers; the store remains the
// source of truth.
type EventPublisher interface {
	PublishNewIdea(discussionID string, idea models.Projection)
	PublishBatchProcessed(event models.BatchProcessedEvent)
	PublishUnprocessedCount(event models.UnprocessedCountEvent)
}
