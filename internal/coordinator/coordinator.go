// Package coordinator owns the handoff between the two clustering engines
// (spec §4.6): it runs the Full Reclustering Engine (which takes and releases
// the Reclustering Lock itself), drains the deferred queue through the
// Centroid Clustering Engine afterwards, and publishes unprocessed counts.
// Topic commits go through domain.TopicStore. Neither engine talks to the
// other directly.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/clustering"
	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/models"
)

// Coordinator wires the Centroid and Reclustering engines together and
// drains deferred work once a reclustering run releases its lock.
type Coordinator struct {
	queue       domain.Queue
	ideas       domain.IdeaStore
	discussions domain.DiscussionStore
	centroid    *clustering.CentroidEngine
	recluster   *clustering.ReclusteringEngine
	events      domain.EventPublisher
	log         *logrus.Logger
	lockTTL     time.Duration
}

// New constructs a Coordinator.
func New(
	queue domain.Queue,
	ideas domain.IdeaStore,
	discussions domain.DiscussionStore,
	centroid *clustering.CentroidEngine,
	recluster *clustering.ReclusteringEngine,
	events domain.EventPublisher,
	log *logrus.Logger,
	lockTTL time.Duration,
) *Coordinator {
	return &Coordinator{
		queue:       queue,
		ideas:       ideas,
		discussions: discussions,
		centroid:    centroid,
		recluster:   recluster,
		events:      events,
		log:         log,
		lockTTL:     lockTTL,
	}
}

// ProcessCentroidBatch runs the online engine over one batch of embedded
// ideas belonging to a single discussion (§4.4, dispatched from §4.7 step 4).
func (c *Coordinator) ProcessCentroidBatch(ctx context.Context, discussionID string, ideas []models.Idea) (clustering.Outcome, error) {
	outcome, err := c.centroid.ProcessBatch(ctx, discussionID, ideas)
	if err == nil {
		c.publishUnprocessedCount(ctx, discussionID)
	}

	return outcome, err
}

// ProcessFullReclustering runs the offline engine for a discussion, then
// drains whatever accumulated on the deferred queue while the lock was held
// (§4.5 step 7, §4.6). Draining happens even when the rebuild itself failed,
// since the reclustering engine always releases its lock on the way out —
// "any exception releases the lock (and proceeds to drain)".
func (c *Coordinator) ProcessFullReclustering(ctx context.Context, discussionID string) error {
	runErr := c.recluster.Run(ctx, discussionID, c.lockTTL)
	if runErr != nil && runErr != clustering.ErrLockHeld {
		c.log.WithError(runErr).WithField("discussion_id", discussionID).Error("full reclustering failed")
	}

	if runErr == clustering.ErrLockHeld {
		return runErr
	}

	defer c.publishUnprocessedCount(ctx, discussionID)

	if err := c.drainDeferred(ctx, discussionID); err != nil {
		return fmt.Errorf("draining deferred queue: %w", err)
	}

	return runErr
}

// publishUnprocessedCount recomputes and emits the needs-embedding/
// needs-clustering split after a commit (§4.8 "unprocessed_count_updated").
// Best-effort: a failure here must never fail the caller's clustering run.
func (c *Coordinator) publishUnprocessedCount(ctx context.Context, discussionID string) {
	counts, err := c.discussions.UnprocessedCounts(ctx, discussionID)
	if err != nil {
		c.log.WithError(err).WithField("discussion_id", discussionID).Warn("computing unprocessed counts")
		return
	}

	c.events.PublishUnprocessedCount(models.UnprocessedCountEvent{UnprocessedCounts: *counts})
}

// drainDeferred re-invokes the Centroid Clustering Engine for every idea
// that was deferred while the reclustering lock was held. This may itself
// observe a freshly-acquired lock (another reclustering run starting the
// instant this one released it) and re-defer those same ideas; that is
// safe, since the protocol tolerates arbitrary re-entry (§4.6).
func (c *Coordinator) drainDeferred(ctx context.Context, discussionID string) error {
	ideaIDs, err := c.queue.DrainDeferred(ctx, discussionID)
	if err != nil {
		return fmt.Errorf("popping deferred queue: %w", err)
	}

	if len(ideaIDs) == 0 {
		return nil
	}

	ideas, err := c.ideas.GetIdeas(ctx, ideaIDs)
	if err != nil {
		return fmt.Errorf("loading deferred ideas: %w", err)
	}

	if _, err := c.centroid.ProcessBatch(ctx, discussionID, ideas); err != nil {
		return fmt.Errorf("processing deferred batch: %w", err)
	}

	return nil
}
