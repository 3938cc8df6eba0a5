// Package dispatcher implements the long-running dequeue loop of spec §4.7:
// it drains the Work Queue in mega-batches, groups work by discussion, and
// schedules the Parallel Embedding Processor followed by the Centroid
// Clustering Engine for each group, bounded by a concurrency cap. A second
// loop watches for ideas stuck mid-processing and marks them stuck.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/topictrends/cluster-core/internal/coordinator"
	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/metrics"
	"github.com/topictrends/cluster-core/internal/models"
	"github.com/topictrends/cluster-core/internal/processor"
)

// Config carries the Dispatcher's tunables (spec §5/§4.7).
type Config struct {
	BatchSize             int
	PollTimeout           time.Duration
	MaxConcurrentBatches  int
	CleanupInterval       time.Duration
	StaleProcessingWindow time.Duration
}

// Dispatcher owns the mega-batch dequeue loop and the stale-processing
// watchdog loop.
type Dispatcher struct {
	queue       domain.Queue
	ideas       domain.IdeaStore
	processor   *processor.Processor
	coordinator *coordinator.Coordinator
	discussions domain.DiscussionStore
	log         *logrus.Logger
	cfg         Config
}

// New constructs a Dispatcher.
func New(
	queue domain.Queue,
	ideas domain.IdeaStore,
	discussions domain.DiscussionStore,
	proc *processor.Processor,
	coord *coordinator.Coordinator,
	log *logrus.Logger,
	cfg Config,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2000
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}

	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 20
	}

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	if cfg.StaleProcessingWindow <= 0 {
		cfg.StaleProcessingWindow = 15 * time.Minute
	}

	return &Dispatcher{
		queue:       queue,
		ideas:       ideas,
		processor:   proc,
		coordinator: coord,
		discussions: discussions,
		log:         log,
		cfg:         cfg,
	}
}

// Run blocks, repeatedly dequeuing and dispatching mega-batches until ctx
// is cancelled (spec §4.7).
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("starting dispatcher loop")

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher loop stopped")
			return
		default:
		}

		if err := d.dispatchOnce(ctx); err != nil {
			d.log.WithError(err).Error("dispatch cycle failed")
		}
	}
}

// dispatchOnce runs one dequeue-group-schedule cycle (spec §4.7 steps 1-5).
func (d *Dispatcher) dispatchOnce(ctx context.Context) error {
	items, err := d.queue.DequeueBatch(ctx, d.cfg.BatchSize, d.cfg.PollTimeout)
	if err != nil {
		return fmt.Errorf("dequeuing batch: %w", err)
	}

	if len(items) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.PollTimeout):
		}

		return nil
	}

	ideaIDs := make([]string, len(items))
	for i, item := range items {
		ideaIDs[i] = item.IdeaID
	}

	if err := d.ideas.UpdateStatusBulk(ctx, ideaIDs, models.IdeaProcessing); err != nil {
		return fmt.Errorf("transitioning batch to processing: %w", err)
	}

	ideas, err := d.ideas.GetIdeas(ctx, ideaIDs)
	if err != nil {
		return fmt.Errorf("loading batch: %w", err)
	}

	metrics.QueueDepth.Set(float64(len(ideas)))

	groups := groupByDiscussion(ideas)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrentBatches)

	for discussionID, group := range groups {
		discussionID, group := discussionID, group

		g.Go(func() error {
			d.processGroup(gctx, discussionID, group)
			return nil
		})
	}

	// Per-group failures are handled and logged inside processGroup; g.Go
	// never returns an error, so Wait is only here to block for completion.
	return g.Wait()
}

// processGroup runs the Parallel Embedding Processor then the Centroid
// Clustering Engine for one discussion's share of the batch. A panic marks
// the whole group failed; a Centroid batch error marks only the embedded
// ideas failed. Ideas whose embedding failed keep their status.
func (d *Dispatcher) processGroup(ctx context.Context, discussionID string, ideas []models.Idea) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("discussion_id", discussionID).WithField("panic", r).Error("group processing panicked")
			d.markFailed(ctx, discussionID, ideas)
		}
	}()

	prompt := d.discussionPrompt(ctx, discussionID)

	embedded := d.processor.Process(ctx, prompt, ideas)

	if len(embedded) == 0 {
		return
	}

	if _, err := d.coordinator.ProcessCentroidBatch(ctx, discussionID, embedded); err != nil {
		d.log.WithError(err).WithField("discussion_id", discussionID).Error("centroid batch failed")
		d.markFailed(ctx, discussionID, embedded)
	}
}

func (d *Dispatcher) discussionPrompt(ctx context.Context, discussionID string) string {
	if d.discussions == nil {
		return ""
	}

	discussion, err := d.discussions.Get(ctx, discussionID)
	if err != nil {
		d.log.WithError(err).WithField("discussion_id", discussionID).Warn("loading discussion prompt")
		return ""
	}

	return discussion.Prompt
}

func (d *Dispatcher) markFailed(ctx context.Context, discussionID string, ideas []models.Idea) {
	ids := make([]string, len(ideas))
	for i, idea := range ideas {
		ids[i] = idea.ID
	}

	if err := d.ideas.UpdateStatusBulk(ctx, ids, models.IdeaFailed); err != nil {
		d.log.WithError(err).WithField("discussion_id", discussionID).Error("marking group failed")
	}
}

func groupByDiscussion(ideas []models.Idea) map[string][]models.Idea {
	groups := make(map[string][]models.Idea)
	for _, idea := range ideas {
		groups[idea.DiscussionID] = append(groups[idea.DiscussionID], idea)
	}

	return groups
}

// RunCleanupLoop runs the stale-processing watchdog on a fixed interval
// until ctx is cancelled (spec §4.7: "a cleanup loop ... prunes stale
// entries every 5 minutes"). Ideas stuck in processing past
// StaleProcessingWindow are marked stuck so the retry hook (spec §6) can
// recover them.
func (d *Dispatcher) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	d.log.WithField("interval", d.cfg.CleanupInterval).Info("starting cleanup loop")

	for {
		select {
		case <-ctx.Done():
			d.log.Info("cleanup loop stopped")
			return
		case <-ticker.C:
			d.runCleanupOnce(ctx)
		}
	}
}

func (d *Dispatcher) runCleanupOnce(ctx context.Context) {
	cutoff := time.Now().Add(-d.cfg.StaleProcessingWindow)

	stale, err := d.ideas.ListStaleProcessing(ctx, cutoff, d.cfg.BatchSize)
	if err != nil {
		d.log.WithError(err).Error("listing stale processing ideas")
		return
	}

	if len(stale) == 0 {
		return
	}

	ids := make([]string, len(stale))
	for i, idea := range stale {
		ids[i] = idea.ID
	}

	if err := d.ideas.UpdateStatusBulk(ctx, ids, models.IdeaStuck); err != nil {
		d.log.WithError(err).Error("marking stale ideas stuck")
		return
	}

	metrics.StuckIdeasTotal.Add(float64(len(stale)))
	d.log.WithField("count", len(stale)).Warn("marked stale processing ideas stuck")
}
