package clustering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/metrics"
	"github.com/topictrends/cluster-core/internal/models"
	"github.com/topictrends/cluster-core/internal/vectorstat"
)

// ErrLockHeld is returned when the Reclustering Lock is already held by
// another holder (spec §4.5 step 1: "fail-fast if already held; caller
// may retry later").
var ErrLockHeld = errors.New("reclustering lock already held")

// ReclusterConfig carries the tunables of spec §4.5/§6.
type ReclusterConfig struct {
	DistanceThreshold float64 // 1 - similarity threshold (default 1-0.70)
	MinGroupSize      int     // default 2
	ChunkSizeSmall    int     // default 2000
	ChunkSizeLarge    int     // default 5000
}

// clamp bounds T within [lo, hi] (spec §4.5 step 3a: "T ≈ clamp(N/10, 10, 50)").
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// ReclusteringEngine is the offline, full-rebuild engine (spec §4.5).
type ReclusteringEngine struct {
	queue      domain.Queue
	topics     domain.TopicStore
	ideas      domain.IdeaStore
	summarizer domain.Summarizer
	centroid   *CentroidEngine
	log        *logrus.Logger
	cfg        ReclusterConfig
}

// NewReclusteringEngine constructs a ReclusteringEngine. centroid is stored
// on the engine but Run does not use it; the deferred queue is drained by
// coordinator.Coordinator after Run returns.
func NewReclusteringEngine(
	queue domain.Queue,
	topics domain.TopicStore,
	ideas domain.IdeaStore,
	summarizer domain.Summarizer,
	centroid *CentroidEngine,
	log *logrus.Logger,
	cfg ReclusterConfig,
) *ReclusteringEngine {
	return &ReclusteringEngine{
		queue:      queue,
		topics:     topics,
		ideas:      ideas,
		summarizer: summarizer,
		centroid:   centroid,
		log:        log,
		cfg:        cfg,
	}
}

// Run acquires the Reclustering Lock, rebuilds every topic for the
// discussion from its embedded ideas, and releases the lock on any exit
// path — success or failure — so a later drain always proceeds (spec §4.5
// step 1/7: "any exception releases the lock (and proceeds to drain)").
func (e *ReclusteringEngine) Run(ctx context.Context, discussionID string, lockTTL time.Duration) error {
	acquired, err := e.queue.AcquireLock(ctx, discussionID, lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring reclustering lock: %w", err)
	}

	if !acquired {
		metrics.LockContentionTotal.Inc()
		return ErrLockHeld
	}

	defer func() {
		if err := e.queue.ReleaseLock(ctx, discussionID); err != nil {
			e.log.WithError(err).WithField("discussion_id", discussionID).Error("releasing reclustering lock")
		}
	}()

	start := time.Now()
	err = e.rebuild(ctx, discussionID)
	metrics.ReclusterDuration.Observe(time.Since(start).Seconds())

	return err
}

func (e *ReclusteringEngine) rebuild(ctx context.Context, discussionID string) error {
	ideas, err := e.ideas.ListEmbedded(ctx, discussionID)
	if err != nil {
		return fmt.Errorf("loading embedded ideas: %w", err)
	}

	groups := e.partition(ideas)

	topics, assignments := e.buildTopics(ctx, discussionID, groups)

	if err := e.topics.ReplaceAll(ctx, discussionID, topics, assignments); err != nil {
		return fmt.Errorf("committing reclustering: %w", err)
	}

	return nil
}

// partition groups ideas into clusters following spec §4.5 steps 3-4:
// agglomerative-with-outliers below the small-chunk threshold, and a
// deterministic chunk-then-merge strategy at or above it (spec §9 open
// question: chunking policy left to the implementer provided the
// idempotence law in §8 still holds on stable inputs).
func (e *ReclusteringEngine) partition(ideas []models.Idea) [][]models.Idea {
	if len(ideas) == 0 {
		return nil
	}

	if len(ideas) < e.cfg.ChunkSizeSmall {
		return e.agglomerativeWithOutliers(ideas)
	}

	return e.chunkThenMerge(ideas)
}

// agglomerativeWithOutliers implements spec §4.5 step 3.
func (e *ReclusteringEngine) agglomerativeWithOutliers(ideas []models.Idea) [][]models.Idea {
	n := len(ideas)
	target := clamp(n/10, 10, 50)

	vectors := embeddingsOf(ideas)
	labels := vectorstat.AgglomerativeThreshold(vectors, e.cfg.DistanceThreshold)

	byLabel := groupByLabel(ideas, labels)

	var groupTopics [][]models.Idea

	var leftovers []models.Idea

	for _, members := range byLabel {
		if len(members) >= e.cfg.MinGroupSize {
			groupTopics = append(groupTopics, members)
		} else {
			leftovers = append(leftovers, members...)
		}
	}

	// Fallback: too few multi-member groups emerged from the threshold pass;
	// re-run with a fixed cluster count (spec §4.5 step 3e).
	if len(groupTopics) < 5 {
		fixedLabels := vectorstat.AgglomerativeFixedK(vectors, clamp(target, 1, n))
		return groupByLabel(ideas, fixedLabels)
	}

	if len(groupTopics)+len(leftovers) > 2*target && len(leftovers) > 0 {
		leftoverK := clamp(len(leftovers)/3, 1, len(leftovers))
		leftoverLabels := vectorstat.AgglomerativeFixedK(embeddingsOf(leftovers), leftoverK)

		for _, members := range groupByLabel(leftovers, leftoverLabels) {
			groupTopics = append(groupTopics, members)
		}
	} else {
		for _, idea := range leftovers {
			groupTopics = append(groupTopics, []models.Idea{idea})
		}
	}

	return groupTopics
}

// chunkThenMerge resolves the spec's open chunking question (§9) with a
// deterministic strategy: split by submission order into fixed-size
// chunks, cluster each chunk independently, then merge chunk-level
// clusters whose centroids are close enough to be the same topic. This
// keeps memory bounded for N ≥ ChunkSizeSmall while remaining stable on
// unchanged inputs (idempotent, since chunk boundaries depend only on
// submission order).
func (e *ReclusteringEngine) chunkThenMerge(ideas []models.Idea) [][]models.Idea {
	chunkSize := e.cfg.ChunkSizeSmall
	if len(ideas) >= e.cfg.ChunkSizeLarge {
		chunkSize = e.cfg.ChunkSizeSmall / 2
		if chunkSize < 1 {
			chunkSize = e.cfg.ChunkSizeSmall
		}
	}

	var allGroups [][]models.Idea

	for start := 0; start < len(ideas); start += chunkSize {
		end := start + chunkSize
		if end > len(ideas) {
			end = len(ideas)
		}

		allGroups = append(allGroups, e.agglomerativeWithOutliers(ideas[start:end])...)
	}

	return mergeCloseGroups(allGroups, e.cfg.DistanceThreshold)
}

// mergeCloseGroups merges chunk-level groups whose centroids are within
// the distance threshold, so the same topic found independently in two
// chunks collapses back into one.
func mergeCloseGroups(groups [][]models.Idea, distanceThreshold float64) [][]models.Idea {
	centroids := make([][]float32, len(groups))
	for i, g := range groups {
		centroids[i] = vectorstat.Mean(embeddingsOf(g))
	}

	merged := make([]bool, len(groups))
	var out [][]models.Idea

	for i := range groups {
		if merged[i] {
			continue
		}

		combined := append([]models.Idea{}, groups[i]...)
		merged[i] = true

		for j := i + 1; j < len(groups); j++ {
			if merged[j] {
				continue
			}

			if 1-vectorstat.CosineSimilarity(centroids[i], centroids[j]) <= distanceThreshold {
				combined = append(combined, groups[j]...)
				merged[j] = true
			}
		}

		out = append(out, combined)
	}

	return out
}

func groupByLabel(ideas []models.Idea, labels []int) [][]models.Idea {
	byLabel := make(map[int][]models.Idea)

	var order []int

	for i, label := range labels {
		if _, seen := byLabel[label]; !seen {
			order = append(order, label)
		}

		byLabel[label] = append(byLabel[label], ideas[i])
	}

	out := make([][]models.Idea, 0, len(order))
	for _, label := range order {
		out = append(out, byLabel[label])
	}

	return out
}

func (e *ReclusteringEngine) buildTopics(ctx context.Context, discussionID string, groups [][]models.Idea) ([]models.Topic, []domain.Assignment) {
	var topics []models.Topic

	var assignments []domain.Assignment

	for _, members := range groups {
		if len(members) == 0 {
			continue
		}

		topicID := uuid.NewString()

		topics = append(topics, models.Topic{
			ID:                 topicID,
			DiscussionID:       discussionID,
			RepresentativeText: e.representativeTextFor(ctx, members),
			MemberCount:        len(members),
			Centroid:           vectorstat.Mean(embeddingsOf(members)),
		})

		for _, m := range members {
			assignments = append(assignments, domain.Assignment{IdeaID: m.ID, TopicID: topicID})
		}
	}

	return topics, assignments
}

// representativeTextFor obtains a name via the summarizer for multi-member
// groups, falling back to a truncated single-member text (spec §4.5 step 5).
func (e *ReclusteringEngine) representativeTextFor(ctx context.Context, members []models.Idea) string {
	if len(members) > 1 {
		texts := make([]string, len(members))
		for i, m := range members {
			texts[i] = m.Text
		}

		summary, err := e.summarizer.Summarize(ctx, texts)
		if err == nil && summary != "" {
			return summary
		}
	}

	return truncate(members[0].Text, representativeTruncateLen)
}
