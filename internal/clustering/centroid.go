// Package clustering implements the two clustering engines of spec
// §4.4/§4.5: the online Centroid Clustering Engine and the offline Full
// Reclustering Engine. Both are pure over an in-memory per-invocation
// cache and return explicit result variants rather than raising errors
// for ordinary "no match" outcomes (spec §9).
package clustering

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/metrics"
	"github.com/topictrends/cluster-core/internal/models"
	"github.com/topictrends/cluster-core/internal/vectorstat"
)

// Outcome is the explicit result variant of a Centroid batch. A batch that
// creates new topics also reports OutcomeAssigned; there is no separate
// "created" variant.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeQueued   Outcome = "queued"
	OutcomeSkipped  Outcome = "skipped"
)

// mini-DBSCAN parameters for outlier grouping (spec §4.4 step 4).
const (
	outlierEps        = 0.25
	outlierMinSamples = 2
)

// representativeTruncateLen is the fallback representative-text length
// when the summarizer is unavailable or the group has one member
// (spec §4.4 step 4, §7(b)).
const representativeTruncateLen = 50

// CentroidThresholds are the adaptive-threshold knobs of spec §4.4 step 3.
type CentroidThresholds struct {
	MaturityCount    int
	NewSimilarity    float64
	MatureSimilarity float64
}

// CentroidEngine is the online assignment engine (spec §4.4).
type CentroidEngine struct {
	queue      domain.Queue
	topics     domain.TopicStore
	ideas      domain.IdeaStore
	summarizer domain.Summarizer
	events     domain.EventPublisher
	log        *logrus.Logger
	thresholds CentroidThresholds
}

// NewCentroidEngine constructs a CentroidEngine.
func NewCentroidEngine(
	queue domain.Queue,
	topics domain.TopicStore,
	ideas domain.IdeaStore,
	summarizer domain.Summarizer,
	events domain.EventPublisher,
	log *logrus.Logger,
	thresholds CentroidThresholds,
) *CentroidEngine {
	return &CentroidEngine{
		queue:      queue,
		topics:     topics,
		ideas:      ideas,
		summarizer: summarizer,
		events:     events,
		log:        log,
		thresholds: thresholds,
	}
}

// cachedTopic is the per-batch in-memory cache entry for a topic: centroid
// and count are mutated locally as ideas are assigned, then reconciled at
// commit time via a single bulk write (spec §4.4 step 2-3, §9 "in-memory
// centroid cache vs persisted centroids").
type cachedTopic struct {
	id                 string
	representativeText string
	centroid           []float32
	count              int
	isNew              bool
}

// ProcessBatch runs the Centroid Clustering Engine over a batch of
// embedded ideas from one discussion (spec §4.4).
func (e *CentroidEngine) ProcessBatch(ctx context.Context, discussionID string, ideas []models.Idea) (Outcome, error) {
	if len(ideas) == 0 {
		return OutcomeSkipped, nil
	}

	held, err := e.queue.LockHeld(ctx, discussionID)
	if err != nil {
		return "", fmt.Errorf("checking reclustering lock: %w", err)
	}

	if held {
		ideaIDs := make([]string, len(ideas))
		for i, idea := range ideas {
			ideaIDs[i] = idea.ID
		}

		if err := e.queue.Defer(ctx, discussionID, ideaIDs); err != nil {
			return "", fmt.Errorf("deferring batch: %w", err)
		}

		return OutcomeQueued, nil
	}

	existing, err := e.topics.ListByDiscussion(ctx, discussionID)
	if err != nil {
		return "", fmt.Errorf("loading topics: %w", err)
	}

	cache := make([]*cachedTopic, 0, len(existing))
	for _, t := range existing {
		cache = append(cache, &cachedTopic{id: t.ID, representativeText: t.RepresentativeText, centroid: t.Centroid, count: t.MemberCount})
	}

	var stuckIDs []string

	var outliers []models.Idea

	var assignments []domain.Assignment

	for _, idea := range ideas {
		if !idea.HasEmbedding() {
			stuckIDs = append(stuckIDs, idea.ID)
			continue
		}

		best := e.bestMatch(cache, idea.Embedding)
		if best == nil {
			outliers = append(outliers, idea)
			continue
		}

		best.centroid, best.count = (&models.Topic{Centroid: best.centroid, MemberCount: best.count}).WithIncrementalUpdate(idea.Embedding)
		assignments = append(assignments, domain.Assignment{IdeaID: idea.ID, TopicID: best.id})
	}

	if len(stuckIDs) > 0 {
		if err := e.ideas.UpdateStatusBulk(ctx, stuckIDs, models.IdeaStuck); err != nil {
			return "", fmt.Errorf("marking ideas stuck: %w", err)
		}

		metrics.StuckIdeasTotal.Add(float64(len(stuckIDs)))
	}

	newTopics, outlierAssignments := e.clusterOutliers(ctx, discussionID, outliers)
	assignments = append(assignments, outlierAssignments...)

	metrics.OutliersTotal.Add(float64(len(outliers)))

	allTopics := make([]models.Topic, 0, len(cache)+len(newTopics))
	for _, c := range cache {
		allTopics = append(allTopics, models.Topic{
			ID:                 c.id,
			DiscussionID:       discussionID,
			RepresentativeText: c.representativeText,
			MemberCount:        c.count,
			Centroid:           c.centroid,
		})
	}

	allTopics = append(allTopics, newTopics...)

	if err := e.topics.CommitBatch(ctx, discussionID, allTopics, assignments); err != nil {
		return "", fmt.Errorf("committing centroid batch: %w", err)
	}

	metrics.BatchSize.Observe(float64(len(ideas)))

	e.publishBatchProcessed(ctx, discussionID, ideas, assignments)

	return OutcomeAssigned, nil
}

// bestMatch picks the highest-similarity topic meeting its adaptive
// threshold (spec §4.4 step 3, scenario 3: "selection is by highest
// similarity among those meeting their respective thresholds").
func (e *CentroidEngine) bestMatch(cache []*cachedTopic, embedding []float32) *cachedTopic {
	var best *cachedTopic

	bestSim := -1.0

	for _, t := range cache {
		if len(t.centroid) == 0 {
			continue
		}

		sim := vectorstat.CosineSimilarity(embedding, t.centroid)

		threshold := e.thresholds.NewSimilarity
		if t.count >= e.thresholds.MaturityCount {
			threshold = e.thresholds.MatureSimilarity
		}

		if sim < threshold {
			continue
		}

		if sim > bestSim {
			bestSim = sim
			best = t
		}
	}

	return best
}

// clusterOutliers runs mini-DBSCAN over the batch's outliers, turning each
// dense group into a new topic and each remaining point into its own
// singleton topic (spec §4.4 step 4).
func (e *CentroidEngine) clusterOutliers(ctx context.Context, discussionID string, outliers []models.Idea) ([]models.Topic, []domain.Assignment) {
	if len(outliers) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(outliers))
	for i, idea := range outliers {
		vectors[i] = idea.Embedding
	}

	labels := vectorstat.DBSCAN(vectors, outlierEps, outlierMinSamples)

	groups := make(map[int][]models.Idea)

	var noise []models.Idea

	for i, label := range labels {
		if label == -1 {
			noise = append(noise, outliers[i])
			continue
		}

		groups[label] = append(groups[label], outliers[i])
	}

	var topics []models.Topic

	var assignments []domain.Assignment

	groupKeys := make([]int, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}

	sort.Ints(groupKeys)

	for _, k := range groupKeys {
		members := groups[k]
		topicID := uuid.NewString()
		repText := e.representativeText(ctx, members)

		topics = append(topics, models.Topic{
			ID:                 topicID,
			DiscussionID:       discussionID,
			RepresentativeText: repText,
			MemberCount:        len(members),
			Centroid:           vectorstat.Mean(embeddingsOf(members)),
		})

		for _, m := range members {
			assignments = append(assignments, domain.Assignment{IdeaID: m.ID, TopicID: topicID})
		}
	}

	for _, idea := range noise {
		topicID := uuid.NewString()
		topics = append(topics, models.Topic{
			ID:                 topicID,
			DiscussionID:       discussionID,
			RepresentativeText: e.representativeText(ctx, []models.Idea{idea}),
			MemberCount:        1,
			Centroid:           idea.Embedding,
		})
		assignments = append(assignments, domain.Assignment{IdeaID: idea.ID, TopicID: topicID})
	}

	return topics, assignments
}

func embeddingsOf(ideas []models.Idea) [][]float32 {
	out := make([][]float32, len(ideas))
	for i, idea := range ideas {
		out[i] = idea.Embedding
	}

	return out
}

// representativeText obtains a name from the summarization collaborator,
// falling back to the first member's truncated text on failure (spec §4.4
// step 4, §7(b)).
func (e *CentroidEngine) representativeText(ctx context.Context, members []models.Idea) string {
	if len(members) > 1 && e.summarizer != nil {
		texts := make([]string, len(members))
		for i, m := range members {
			texts[i] = m.Text
		}

		summary, err := e.summarizer.Summarize(ctx, texts)
		if err == nil && summary != "" {
			return summary
		}

		e.log.WithError(err).Debug("summarizer unavailable, falling back to truncated text")
	}

	return truncate(members[0].Text, representativeTruncateLen)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}

func (e *CentroidEngine) publishBatchProcessed(ctx context.Context, discussionID string, ideas []models.Idea, assignments []domain.Assignment) {
	if e.events == nil {
		return
	}

	assigned := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		assigned[a.IdeaID] = true
	}

	projections := make([]models.Projection, 0, len(ideas))

	for _, idea := range ideas {
		if !assigned[idea.ID] {
			continue
		}

		idea.Status = models.IdeaCompleted
		projections = append(projections, idea.Project())
	}

	counts, err := e.ideas.CountByStatus(ctx, discussionID)
	unclustered := 0

	if err == nil {
		unclustered = counts[models.IdeaEmbedded]
	}

	e.events.PublishBatchProcessed(models.BatchProcessedEvent{
		DiscussionID:     discussionID,
		ProcessedIdeas:   projections,
		BatchSize:        len(ideas),
		UnclusteredCount: unclustered,
		ProcessedAt:      time.Now(),
	})
}
