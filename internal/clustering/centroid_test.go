package clustering_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/clustering"
	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/models"
)

// fakeQueue is an in-memory domain.Queue fake for coordinator/engine tests.
type fakeQueue struct {
	mu       sync.Mutex
	locked   map[string]bool
	deferred map[string][]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{locked: map[string]bool{}, deferred: map[string][]string{}}
}

func (f *fakeQueue) Enqueue(ctx context.Context, ideaID, discussionID string) error { return nil }
func (f *fakeQueue) DequeueBatch(ctx context.Context, max int, pollTimeout time.Duration) ([]models.WorkItem, error) {
	return nil, nil
}

func (f *fakeQueue) AcquireLock(ctx context.Context, discussionID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.locked[discussionID] {
		return false, nil
	}

	f.locked[discussionID] = true

	return true, nil
}

func (f *fakeQueue) ReleaseLock(ctx context.Context, discussionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, discussionID)

	return nil
}

func (f *fakeQueue) LockHeld(ctx context.Context, discussionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.locked[discussionID], nil
}

func (f *fakeQueue) ClearLock(ctx context.Context, discussionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, discussionID)

	return nil
}

func (f *fakeQueue) Defer(ctx context.Context, discussionID string, ideaIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred[discussionID] = append(f.deferred[discussionID], ideaIDs...)

	return nil
}

func (f *fakeQueue) DrainDeferred(ctx context.Context, discussionID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.deferred[discussionID]
	delete(f.deferred, discussionID)

	return ids, nil
}

// fakeTopicStore is an in-memory domain.TopicStore fake.
type fakeTopicStore struct {
	mu          sync.Mutex
	topics      map[string]models.Topic
	assignments map[string]string // ideaID -> topicID
}

func newFakeTopicStore() *fakeTopicStore {
	return &fakeTopicStore{topics: map[string]models.Topic{}, assignments: map[string]string{}}
}

func (f *fakeTopicStore) ListByDiscussion(ctx context.Context, discussionID string) ([]models.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Topic

	for _, t := range f.topics {
		if t.DiscussionID == discussionID {
			out = append(out, t)
		}
	}

	return out, nil
}

func (f *fakeTopicStore) CommitBatch(ctx context.Context, discussionID string, topics []models.Topic, assignments []domain.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range topics {
		f.topics[t.ID] = t
	}

	for _, a := range assignments {
		f.assignments[a.IdeaID] = a.TopicID
	}

	return nil
}

func (f *fakeTopicStore) ReplaceAll(ctx context.Context, discussionID string, topics []models.Topic, assignments []domain.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, t := range f.topics {
		if t.DiscussionID == discussionID {
			delete(f.topics, id)
		}
	}

	for _, t := range topics {
		f.topics[t.ID] = t
	}

	for _, a := range assignments {
		f.assignments[a.IdeaID] = a.TopicID
	}

	return nil
}

// fakeIdeaStore is a minimal in-memory domain.IdeaStore fake.
type fakeIdeaStore struct {
	mu     sync.Mutex
	status map[string]models.IdeaStatus
}

func newFakeIdeaStore() *fakeIdeaStore {
	return &fakeIdeaStore{status: map[string]models.IdeaStatus{}}
}

func (f *fakeIdeaStore) GetIdea(ctx context.Context, ideaID string) (*models.Idea, error) { return nil, nil }
func (f *fakeIdeaStore) GetIdeas(ctx context.Context, ideaIDs []string) ([]models.Idea, error) {
	return nil, nil
}
func (f *fakeIdeaStore) ListEmbedded(ctx context.Context, discussionID string) ([]models.Idea, error) {
	return nil, nil
}
func (f *fakeIdeaStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.Idea, error) {
	return nil, nil
}

func (f *fakeIdeaStore) UpdateStatusBulk(ctx context.Context, ideaIDs []string, status models.IdeaStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ideaIDs {
		f.status[id] = status
	}

	return nil
}

func (f *fakeIdeaStore) MarkAttempt(ctx context.Context, ideaID string, at time.Time) error { return nil }
func (f *fakeIdeaStore) MarkEmbedded(ctx context.Context, ideaID string, embedding []float32, enrichment models.Enrichment) error {
	return nil
}
func (f *fakeIdeaStore) ResetToPending(ctx context.Context, ideaIDs []string) error { return nil }
func (f *fakeIdeaStore) CountByStatus(ctx context.Context, discussionID string) (map[models.IdeaStatus]int, error) {
	return map[models.IdeaStatus]int{}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, memberTexts []string) (string, error) {
	return "", fmt.Errorf("summarizer unavailable in tests")
}

func unitVector(angleDegrees float64) []float32 {
	rad := angleDegrees * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

func newEngine(queue domain.Queue, topics domain.TopicStore, ideas domain.IdeaStore) *clustering.CentroidEngine {
	return clustering.NewCentroidEngine(queue, topics, ideas, fakeSummarizer{}, nil, logrus.New(), clustering.CentroidThresholds{
		MaturityCount:    5,
		NewSimilarity:    0.70,
		MatureSimilarity: 0.60,
	})
}

// Scenario 1 (spec §8): three ideas to an empty discussion, two similar and
// one dissimilar, yield two topics with counts 2 and 1.
func TestCentroidEngine_EmptyDiscussionFormsTwoTopics(t *testing.T) {
	queue := newFakeQueue()
	topicStore := newFakeTopicStore()
	ideaStore := newFakeIdeaStore()
	engine := newEngine(queue, topicStore, ideaStore)

	ideas := []models.Idea{
		{ID: "1", DiscussionID: "d1", Text: "We need better coffee", Embedding: unitVector(0)},
		{ID: "2", DiscussionID: "d1", Text: "Add decaf options", Embedding: unitVector(18)}, // cos(18deg) ~ 0.95
		{ID: "3", DiscussionID: "d1", Text: "Fix the slow elevator", Embedding: unitVector(90)},
	}

	outcome, err := engine.ProcessBatch(context.Background(), "d1", ideas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != clustering.OutcomeAssigned {
		t.Fatalf("expected assigned outcome, got %s", outcome)
	}

	topics, _ := topicStore.ListByDiscussion(context.Background(), "d1")
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}

	var counts []int
	for _, tp := range topics {
		counts = append(counts, tp.MemberCount)
	}

	foundPair, foundSingle := false, false

	for _, c := range counts {
		if c == 2 {
			foundPair = true
		}

		if c == 1 {
			foundSingle = true
		}
	}

	if !foundPair || !foundSingle {
		t.Fatalf("expected counts [2 1], got %v", counts)
	}
}

// Scenario 2 (spec §8): a mature topic (count 8) absorbs a new idea whose
// similarity (0.65) exceeds the mature threshold (0.60); count becomes 9.
func TestCentroidEngine_MatureTopicAbsorbsSimilarIdea(t *testing.T) {
	queue := newFakeQueue()
	topicStore := newFakeTopicStore()
	ideaStore := newFakeIdeaStore()

	topicStore.topics["topic-a"] = models.Topic{
		ID: "topic-a", DiscussionID: "d1", MemberCount: 8, Centroid: unitVector(0),
	}

	engine := newEngine(queue, topicStore, ideaStore)

	idea := models.Idea{ID: "new", DiscussionID: "d1", Text: "similar idea", Embedding: unitVector(49.46)} // cos ~ 0.65

	outcome, err := engine.ProcessBatch(context.Background(), "d1", []models.Idea{idea})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != clustering.OutcomeAssigned {
		t.Fatalf("expected assigned outcome, got %s", outcome)
	}

	if topicStore.assignments["new"] != "topic-a" {
		t.Fatalf("expected idea assigned to topic-a, got %q", topicStore.assignments["new"])
	}

	got := topicStore.topics["topic-a"]
	if got.MemberCount != 9 {
		t.Fatalf("expected member count 9, got %d", got.MemberCount)
	}
}

// Scenario 3 (spec §8): selection is by highest similarity among
// candidates that meet their own threshold, even when a lower-similarity
// candidate clears its (lower, mature) threshold by a wider margin.
func TestCentroidEngine_HighestSimilarityWinsAcrossThresholds(t *testing.T) {
	queue := newFakeQueue()
	topicStore := newFakeTopicStore()
	ideaStore := newFakeIdeaStore()

	topicStore.topics["mature"] = models.Topic{
		ID: "mature", DiscussionID: "d1", MemberCount: 8, Centroid: unitVector(49.46), // sim to idea ~0.65
	}
	topicStore.topics["new"] = models.Topic{
		ID: "new", DiscussionID: "d1", MemberCount: 2, Centroid: unitVector(43.95), // sim to idea ~0.72
	}

	engine := newEngine(queue, topicStore, ideaStore)

	idea := models.Idea{ID: "x", DiscussionID: "d1", Text: "ambiguous idea", Embedding: unitVector(0)}

	_, err := engine.ProcessBatch(context.Background(), "d1", []models.Idea{idea})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if topicStore.assignments["x"] != "new" {
		t.Fatalf("expected idea assigned to the higher-similarity topic 'new', got %q", topicStore.assignments["x"])
	}
}

// Scenario 4 (spec §8): while the reclustering lock is held, the engine
// defers the whole batch and returns queued.
func TestCentroidEngine_DefersWhenLockHeld(t *testing.T) {
	queue := newFakeQueue()
	queue.locked["d1"] = true

	topicStore := newFakeTopicStore()
	ideaStore := newFakeIdeaStore()
	engine := newEngine(queue, topicStore, ideaStore)

	ideas := []models.Idea{
		{ID: "1", DiscussionID: "d1", Embedding: unitVector(0)},
		{ID: "2", DiscussionID: "d1", Embedding: unitVector(10)},
	}

	outcome, err := engine.ProcessBatch(context.Background(), "d1", ideas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != clustering.OutcomeQueued {
		t.Fatalf("expected queued outcome, got %s", outcome)
	}

	if len(queue.deferred["d1"]) != 2 {
		t.Fatalf("expected 2 deferred ideas, got %d", len(queue.deferred["d1"]))
	}

	if len(topicStore.topics) != 0 {
		t.Fatal("expected no topic mutations while lock is held")
	}
}

func TestCentroidEngine_EmptyBatchIsSkipped(t *testing.T) {
	queue := newFakeQueue()
	engine := newEngine(queue, newFakeTopicStore(), newFakeIdeaStore())

	outcome, err := engine.ProcessBatch(context.Background(), "d1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != clustering.OutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %s", outcome)
	}
}

func TestCentroidEngine_MissingEmbeddingMarksStuck(t *testing.T) {
	queue := newFakeQueue()
	ideaStore := newFakeIdeaStore()
	engine := newEngine(queue, newFakeTopicStore(), ideaStore)

	idea := models.Idea{ID: "no-embed", DiscussionID: "d1"}

	outcome, err := engine.ProcessBatch(context.Background(), "d1", []models.Idea{idea})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome != clustering.OutcomeAssigned {
		t.Fatalf("expected assigned outcome (stuck handling doesn't change batch outcome), got %s", outcome)
	}

	if ideaStore.status["no-embed"] != models.IdeaStuck {
		t.Fatalf("expected idea marked stuck, got %s", ideaStore.status["no-embed"])
	}
}
