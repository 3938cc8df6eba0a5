package dispatcher_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/clustering"
	"github.com/topictrends/cluster-core/internal/coordinator"
	"github.com/topictrends/cluster-core/internal/dispatcher"
	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/models"
	"github.com/topictrends/cluster-core/internal/processor"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []models.WorkItem
	locked  map[string]bool
}

func newFakeQueue(items ...models.WorkItem) *fakeQueue {
	return &fakeQueue{pending: items, locked: map[string]bool{}}
}

func (f *fakeQueue) Enqueue(ctx context.Context, ideaID, discussionID string) error { return nil }

func (f *fakeQueue) DequeueBatch(ctx context.Context, max int, pollTimeout time.Duration) ([]models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return nil, nil
	}

	n := max
	if n > len(f.pending) {
		n = len(f.pending)
	}

	items := f.pending[:n]
	f.pending = f.pending[n:]

	return items, nil
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

func (f *fakeQueue) ClearLock(ctx context.Context, discussionID string) error { return nil }

func (f *fakeQueue) Defer(ctx context.Context, discussionID string, ideaIDs []string) error {
	return nil
}

func (f *fakeQueue) DrainDeferred(ctx context.Context, discussionID string) ([]string, error) {
	return nil, nil
}

type fakeTopicStore struct {
	mu          sync.Mutex
	topics      map[string]models.Topic
	assignments map[string]string
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
	return f.CommitBatch(ctx, discussionID, topics, assignments)
}

type fakeIdeaStore struct {
	mu          sync.Mutex
	byID        map[string]models.Idea
	status      map[string]models.IdeaStatus
	statusCalls []models.IdeaStatus
}

func newFakeIdeaStore(ideas ...models.Idea) *fakeIdeaStore {
	f := &fakeIdeaStore{byID: map[string]models.Idea{}, status: map[string]models.IdeaStatus{}}
	for _, idea := range ideas {
		f.byID[idea.ID] = idea
	}

	return f
}

func (f *fakeIdeaStore) GetIdea(ctx context.Context, ideaID string) (*models.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idea, ok := f.byID[ideaID]
	if !ok {
		return nil, fmt.Errorf("idea %s not found", ideaID)
	}

	return &idea, nil
}

func (f *fakeIdeaStore) GetIdeas(ctx context.Context, ideaIDs []string) ([]models.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Idea, 0, len(ideaIDs))

	for _, id := range ideaIDs {
		if idea, ok := f.byID[id]; ok {
			out = append(out, idea)
		}
	}

	return out, nil
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

	f.statusCalls = append(f.statusCalls, status)

	for _, id := range ideaIDs {
		f.status[id] = status

		if idea, ok := f.byID[id]; ok {
			idea.Status = status
			f.byID[id] = idea
		}
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

type fakeDiscussionStore struct {
	prompt string
}

func (f *fakeDiscussionStore) Get(ctx context.Context, discussionID string) (*models.Discussion, error) {
	return &models.Discussion{ID: discussionID, Prompt: f.prompt}, nil
}

func (f *fakeDiscussionStore) UnprocessedCounts(ctx context.Context, discussionID string) (*models.UnprocessedCounts, error) {
	return &models.UnprocessedCounts{DiscussionID: discussionID}, nil
}

type fakeEventPublisher struct{}

func (fakeEventPublisher) PublishNewIdea(discussionID string, idea models.Projection) {}
func (fakeEventPublisher) PublishBatchProcessed(event models.BatchProcessedEvent)     {}
func (fakeEventPublisher) PublishUnprocessedCount(event models.UnprocessedCountEvent) {}

type fakeEmbeddingClient struct{}

func (fakeEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakeFormattingClient struct{}

func (fakeFormattingClient) Format(ctx context.Context, text, discussionPrompt string) (models.Enrichment, error) {
	return models.Enrichment{Intent: "feedback"}, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, memberTexts []string) (string, error) {
	return "", nil
}

// TestDispatcher_DispatchOnceGroupsByDiscussionAndCompletes exercises spec
// §4.7 steps 1-4: a mega-batch spanning two discussions transitions
// pending->processing, is grouped, and each group's ideas end up assigned
// to a topic.
func TestDispatcher_DispatchOnceGroupsByDiscussionAndCompletes(t *testing.T) {
	ideas := []models.Idea{
		{ID: "a1", DiscussionID: "d1", Text: "idea one", Status: models.IdeaPending},
		{ID: "a2", DiscussionID: "d1", Text: "idea two", Status: models.IdeaPending},
		{ID: "b1", DiscussionID: "d2", Text: "idea three", Status: models.IdeaPending},
	}

	items := make([]models.WorkItem, len(ideas))
	for i, idea := range ideas {
		items[i] = models.WorkItem{IdeaID: idea.ID, DiscussionID: idea.DiscussionID}
	}

	queue := newFakeQueue(items...)
	ideaStore := newFakeIdeaStore(ideas...)
	topicStore := newFakeTopicStore()
	discussions := &fakeDiscussionStore{prompt: "what should we build next?"}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	proc := processor.New(fakeEmbeddingClient{}, fakeFormattingClient{}, ideaStore, log, 10)
	centroidEngine := clustering.NewCentroidEngine(queue, topicStore, ideaStore, fakeSummarizer{}, nil, log, clustering.CentroidThresholds{MaturityCount: 5, NewSimilarity: 0.70, MatureSimilarity: 0.60})
	reclusterEngine := clustering.NewReclusteringEngine(queue, topicStore, ideaStore, fakeSummarizer{}, centroidEngine, log, clustering.ReclusterConfig{DistanceThreshold: 0.30, MinGroupSize: 2, ChunkSizeSmall: 2000, ChunkSizeLarge: 5000})
	coord := coordinator.New(queue, ideaStore, discussions, centroidEngine, reclusterEngine, fakeEventPublisher{}, log, 5*time.Second)

	d := dispatcher.New(queue, ideaStore, discussions, proc, coord, log, dispatcher.Config{BatchSize: 10, PollTimeout: 10 * time.Millisecond, MaxConcurrentBatches: 4})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})

	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		topicStore.mu.Lock()
		n := len(topicStore.assignments)
		topicStore.mu.Unlock()

		if n == len(ideas) {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done

	if len(topicStore.assignments) != len(ideas) {
		t.Fatalf("expected all %d ideas assigned, got %d", len(ideas), len(topicStore.assignments))
	}
}

// TestDispatcher_RunCleanupLoopMarksStaleIdeasStuck exercises the watchdog
// loop of spec §4.7: ideas stuck in processing past the stale window are
// marked stuck.
func TestDispatcher_RunCleanupLoopMarksStaleIdeasStuck(t *testing.T) {
	stale := models.Idea{ID: "s1", DiscussionID: "d1", Status: models.IdeaProcessing}
	ideaStore := &staleIdeaStore{fakeIdeaStore: newFakeIdeaStore(stale), stale: []models.Idea{stale}}

	queue := newFakeQueue()
	topicStore := newFakeTopicStore()
	discussions := &fakeDiscussionStore{}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	proc := processor.New(fakeEmbeddingClient{}, fakeFormattingClient{}, ideaStore, log, 10)
	centroidEngine := clustering.NewCentroidEngine(queue, topicStore, ideaStore, fakeSummarizer{}, nil, log, clustering.CentroidThresholds{MaturityCount: 5, NewSimilarity: 0.70, MatureSimilarity: 0.60})
	reclusterEngine := clustering.NewReclusteringEngine(queue, topicStore, ideaStore, fakeSummarizer{}, centroidEngine, log, clustering.ReclusterConfig{DistanceThreshold: 0.30, MinGroupSize: 2, ChunkSizeSmall: 2000, ChunkSizeLarge: 5000})
	coord := coordinator.New(queue, ideaStore, discussions, centroidEngine, reclusterEngine, fakeEventPublisher{}, log, 5*time.Second)

	d := dispatcher.New(queue, ideaStore, discussions, proc, coord, log, dispatcher.Config{CleanupInterval: 20 * time.Millisecond, StaleProcessingWindow: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	d.RunCleanupLoop(ctx)

	ideaStore.mu.Lock()
	got := ideaStore.status["s1"]
	ideaStore.mu.Unlock()

	if got != models.IdeaStuck {
		t.Fatalf("expected idea s1 marked stuck, got %q", got)
	}
}

// staleIdeaStore overrides ListStaleProcessing with a fixed answer.
type staleIdeaStore struct {
	*fakeIdeaStore
	stale []models.Idea
}

func (s *staleIdeaStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.Idea, error) {
	return s.stale, nil
}
