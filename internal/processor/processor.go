// Package processor implements the Parallel Embedding Processor (spec
// §4.3): a bounded-concurrency stage that drains formatted ideas through
// the Embedding Client, adapted from the teacher's persistent
// channel-and-worker-pool embedding stage into a batch-oriented fan-out
// using golang.org/x/sync/errgroup, since each invocation here processes
// one finite mega-batch rather than an unbounded job stream.
package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/models"
)

// Processor embeds and enriches a discussion's worth of formatted ideas
// with bounded concurrency (spec §5: default 50).
type Processor struct {
	embedding  domain.EmbeddingClient
	formatting domain.FormattingClient
	ideas      domain.IdeaStore
	log        *logrus.Logger
	concurrency int
}

// New constructs a Processor with the given concurrency limit.
func New(embedding domain.EmbeddingClient, formatting domain.FormattingClient, ideas domain.IdeaStore, log *logrus.Logger, concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = 50
	}

	return &Processor{
		embedding:   embedding,
		formatting:  formatting,
		ideas:       ideas,
		log:         log,
		concurrency: concurrency,
	}
}

// Process embeds and enriches every idea concurrently, bounded by the
// processor's concurrency limit. For each idea: (a) write a "last attempt"
// timestamp, (b) call the Formatting and Embedding Clients, (c) on success
// persist embedding + enrichment + status=embedded in one update, (d) on
// terminal failure leave status as-is so the watchdog can mark it stuck.
// Never fails the batch on individual idea failures; returns the sublist
// that succeeded (spec §4.3).
func (p *Processor) Process(ctx context.Context, discussionPrompt string, ideas []models.Idea) []models.Idea {
	if len(ideas) == 0 {
		return nil
	}

	succeeded := make([]models.Idea, len(ideas))
	ok := make([]bool, len(ideas))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, idea := range ideas {
		g.Go(func() error {
			result, didSucceed := p.processOne(gctx, discussionPrompt, idea)
			if didSucceed {
				succeeded[i] = result
				ok[i] = true
			}

			return nil
		})
	}

	_ = g.Wait() // per-idea errors are logged and swallowed; the batch never fails as a whole.

	out := make([]models.Idea, 0, len(ideas))

	for i, wasOK := range ok {
		if wasOK {
			out = append(out, succeeded[i])
		}
	}

	return out
}

func (p *Processor) processOne(ctx context.Context, discussionPrompt string, idea models.Idea) (models.Idea, bool) {
	if err := p.ideas.MarkAttempt(ctx, idea.ID, time.Now()); err != nil {
		p.log.WithError(err).WithField("idea_id", idea.ID).Error("recording embedding attempt")
		return models.Idea{}, false
	}

	enrichment, err := p.formatting.Format(ctx, idea.Text, discussionPrompt)
	if err != nil {
		// Enrichment is best-effort (spec §7(b)): degrade gracefully and
		// still attempt the embedding.
		p.log.WithError(err).WithField("idea_id", idea.ID).Warn("formatting failed, continuing without enrichment")
	}

	embedding, err := p.embedding.Embed(ctx, idea.Text)
	if err != nil {
		p.log.WithError(err).WithField("idea_id", idea.ID).Warn("embedding failed")
		return models.Idea{}, false
	}

	if err := p.ideas.MarkEmbedded(ctx, idea.ID, embedding, enrichment); err != nil {
		p.log.WithError(err).WithField("idea_id", idea.ID).Error("persisting embedding")
		return models.Idea{}, false
	}

	idea.Embedding = embedding
	idea.Enrichment = enrichment
	idea.Status = models.IdeaEmbedded

	return idea, true
}
