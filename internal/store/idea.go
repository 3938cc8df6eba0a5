package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/dbpool"
	"github.com/topictrends/cluster-core/internal/models"
)

// IdeaStore persists ideas (spec §3, §4.1-§4.7).
type IdeaStore struct {
	Base
}

// NewIdeaStore constructs an IdeaStore.
func NewIdeaStore(pool *dbpool.Pool, log *logrus.Logger) *IdeaStore {
	return &IdeaStore{Base{Pool: pool, Log: log}}
}

func scanIdea(row pgx.Row) (*models.Idea, error) {
	var idea models.Idea

	var embedding *string
	var onTopic *float64

	err := row.Scan(
		&idea.ID, &idea.DiscussionID, &idea.Text, &idea.SubmitterID,
		&idea.SubmittedAt, &idea.Status, &embedding, &idea.TopicID,
		&idea.Enrichment.Intent, &idea.Enrichment.Keywords, &idea.Enrichment.Sentiment,
		&onTopic, &idea.LastAttemptAt, &idea.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	idea.Embedding = parseEmbedding(embedding)
	idea.Enrichment.OnTopic = onTopic

	return &idea, nil
}

const ideaColumns = `id, discussion_id, text, submitter_id, submitted_at, status,
	embedding, topic_id, intent, keywords, sentiment, on_topic, last_attempt_at, updated_at`

// GetIdea fetches a single idea by ID.
func (s *IdeaStore) GetIdea(ctx context.Context, ideaID string) (*models.Idea, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.Pool.QueryRow(ctx, "SELECT "+ideaColumns+" FROM ideas WHERE id = $1", ideaID)

	idea, err := scanIdea(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrIdeaNotFound
		}

		return nil, fmt.Errorf("fetching idea: %w", err)
	}

	return idea, nil
}

// GetIdeas fetches a batch of ideas by ID, skipping any that don't exist.
func (s *IdeaStore) GetIdeas(ctx context.Context, ideaIDs []string) ([]models.Idea, error) {
	if len(ideaIDs) == 0 {
		return nil, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, "SELECT "+ideaColumns+" FROM ideas WHERE id = ANY($1)", ideaIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching ideas: %w", err)
	}
	defer rows.Close()

	var ideas []models.Idea

	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning idea: %w", err)
		}

		ideas = append(ideas, *idea)
	}

	return ideas, rows.Err()
}

// ListEmbedded returns every idea in a discussion that has an embedding,
// whatever its status (already-clustered ideas included), ordered by
// submission time and then ID.
func (s *IdeaStore) ListEmbedded(ctx context.Context, discussionID string) ([]models.Idea, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT "+ideaColumns+` FROM ideas WHERE discussion_id = $1 AND embedding IS NOT NULL
		ORDER BY submitted_at ASC, id ASC`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("listing embedded ideas: %w", err)
	}
	defer rows.Close()

	var ideas []models.Idea

	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning idea: %w", err)
		}

		ideas = append(ideas, *idea)
	}

	return ideas, rows.Err()
}

// ListStaleProcessing returns ideas stuck in "processing" past olderThan,
// for the stuck-idea watchdog (spec §7(d)).
func (s *IdeaStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.Idea, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.Pool.Query(ctx,
		"SELECT "+ideaColumns+` FROM ideas WHERE status = $1 AND last_attempt_at < $2
		ORDER BY last_attempt_at ASC LIMIT $3`, models.IdeaProcessing, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale processing ideas: %w", err)
	}
	defer rows.Close()

	var ideas []models.Idea

	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning idea: %w", err)
		}

		ideas = append(ideas, *idea)
	}

	return ideas, rows.Err()
}

// UpdateStatusBulk transitions a set of ideas to a new status in one write.
func (s *IdeaStore) UpdateStatusBulk(ctx context.Context, ideaIDs []string, status models.IdeaStatus) error {
	if len(ideaIDs) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		"UPDATE ideas SET status = $1, updated_at = now() WHERE id = ANY($2)", status, ideaIDs)
	if err != nil {
		return fmt.Errorf("updating idea status: %w", err)
	}

	return nil
}

// MarkAttempt records the "last attempt" timestamp before an embed call.
func (s *IdeaStore) MarkAttempt(ctx context.Context, ideaID string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx,
		"UPDATE ideas SET last_attempt_at = $1, status = $2, updated_at = now() WHERE id = $3",
		at, models.IdeaProcessing, ideaID)
	if err != nil {
		return fmt.Errorf("marking idea attempt: %w", err)
	}

	return nil
}

// MarkEmbedded persists embedding + enrichment + status=embedded atomically.
func (s *IdeaStore) MarkEmbedded(ctx context.Context, ideaID string, embedding []float32, enrichment models.Enrichment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `UPDATE ideas SET
		embedding = $1::vector, intent = $2, keywords = $3, sentiment = $4, on_topic = $5,
		status = $6, updated_at = now()
		WHERE id = $7`,
		formatEmbedding(embedding), enrichment.Intent, enrichment.Keywords, enrichment.Sentiment,
		enrichment.OnTopic, models.IdeaEmbedded, ideaID)
	if err != nil {
		return fmt.Errorf("marking idea embedded: %w", err)
	}

	return nil
}

// ResetToPending is the retry hook for stuck/failed ideas.
func (s *IdeaStore) ResetToPending(ctx context.Context, ideaIDs []string) error {
	return s.UpdateStatusBulk(ctx, ideaIDs, models.IdeaPending)
}

// CountByStatus returns per-status counts for a discussion.
func (s *IdeaStore) CountByStatus(ctx context.Context, discussionID string) (map[models.IdeaStatus]int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx,
		"SELECT status, count(*) FROM ideas WHERE discussion_id = $1 GROUP BY status", discussionID)
	if err != nil {
		return nil, fmt.Errorf("counting ideas by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.IdeaStatus]int)

	for rows.Next() {
		var status models.IdeaStatus

		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}

		counts[status] = n
	}

	return counts, rows.Err()
}
