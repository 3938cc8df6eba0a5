package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/dbpool"
	"github.com/topictrends/cluster-core/internal/domain"
	"github.com/topictrends/cluster-core/internal/models"
)

// TopicStore persists topics and their idea assignments (spec §3, §4.4-§4.6).
type TopicStore struct {
	Base
}

// NewTopicStore constructs a TopicStore.
func NewTopicStore(pool *dbpool.Pool, log *logrus.Logger) *TopicStore {
	return &TopicStore{Base{Pool: pool, Log: log}}
}

const topicColumns = `id, discussion_id, representative_text, member_count, centroid, created_at, updated_at`

// ListByDiscussion returns every topic for a discussion.
func (s *TopicStore) ListByDiscussion(ctx context.Context, discussionID string) ([]models.Topic, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, "SELECT "+topicColumns+" FROM topics WHERE discussion_id = $1", discussionID)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	var topics []models.Topic

	for rows.Next() {
		var t models.Topic

		var centroid *string

		if err := rows.Scan(&t.ID, &t.DiscussionID, &t.RepresentativeText, &t.MemberCount,
			&centroid, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}

		t.Centroid = parseEmbedding(centroid)
		topics = append(topics, t)
	}

	return topics, rows.Err()
}

// CommitBatch atomically upserts topics and assigns ideas in one bulk write,
// setting each assigned idea's status to completed (spec §4.4 step 5,
// §4.6 "atomic commit primitives").
func (s *TopicStore) CommitBatch(ctx context.Context, discussionID string, topics []models.Topic, assignments []domain.Assignment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	for _, t := range topics {
		_, err := tx.Exec(ctx, `
			INSERT INTO topics (id, discussion_id, representative_text, member_count, centroid, updated_at)
			VALUES ($1, $2, $3, $4, $5::vector, now())
			ON CONFLICT (id) DO UPDATE SET
				representative_text = EXCLUDED.representative_text,
				member_count = EXCLUDED.member_count,
				centroid = EXCLUDED.centroid,
				updated_at = now()`,
			t.ID, discussionID, t.RepresentativeText, t.MemberCount, formatEmbedding(t.Centroid))
		if err != nil {
			return fmt.Errorf("upserting topic %s: %w", t.ID, err)
		}
	}

	for _, a := range assignments {
		_, err := tx.Exec(ctx,
			"UPDATE ideas SET topic_id = $1, status = $2, updated_at = now() WHERE id = $3",
			a.TopicID, models.IdeaCompleted, a.IdeaID)
		if err != nil {
			return fmt.Errorf("assigning idea %s to topic %s: %w", a.IdeaID, a.TopicID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	s.notify("topics", "commit_batch", discussionID)

	return nil
}

// ReplaceAll atomically deletes every existing topic for a discussion and
// inserts the new set, then bulk-assigns ideas to it (spec §4.5 step 6).
func (s *TopicStore) ReplaceAll(ctx context.Context, discussionID string, topics []models.Topic, assignments []domain.Assignment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("replace all topics: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	// Ideas reference topics via a nullable FK; clear it before dropping the
	// old topic rows so the constraint never sees a dangling reference.
	if _, err := tx.Exec(ctx, "UPDATE ideas SET topic_id = NULL WHERE discussion_id = $1", discussionID); err != nil {
		return fmt.Errorf("clearing idea topic references: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM topics WHERE discussion_id = $1", discussionID); err != nil {
		return fmt.Errorf("deleting old topics: %w", err)
	}

	for _, t := range topics {
		_, err := tx.Exec(ctx, `
			INSERT INTO topics (id, discussion_id, representative_text, member_count, centroid, updated_at)
			VALUES ($1, $2, $3, $4, $5::vector, now())`,
			t.ID, discussionID, t.RepresentativeText, t.MemberCount, formatEmbedding(t.Centroid))
		if err != nil {
			return fmt.Errorf("inserting topic %s: %w", t.ID, err)
		}
	}

	for _, a := range assignments {
		_, err := tx.Exec(ctx,
			"UPDATE ideas SET topic_id = $1, status = $2, updated_at = now() WHERE id = $3",
			a.TopicID, models.IdeaCompleted, a.IdeaID)
		if err != nil {
			return fmt.Errorf("assigning idea %s to topic %s: %w", a.IdeaID, a.TopicID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing topic replacement: %w", err)
	}

	s.notify("topics", "replace_all", discussionID)

	return nil
}
