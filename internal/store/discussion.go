package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/dbpool"
	"github.com/topictrends/cluster-core/internal/models"
)

// DiscussionStore is a read-only view over externally-owned discussions (spec §3).
type DiscussionStore struct {
	Base
}

// NewDiscussionStore constructs a DiscussionStore.
func NewDiscussionStore(pool *dbpool.Pool, log *logrus.Logger) *DiscussionStore {
	return &DiscussionStore{Base{Pool: pool, Log: log}}
}

// Get fetches a discussion by ID, along with idea/topic counts derived at read time.
func (s *DiscussionStore) Get(ctx context.Context, discussionID string) (*models.Discussion, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var d models.Discussion

	row := s.Pool.QueryRow(ctx, `
		SELECT d.id, d.title, d.prompt, d.require_verification, d.last_activity_at,
		       (SELECT count(*) FROM ideas i WHERE i.discussion_id = d.id),
		       (SELECT count(*) FROM topics t WHERE t.discussion_id = d.id)
		FROM discussions d
		WHERE d.id = $1`, discussionID)

	err := row.Scan(&d.ID, &d.Title, &d.Prompt, &d.RequireVerification, &d.LastActivityAt,
		&d.IdeaCount, &d.TopicCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDiscussionNotFound
		}

		return nil, fmt.Errorf("fetching discussion: %w", err)
	}

	return &d, nil
}

// UnprocessedCounts splits outstanding work into the two phases an operator
// cares about: embedding-side backlog and clustering-side backlog (spec §4.8,
// §9 "operator surface as a view over the canonical status set").
func (s *DiscussionStore) UnprocessedCounts(ctx context.Context, discussionID string) (*models.UnprocessedCounts, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var u models.UnprocessedCounts
	u.DiscussionID = discussionID

	row := s.Pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status IN ($2, $3, $4)),
			count(*) FILTER (WHERE status = $5)
		FROM ideas WHERE discussion_id = $1`,
		discussionID, models.IdeaPending, models.IdeaProcessing, models.IdeaFailed, models.IdeaEmbedded)

	if err := row.Scan(&u.NeedsEmbedding, &u.NeedsClustering); err != nil {
		return nil, fmt.Errorf("counting unprocessed ideas: %w", err)
	}

	return &u, nil
}
