// Package queue implements the Work Queue & Lock Service (spec §4.1): a
// persistent FIFO of idea-process jobs, a keyed mutex for reclustering
// with a TTL for crash liveness, and a per-discussion deferred-work
// queue — all backed by Postgres tables, with batch dequeue guarded by
// `FOR UPDATE SKIP LOCKED`, grounded on the same pgx transaction pattern
// the stores use.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/dbpool"
	"github.com/topictrends/cluster-core/internal/models"
)

const defaultQueryTimeout = 30 * time.Second

// Queue is a Postgres-backed implementation of domain.Queue.
type Queue struct {
	pool *dbpool.Pool
	log  *logrus.Logger
	// holder identifies this process as a lock holder (spec §3 "holder marker").
	holder string
}

// New constructs a Queue. holder should be stable for the process lifetime
// (e.g. a hostname + pid), used to attribute Reclustering Lock ownership.
func New(pool *dbpool.Pool, log *logrus.Logger, holder string) *Queue {
	return &Queue{pool: pool, log: log, holder: holder}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// Enqueue adds a work item for an idea. An idea id appears in the queue at
// most once between enqueue and terminal status (spec §3); re-enqueuing an
// already-queued idea is a no-op.
func (q *Queue) Enqueue(ctx context.Context, ideaID, discussionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := q.pool.Exec(ctx, `
		INSERT INTO work_queue (idea_id, discussion_id) VALUES ($1, $2)
		ON CONFLICT (idea_id) DO NOTHING`, ideaID, discussionID)
	if err != nil {
		return fmt.Errorf("enqueueing idea: %w", err)
	}

	return nil
}

// DequeueBatch pops up to max work items in FIFO order, atomically
// removing them so two concurrent Dispatchers never see the same item; a
// dequeued item is not redelivered if its processing fails (the stuck-idea
// watchdog and retry hook recover such ideas). Uses SKIP LOCKED so concurrent
// dequeues never block each other on row contention.
func (q *Queue) DequeueBatch(ctx context.Context, max int, pollTimeout time.Duration) ([]models.WorkItem, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout+defaultQueryTimeout)
	defer cancel()

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning dequeue transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	rows, err := tx.Query(ctx, `
		DELETE FROM work_queue
		WHERE idea_id IN (
			SELECT idea_id FROM work_queue
			ORDER BY enqueued_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING idea_id, discussion_id, enqueued_at`, max)
	if err != nil {
		return nil, fmt.Errorf("dequeuing batch: %w", err)
	}

	var items []models.WorkItem

	for rows.Next() {
		var item models.WorkItem
		if err := rows.Scan(&item.IdeaID, &item.DiscussionID, &item.EnqueuedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning work item: %w", err)
		}

		items = append(items, item)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading dequeue results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing dequeue: %w", err)
	}

	return items, nil
}

// AcquireLock attempts to take the Reclustering Lock for a discussion,
// failing fast (non-blocking) if already held by a live holder (spec §4.1,
// §4.5 step 1). An expired lock (past its TTL) is treated as free.
func (q *Queue) AcquireLock(ctx context.Context, discussionID string, ttl time.Duration) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now()
	expiresAt := now.Add(ttl)

	tag, err := q.pool.Exec(ctx, `
		INSERT INTO reclustering_locks (discussion_id, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (discussion_id) DO UPDATE SET
			holder = EXCLUDED.holder,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE reclustering_locks.expires_at < $3`,
		discussionID, q.holder, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquiring reclustering lock: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ReleaseLock releases the Reclustering Lock held by this process.
func (q *Queue) ReleaseLock(ctx context.Context, discussionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := q.pool.Exec(ctx,
		"DELETE FROM reclustering_locks WHERE discussion_id = $1 AND holder = $2",
		discussionID, q.holder)
	if err != nil {
		return fmt.Errorf("releasing reclustering lock: %w", err)
	}

	return nil
}

// LockHeld reports whether a live (non-expired) lock exists for a discussion.
func (q *Queue) LockHeld(ctx context.Context, discussionID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var held bool

	err := q.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM reclustering_locks WHERE discussion_id = $1 AND expires_at >= now())",
		discussionID).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("checking reclustering lock: %w", err)
	}

	return held, nil
}

// ClearLock forcibly releases a wedged lock regardless of holder (admin
// hook, spec §6 "clear a stuck Reclustering Lock").
func (q *Queue) ClearLock(ctx context.Context, discussionID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := q.pool.Exec(ctx, "DELETE FROM reclustering_locks WHERE discussion_id = $1", discussionID)
	if err != nil {
		return fmt.Errorf("clearing reclustering lock: %w", err)
	}

	return nil
}

// Defer appends idea ids to a discussion's deferred queue (spec §4.4 step 1:
// the online engine defers its whole batch when the lock is held).
func (q *Queue) Defer(ctx context.Context, discussionID string, ideaIDs []string) error {
	if len(ideaIDs) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning defer transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback after commit.

	for _, ideaID := range ideaIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO deferred_queue (discussion_id, idea_id) VALUES ($1, $2)
			ON CONFLICT (discussion_id, idea_id) DO NOTHING`, discussionID, ideaID)
		if err != nil {
			return fmt.Errorf("deferring idea %s: %w", ideaID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing defer batch: %w", err)
	}

	return nil
}

// DrainDeferred atomically pops every deferred idea id for a discussion
// (spec §4.6 "on drain, it re-invokes the online engine for the
// accumulated ideas").
func (q *Queue) DrainDeferred(ctx context.Context, discussionID string) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := q.pool.Query(ctx,
		"DELETE FROM deferred_queue WHERE discussion_id = $1 RETURNING idea_id", discussionID)
	if err != nil {
		return nil, fmt.Errorf("draining deferred queue: %w", err)
	}
	defer rows.Close()

	var ideaIDs []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning deferred idea id: %w", err)
		}

		ideaIDs = append(ideaIDs, id)
	}

	return ideaIDs, rows.Err()
}

// NewHolderID generates a stable-enough holder marker for a process instance.
func NewHolderID() string {
	return uuid.NewString()
}
