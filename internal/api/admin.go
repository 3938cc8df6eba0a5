package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/topictrends/cluster-core/internal/clustering"
	"github.com/topictrends/cluster-core/internal/coordinator"
	"github.com/topictrends/cluster-core/internal/domain"
)

// AdminHandler serves the operator surface of spec §6: manual reclustering,
// retry hooks for stuck/failed ideas, lock recovery, and per-category
// status counts.
type AdminHandler struct {
	ideas       domain.IdeaStore
	queue       domain.Queue
	coordinator *coordinator.Coordinator
	log         *logrus.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ideas domain.IdeaStore, queue domain.Queue, coord *coordinator.Coordinator, log *logrus.Logger) *AdminHandler {
	return &AdminHandler{ideas: ideas, queue: queue, coordinator: coord, log: log}
}

// TriggerFullReclustering handles POST /admin/discussions/:id/recluster,
// the manual trigger of spec §6 ("trigger_full_reclustering(discussion_id)").
// It fails fast with 409 if the Reclustering Lock is already held.
func (h *AdminHandler) TriggerFullReclustering(c *gin.Context) {
	discussionID := c.Param("id")
	if err := validatePathID(discussionID); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	err := h.coordinator.ProcessFullReclustering(c.Request.Context(), discussionID)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"discussion_id": discussionID, "status": "reclustered"})
	case err == clustering.ErrLockHeld:
		respondError(c, http.StatusConflict, ErrCodeInvalidRequest, "reclustering lock already held for this discussion")
	default:
		h.log.WithError(err).WithField("discussion_id", discussionID).Error("full reclustering failed")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "full reclustering failed")
	}
}

// retryRequest is the body of the retry-hook endpoint.
type retryRequest struct {
	IdeaIDs []string `json:"idea_ids"`
}

// RetryIdeas handles POST /admin/ideas/retry, the retry hook of spec §6:
// it resets the given ideas from stuck/failed back to pending and
// re-enqueues them.
func (h *AdminHandler) RetryIdeas(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IdeaIDs) == 0 {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "idea_ids must be a non-empty list")
		return
	}

	ctx := c.Request.Context()

	if err := h.ideas.ResetToPending(ctx, req.IdeaIDs); err != nil {
		h.log.WithError(err).Error("resetting ideas to pending")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "reset to pending failed")

		return
	}

	requeued := 0

	for _, id := range req.IdeaIDs {
		idea, err := h.ideas.GetIdea(ctx, id)
		if err != nil {
			h.log.WithError(err).WithField("idea_id", id).Warn("loading idea for requeue")
			continue
		}

		if err := h.queue.Enqueue(ctx, idea.ID, idea.DiscussionID); err != nil {
			h.log.WithError(err).WithField("idea_id", id).Error("re-enqueueing idea")
			continue
		}

		requeued++
	}

	h.log.WithFields(logrus.Fields{
		"action":   "admin.retry_ideas",
		"count":    len(req.IdeaIDs),
		"requeued": requeued,
	}).Info("audit")

	c.JSON(http.StatusOK, gin.H{"reset": len(req.IdeaIDs), "requeued": requeued})
}

// ClearLock handles POST /admin/discussions/:id/clear-lock, the wedged-lock
// recovery hook of spec §6.
func (h *AdminHandler) ClearLock(c *gin.Context) {
	discussionID := c.Param("id")
	if err := validatePathID(discussionID); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := h.queue.ClearLock(c.Request.Context(), discussionID); err != nil {
		h.log.WithError(err).WithField("discussion_id", discussionID).Error("clearing reclustering lock")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "clearing lock failed")

		return
	}

	h.log.WithFields(logrus.Fields{
		"action":        "admin.clear_lock",
		"discussion_id": discussionID,
	}).Info("audit")

	c.JSON(http.StatusOK, gin.H{"discussion_id": discussionID, "status": "lock_cleared"})
}

// StatusCounts handles GET /admin/discussions/:id/counts, the operator
// status-visibility surface of spec §6/§7: per-category idea counts.
func (h *AdminHandler) StatusCounts(c *gin.Context) {
	discussionID := c.Param("id")
	if err := validatePathID(discussionID); err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	counts, err := h.ideas.CountByStatus(c.Request.Context(), discussionID)
	if err != nil {
		h.log.WithError(err).WithField("discussion_id", discussionID).Error("counting ideas by status")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "counting ideas failed")

		return
	}

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}

	c.JSON(http.StatusOK, gin.H{"discussion_id": discussionID, "counts": out})
}
