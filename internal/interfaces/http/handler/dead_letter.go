package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/application/deadletter"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
	"github.com/crosslist/backend/internal/interfaces/http/middleware"
)

// DeadLetterAdmin is the operator surface of the dead-letter queue
type DeadLetterAdmin interface {
	Get(ctx context.Context, id uuid.UUID) (*integration.DeadLetterEntry, error)
	List(ctx context.Context, filter integration.DeadLetterFilter) ([]*integration.DeadLetterEntry, int64, error)
	PendingCount(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id uuid.UUID, req deadletter.ResolveRequest) (*deadletter.ResolveResult, error)
	BulkResolve(ctx context.Context, ids []uuid.UUID, req deadletter.ResolveRequest) (*deadletter.BulkResult, error)
	AutoCleanup(ctx context.Context) (deadletter.CleanupResult, error)
}

// DeadLetterHandler lets operators inspect and resolve dead letters
type DeadLetterHandler struct {
	BaseHandler
	admin DeadLetterAdmin
}

// NewDeadLetterHandler creates a DeadLetterHandler
func NewDeadLetterHandler(admin DeadLetterAdmin) *DeadLetterHandler {
	return &DeadLetterHandler{admin: admin}
}

// List godoc
// @ID           listDeadLetters
// @Summary      List dead letters
// @Description  Lists dead-lettered jobs oldest first
// @Tags         dead-letters
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20)
// @Param        status query string false "Resolution status" Enums(pending, resolved, discarded)
// @Param        marketplace query string false "Marketplace id"
// @Param        requires_manual_review query bool false "Only entries flagged for manual review"
// @Success      200 {object} dto.Response{data=[]dto.DeadLetterResponse,meta=dto.Meta}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/dead-letters [get]
func (h *DeadLetterHandler) List(c *gin.Context) {
	var req dto.DeadLetterListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	req.Normalize()

	filter := integration.DeadLetterFilter{
		RequiresManualReview: req.RequiresManualReview,
		Limit:                req.PageSize,
		Offset:               req.Offset(),
	}
	if req.Status != "" {
		status := integration.ResolutionStatus(req.Status)
		filter.Status = &status
	}
	if req.Marketplace != "" {
		m := integration.MarketplaceID(req.Marketplace)
		filter.Marketplace = &m
	}

	entries, total, err := h.admin.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.DeadLetterResponse, len(entries))
	for i, e := range entries {
		out[i] = toDeadLetterResponse(e)
	}
	h.SuccessWithMeta(c, out, total, req.Page, req.PageSize)
}

// Stats godoc
// @ID           getDeadLetterStats
// @Summary      Count pending dead letters
// @Tags         dead-letters
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.DeadLetterStatsResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/dead-letters/stats [get]
func (h *DeadLetterHandler) Stats(c *gin.Context) {
	pending, err := h.admin.PendingCount(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.DeadLetterStatsResponse{Pending: pending})
}

// Get godoc
// @ID           getDeadLetter
// @Summary      Get a dead letter
// @Tags         dead-letters
// @Produce      json
// @Param        id path string true "Dead letter ID" format(uuid)
// @Success      200 {object} dto.Response{data=dto.DeadLetterResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/dead-letters/{id} [get]
func (h *DeadLetterHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	entry, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toDeadLetterResponse(entry))
}

// Resolve godoc
// @ID           resolveDeadLetter
// @Summary      Resolve a dead letter
// @Description  retry and modify_and_retry schedule a fresh job; escalate notifies; discard closes the entry.
// @Description  Only one resolution of an entry ever wins; later attempts answer 409.
// @Tags         dead-letters
// @Accept       json
// @Produce      json
// @Param        id path string true "Dead letter ID" format(uuid)
// @Param        request body dto.ResolveDeadLetterRequest true "Resolution"
// @Success      200 {object} dto.Response{data=dto.ResolveDeadLetterResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/dead-letters/{id}/resolve [post]
func (h *DeadLetterHandler) Resolve(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	var req dto.ResolveDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	result, err := h.admin.Resolve(c.Request.Context(), id, deadletter.ResolveRequest{
		Action: integration.ResolutionAction(req.Action),
		Notes:  withOperator(c, req.Notes),
		Patch:  req.Patch,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	logger.L(c.Request.Context()).Info("Dead letter resolved",
		zap.String("entry_id", id.String()),
		zap.String("action", req.Action),
		zap.String("operator", middleware.GetOperator(c)),
	)

	resp := dto.ResolveDeadLetterResponse{Entry: toDeadLetterResponse(result.Entry)}
	if result.SpawnedJob != nil {
		resp.SpawnedJobID = result.SpawnedJob.ID.String()
	}
	h.Success(c, resp)
}

// BulkResolve godoc
// @ID           bulkResolveDeadLetters
// @Summary      Resolve dead letters in bulk
// @Description  Applies one resolution to every id in batches; a failing id never aborts the rest
// @Tags         dead-letters
// @Accept       json
// @Produce      json
// @Param        request body dto.BulkResolveDeadLetterRequest true "Ids and resolution"
// @Success      200 {object} dto.Response{data=dto.BulkResolveDeadLetterResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/dead-letters/bulk-resolve [post]
func (h *DeadLetterHandler) BulkResolve(c *gin.Context) {
	var req dto.BulkResolveDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	ids := make([]uuid.UUID, len(req.IDs))
	for i, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.BadRequest(c, "Invalid id: "+raw)
			return
		}
		ids[i] = id
	}

	result, err := h.admin.BulkResolve(c.Request.Context(), ids, deadletter.ResolveRequest{
		Action: integration.ResolutionAction(req.Action),
		Notes:  withOperator(c, req.Notes),
		Patch:  req.Patch,
	})
	if result == nil {
		h.HandleError(c, err)
		return
	}
	// A cancelled bulk run still reports what it resolved
	resp := dto.BulkResolveDeadLetterResponse{
		Resolved: make([]string, len(result.Resolved)),
		Failed:   make(map[string]string, len(result.Failed)),
	}
	for i, id := range result.Resolved {
		resp.Resolved[i] = id.String()
	}
	for id, reason := range result.Failed {
		resp.Failed[id.String()] = reason
	}
	h.Success(c, resp)
}

// Cleanup godoc
// @ID           cleanupDeadLetters
// @Summary      Discard expired dead letters
// @Description  Archives and discards pending entries older than the retention period
// @Tags         dead-letters
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.DeadLetterCleanupResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/dead-letters/cleanup [post]
func (h *DeadLetterHandler) Cleanup(c *gin.Context) {
	result, err := h.admin.AutoCleanup(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.DeadLetterCleanupResponse{
		Discarded: result.Discarded,
		Archived:  result.Archived,
		Failed:    result.Failed,
	})
}

// withOperator prefixes notes with the acting operator
func withOperator(c *gin.Context, notes string) string {
	operator := middleware.GetOperator(c)
	if operator == "" {
		return notes
	}
	if notes == "" {
		return "[" + operator + "]"
	}
	return "[" + operator + "] " + notes
}

func toDeadLetterResponse(e *integration.DeadLetterEntry) dto.DeadLetterResponse {
	history := make([]dto.FailureRecordResponse, len(e.FailureHistory))
	for i, f := range e.FailureHistory {
		history[i] = dto.FailureRecordResponse{
			Attempt:    f.Attempt,
			Category:   string(f.Category),
			Detail:     f.Detail,
			OccurredAt: formatTime(f.OccurredAt),
		}
	}
	return dto.DeadLetterResponse{
		ID:                   e.ID.String(),
		OriginalJobID:        e.OriginalJobID.String(),
		JobType:              string(e.JobType),
		Marketplace:          string(e.Marketplace),
		UserID:               e.UserID,
		Payload:              e.Payload,
		FinalCategory:        string(e.FinalCategory),
		TotalAttempts:        e.TotalAttempts,
		FailureHistory:       history,
		RequiresManualReview: e.RequiresManualReview,
		ResolutionStatus:     string(e.ResolutionStatus),
		ResolutionAction:     string(e.ResolutionAction),
		ResolutionNotes:      e.ResolutionNotes,
		SpawnedJobID:         formatUUIDPtr(e.SpawnedJobID),
		ResolvedAt:           formatTimePtr(e.ResolvedAt),
		CreatedAt:            formatTime(e.CreatedAt),
		UpdatedAt:            formatTime(e.UpdatedAt),
	}
}
