package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// SyncJobReader reads sync jobs and their audit trail
type SyncJobReader interface {
	GetSyncJob(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error)
	AuditTrail(ctx context.Context, id uuid.UUID) ([]integration.AuditRecord, error)
}

// SyncJobHandler exposes sync job progress to operators
type SyncJobHandler struct {
	BaseHandler
	jobs SyncJobReader
}

// NewSyncJobHandler creates a SyncJobHandler
func NewSyncJobHandler(jobs SyncJobReader) *SyncJobHandler {
	return &SyncJobHandler{jobs: jobs}
}

// Get godoc
// @ID           getSyncJob
// @Summary      Get a sync job
// @Description  Returns a sale sync job with its per-marketplace operations
// @Tags         sync-jobs
// @Produce      json
// @Param        id path string true "Sync job ID" format(uuid)
// @Success      200 {object} dto.Response{data=dto.SyncJobResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/sync-jobs/{id} [get]
func (h *SyncJobHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	job, err := h.jobs.GetSyncJob(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toSyncJobResponse(job))
}

// Audit godoc
// @ID           getSyncJobAudit
// @Summary      Get the audit trail of a sync job
// @Tags         sync-jobs
// @Produce      json
// @Param        id path string true "Sync job ID" format(uuid)
// @Success      200 {object} dto.Response{data=[]dto.AuditRecordResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/sync-jobs/{id}/audit [get]
func (h *SyncJobHandler) Audit(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	records, err := h.jobs.AuditTrail(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.AuditRecordResponse, len(records))
	for i, r := range records {
		out[i] = dto.AuditRecordResponse{
			ID:                r.ID.String(),
			SourceMarketplace: string(r.SourceMarketplace),
			TargetMarketplace: string(r.TargetMarketplace),
			Action:            string(r.Action),
			PriorStatus:       string(r.PriorStatus),
			NewStatus:         string(r.NewStatus),
			Error:             r.Error,
			CreatedAt:         formatTime(r.CreatedAt),
		}
	}
	h.Success(c, out)
}

func toSyncJobResponse(job *integration.SyncJob) dto.SyncJobResponse {
	result := job.Result()
	resp := dto.SyncJobResponse{
		ID:              job.ID.String(),
		ListingID:       job.ListingID.String(),
		UserID:          job.UserID,
		SoldMarketplace: string(job.SoldMarketplace),
		SalePrice:       job.SalePrice,
		Status:          string(job.Status),
		SuccessCount:    result.SuccessCount,
		FailedCount:     result.FailedCount,
		SkippedCount:    result.SkippedCount,
		Operations:      make([]dto.SyncOperationResponse, len(job.Operations)),
		StartedAt:       formatTime(job.StartedAt),
		CompletedAt:     formatTimePtr(job.CompletedAt),
	}
	for i, op := range job.Operations {
		resp.Operations[i] = dto.SyncOperationResponse{
			Marketplace:      string(op.Marketplace),
			ExternalID:       op.ExternalID,
			Status:           string(op.Status),
			Error:            op.Error,
			Category:         string(op.Category),
			RetryJobID:       formatUUIDPtr(op.RetryJobID),
			ProcessingTimeMs: op.ProcessingTime.Milliseconds(),
			UpdatedAt:        formatTime(op.UpdatedAt),
		}
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatUUIDPtr(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
