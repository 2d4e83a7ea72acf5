package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// MockSyncJobReader is a mock implementation of SyncJobReader
type MockSyncJobReader struct {
	mock.Mock
}

func (m *MockSyncJobReader) GetSyncJob(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*integration.SyncJob)
	return job, args.Error(1)
}

func (m *MockSyncJobReader) AuditTrail(ctx context.Context, id uuid.UUID) ([]integration.AuditRecord, error) {
	args := m.Called(ctx, id)
	records, _ := args.Get(0).([]integration.AuditRecord)
	return records, args.Error(1)
}

func syncJobRoutes(h *SyncJobHandler) func(r *gin.Engine) {
	return func(r *gin.Engine) {
		r.GET("/api/v1/sync-jobs/:id", h.Get)
		r.GET("/api/v1/sync-jobs/:id/audit", h.Audit)
	}
}

func testSyncJob() *integration.SyncJob {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	retryID := uuid.New()
	return &integration.SyncJob{
		ID:              uuid.New(),
		ListingID:       uuid.New(),
		UserID:          "seller-1",
		SoldMarketplace: integration.MarketplaceEbay,
		SalePrice:       decimal.RequireFromString("42.50"),
		Status:          integration.SyncStatusPartial,
		Operations: []integration.SyncOperation{
			{Marketplace: integration.MarketplacePoshmark, ExternalID: "pm-1", Status: integration.OperationSuccess, ProcessingTime: 230 * time.Millisecond, UpdatedAt: completed},
			{Marketplace: integration.MarketplaceMercari, ExternalID: "mc-1", Status: integration.OperationFailed, Error: "503", Category: integration.CategoryServer, RetryJobID: &retryID, UpdatedAt: completed},
		},
		StartedAt:   started,
		CompletedAt: &completed,
		UpdatedAt:   completed,
	}
}

func TestSyncJobHandler_Get(t *testing.T) {
	job := testSyncJob()

	t.Run("found", func(t *testing.T) {
		reader := new(MockSyncJobReader)
		reader.On("GetSyncJob", mock.Anything, job.ID).Return(job, nil)

		w := performRequest(syncJobRoutes(NewSyncJobHandler(reader)), http.MethodGet, "/api/v1/sync-jobs/"+job.ID.String(), nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.SyncJobResponse
		decodeData(t, w, &resp)
		assert.Equal(t, job.ID.String(), resp.ID)
		assert.Equal(t, "partial", resp.Status)
		assert.Equal(t, 1, resp.SuccessCount)
		assert.Equal(t, 1, resp.FailedCount)
		assert.Equal(t, "2026-03-01T12:00:03Z", resp.CompletedAt)
		require.Len(t, resp.Operations, 2)
		assert.Equal(t, int64(230), resp.Operations[0].ProcessingTimeMs)
		assert.Empty(t, resp.Operations[0].RetryJobID)
		assert.Equal(t, job.Operations[1].RetryJobID.String(), resp.Operations[1].RetryJobID)
		assert.Equal(t, "server", resp.Operations[1].Category)
	})

	t.Run("not found", func(t *testing.T) {
		reader := new(MockSyncJobReader)
		reader.On("GetSyncJob", mock.Anything, mock.Anything).Return(nil, integration.ErrSyncJobNotFound)

		w := performRequest(syncJobRoutes(NewSyncJobHandler(reader)), http.MethodGet, "/api/v1/sync-jobs/"+uuid.NewString(), nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNotFound, decodeResponse(t, w).Error.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		reader := new(MockSyncJobReader)

		w := performRequest(syncJobRoutes(NewSyncJobHandler(reader)), http.MethodGet, "/api/v1/sync-jobs/42", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		reader.AssertNotCalled(t, "GetSyncJob", mock.Anything, mock.Anything)
	})
}

func TestSyncJobHandler_Audit(t *testing.T) {
	job := testSyncJob()
	records := []integration.AuditRecord{
		integration.NewAuditRecord(job, integration.MarketplacePoshmark, integration.OperationPending, integration.OperationSuccess, "", job.StartedAt),
		integration.NewAuditRecord(job, integration.MarketplaceMercari, integration.OperationPending, integration.OperationFailed, "503", job.StartedAt),
	}

	reader := new(MockSyncJobReader)
	reader.On("AuditTrail", mock.Anything, job.ID).Return(records, nil)

	w := performRequest(syncJobRoutes(NewSyncJobHandler(reader)), http.MethodGet, "/api/v1/sync-jobs/"+job.ID.String()+"/audit", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []dto.AuditRecordResponse
	decodeData(t, w, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, "ebay", resp[0].SourceMarketplace)
	assert.Equal(t, "poshmark", resp[0].TargetMarketplace)
	assert.Equal(t, "success", resp[0].NewStatus)
	assert.Equal(t, "503", resp[1].Error)
}
