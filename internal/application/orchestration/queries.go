package orchestration

import (
	"context"

	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/domain/integration"
)

// SyncJobQueries reads sync jobs without the fan-out machinery
type SyncJobQueries struct {
	syncJobs integration.SyncJobRepository
	audit    integration.AuditLog
}

// NewSyncJobQueries creates SyncJobQueries
func NewSyncJobQueries(syncJobs integration.SyncJobRepository, audit integration.AuditLog) *SyncJobQueries {
	return &SyncJobQueries{syncJobs: syncJobs, audit: audit}
}

// GetSyncJob returns a sync job or ErrSyncJobNotFound
func (q *SyncJobQueries) GetSyncJob(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	return q.syncJobs.FindByID(ctx, id)
}

// AuditTrail returns the audit records of a sync job in append order
func (q *SyncJobQueries) AuditTrail(ctx context.Context, id uuid.UUID) ([]integration.AuditRecord, error) {
	if _, err := q.syncJobs.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return q.audit.ListBySyncJob(ctx, id)
}
