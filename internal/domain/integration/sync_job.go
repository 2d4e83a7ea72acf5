package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrSyncJobNotFound is returned when a sync job does not exist
	ErrSyncJobNotFound = errors.New("integration: sync job not found")
	// ErrSyncOperationNotFound is returned when a target is not part of a sync job
	ErrSyncOperationNotFound = errors.New("integration: sync operation not found")
)

// Skip reasons recorded on skipped operations
const (
	SkipReasonNotConnected = "not connected"
	SkipReasonRateLimited  = "rate limited"
	SkipReasonUnavailable  = "unavailable"
)

// ---------------------------------------------------------------------------
// Statuses
// ---------------------------------------------------------------------------

// OperationStatus is the status of one sync target
type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationProcessing OperationStatus = "processing"
	OperationSuccess    OperationStatus = "success"
	OperationFailed     OperationStatus = "failed"
	OperationSkipped    OperationStatus = "skipped"
)

// IsTerminal returns true for success, failed and skipped
func (s OperationStatus) IsTerminal() bool {
	return s == OperationSuccess || s == OperationFailed || s == OperationSkipped
}

// SyncStatus is the overall status of a sync job
type SyncStatus string

const (
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusPartial    SyncStatus = "partial"
	SyncStatusFailed     SyncStatus = "failed"
)

// ComputeSyncStatus derives the overall status from operation statuses.
// Skipped operations never count as failures: an all-skipped job is completed,
// while successes mixed with skips or failures are partial.
func ComputeSyncStatus(statuses []OperationStatus) SyncStatus {
	var successes, failures, skips int
	for _, s := range statuses {
		switch s {
		case OperationPending, OperationProcessing:
			return SyncStatusProcessing
		case OperationSuccess:
			successes++
		case OperationFailed:
			failures++
		case OperationSkipped:
			skips++
		}
	}
	switch {
	case failures == 0 && (successes == 0 || skips == 0):
		return SyncStatusCompleted
	case successes > 0:
		return SyncStatusPartial
	default:
		return SyncStatusFailed
	}
}

// ---------------------------------------------------------------------------
// SyncJob
// ---------------------------------------------------------------------------

// SyncOperation is the outcome for one target marketplace
type SyncOperation struct {
	Marketplace    MarketplaceID
	ExternalID     string
	Status         OperationStatus
	Error          string
	Category       FailureCategory
	RetryJobID     *uuid.UUID
	ProcessingTime time.Duration
	UpdatedAt      time.Time
}

// SyncJob tracks a delist fan-out triggered by a sale
type SyncJob struct {
	ID              uuid.UUID
	ListingID       uuid.UUID
	UserID          string
	SoldMarketplace MarketplaceID
	SalePrice       decimal.Decimal
	Status          SyncStatus
	Operations      []SyncOperation
	StartedAt       time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// NewSyncJob creates a processing sync job with one pending operation per target
func NewSyncJob(listing *Listing, sold MarketplaceID, salePrice decimal.Decimal, targets []ListingPost, now time.Time) *SyncJob {
	ops := make([]SyncOperation, 0, len(targets))
	for _, t := range targets {
		ops = append(ops, SyncOperation{
			Marketplace: t.Marketplace,
			ExternalID:  t.ExternalID,
			Status:      OperationPending,
			UpdatedAt:   now,
		})
	}
	return &SyncJob{
		ID:              uuid.New(),
		ListingID:       listing.ID,
		UserID:          listing.UserID,
		SoldMarketplace: sold,
		SalePrice:       salePrice,
		Status:          SyncStatusProcessing,
		Operations:      ops,
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// Operation returns the operation for a marketplace
func (j *SyncJob) Operation(m MarketplaceID) (*SyncOperation, error) {
	for i := range j.Operations {
		if j.Operations[i].Marketplace == m {
			return &j.Operations[i], nil
		}
	}
	return nil, ErrSyncOperationNotFound
}

// ApplyOperation replaces the target's operation and recomputes status
func (j *SyncJob) ApplyOperation(op SyncOperation, now time.Time) error {
	current, err := j.Operation(op.Marketplace)
	if err != nil {
		return err
	}
	op.UpdatedAt = now
	*current = op
	j.Recompute(now)
	return nil
}

// Recompute derives the status and stamps completion when terminal
func (j *SyncJob) Recompute(now time.Time) {
	j.Status = ComputeSyncStatus(j.Statuses())
	j.UpdatedAt = now
	if j.Status != SyncStatusProcessing && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
}

// Statuses returns the operation statuses in order
func (j *SyncJob) Statuses() []OperationStatus {
	out := make([]OperationStatus, len(j.Operations))
	for i, op := range j.Operations {
		out[i] = op.Status
	}
	return out
}

// Count returns how many operations have a status
func (j *SyncJob) Count(status OperationStatus) int {
	n := 0
	for _, op := range j.Operations {
		if op.Status == status {
			n++
		}
	}
	return n
}

// SyncResult is the summary returned to the sale path
type SyncResult struct {
	SyncJobID    uuid.UUID
	Status       SyncStatus
	Operations   []SyncOperation
	SuccessCount int
	FailedCount  int
	SkippedCount int
	RetryJobIDs  []uuid.UUID
}

// Result summarizes the job
func (j *SyncJob) Result() SyncResult {
	ops := make([]SyncOperation, len(j.Operations))
	copy(ops, j.Operations)
	res := SyncResult{
		SyncJobID:    j.ID,
		Status:       j.Status,
		Operations:   ops,
		SuccessCount: j.Count(OperationSuccess),
		FailedCount:  j.Count(OperationFailed),
		SkippedCount: j.Count(OperationSkipped),
	}
	for _, op := range ops {
		if op.RetryJobID != nil {
			res.RetryJobIDs = append(res.RetryJobIDs, *op.RetryJobID)
		}
	}
	return res
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// AuditRecord is an immutable log line for one sync operation outcome
type AuditRecord struct {
	ID                uuid.UUID
	SyncJobID         uuid.UUID
	ListingID         uuid.UUID
	SourceMarketplace MarketplaceID
	TargetMarketplace MarketplaceID
	Action            CallAction
	PriorStatus       OperationStatus
	NewStatus         OperationStatus
	Error             string
	CreatedAt         time.Time
}

// NewAuditRecord builds an audit record for a status change
func NewAuditRecord(job *SyncJob, target MarketplaceID, prior, next OperationStatus, errMsg string, now time.Time) AuditRecord {
	return AuditRecord{
		ID:                uuid.New(),
		SyncJobID:         job.ID,
		ListingID:         job.ListingID,
		SourceMarketplace: job.SoldMarketplace,
		TargetMarketplace: target,
		Action:            ActionDeleteListing,
		PriorStatus:       prior,
		NewStatus:         next,
		Error:             errMsg,
		CreatedAt:         now,
	}
}

// SyncJobRepository persists sync jobs with their operations
type SyncJobRepository interface {
	// Create inserts a job and its operations
	Create(ctx context.Context, job *SyncJob) error
	// Save updates the job and its operations
	Save(ctx context.Context, job *SyncJob) error
	// FindByID returns a job or ErrSyncJobNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)
	// ListByListing returns jobs for a listing, newest first
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]*SyncJob, error)
}

// AuditLog is the append-only sync audit trail
type AuditLog interface {
	Append(ctx context.Context, record AuditRecord) error
	ListBySyncJob(ctx context.Context, syncJobID uuid.UUID) ([]AuditRecord, error)
}
