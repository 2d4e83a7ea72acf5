package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
)

// MarketplaceCaller performs one resilient marketplace call
type MarketplaceCaller interface {
	Execute(ctx context.Context, req integration.Request, opts resilience.CallOptions) (*integration.Response, error)
}

// SyncOutcomeRecorder folds the result of a deferred delist back into its sync job
type SyncOutcomeRecorder interface {
	RecordRetryOutcome(ctx context.Context, syncJobID uuid.UUID, op integration.SyncOperation) error
}

// DelistExecutor executes delist jobs: it removes one listing post through
// the resilient caller and marks the post delisted on success
type DelistExecutor struct {
	caller   MarketplaceCaller
	listings integration.ListingRepository
	registry integration.MarketplaceRegistry
	recorder SyncOutcomeRecorder
	clock    shared.Clock
	logger   *zap.Logger
}

// NewDelistExecutor creates a delist executor. registry and recorder may be nil.
func NewDelistExecutor(
	caller MarketplaceCaller,
	listings integration.ListingRepository,
	registry integration.MarketplaceRegistry,
	recorder SyncOutcomeRecorder,
	clock shared.Clock,
	logger *zap.Logger,
) *DelistExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DelistExecutor{
		caller:   caller,
		listings: listings,
		registry: registry,
		recorder: recorder,
		clock:    shared.ClockOrSystem(clock),
		logger:   logger,
	}
}

// Execute implements JobExecutor
func (e *DelistExecutor) Execute(ctx context.Context, job *integration.Job) error {
	payload, err := integration.ParseDelistPayload(job.Payload)
	if err != nil {
		return &integration.PermanentError{Err: err}
	}

	if e.registry != nil {
		connected, err := e.registry.IsConnected(ctx, job.UserID, job.Marketplace)
		if err != nil {
			return &integration.NetworkError{Marketplace: job.Marketplace, Err: fmt.Errorf("connection check: %w", err)}
		}
		if !connected {
			callErr := &integration.PermanentError{Err: integration.ErrMarketplaceNotConnected}
			e.record(ctx, job, payload, integration.OperationSkipped, callErr, 0)
			return callErr
		}
	}

	start := e.clock.Now()
	req := integration.Request{
		Marketplace: job.Marketplace,
		Action:      integration.ActionDeleteListing,
		UserID:      job.UserID,
		ExternalID:  payload.ExternalID,
	}
	_, callErr := e.caller.Execute(ctx, req, resilience.CallOptions{})
	elapsed := e.clock.Now().Sub(start)

	if callErr != nil {
		if !WillRetry(job, callErr) {
			e.record(ctx, job, payload, integration.OperationFailed, callErr, elapsed)
		}
		return callErr
	}

	if err := e.listings.UpdatePostStatus(ctx, payload.ListingID, job.Marketplace, integration.PostStatusDelisted); err != nil {
		if !errors.Is(err, integration.ErrListingPostNotFound) {
			return fmt.Errorf("scheduler: mark post delisted: %w", err)
		}
		e.logger.Warn("Delisted post no longer tracked",
			zap.String("listing_id", payload.ListingID.String()),
			zap.String("marketplace", string(job.Marketplace)),
		)
	}

	e.record(ctx, job, payload, integration.OperationSuccess, nil, elapsed)
	return nil
}

func (e *DelistExecutor) record(ctx context.Context, job *integration.Job, payload integration.DelistPayload, status integration.OperationStatus, callErr error, elapsed time.Duration) {
	if e.recorder == nil || payload.SyncJobID == nil {
		return
	}

	jobID := job.ID
	op := integration.SyncOperation{
		Marketplace:    job.Marketplace,
		ExternalID:     payload.ExternalID,
		Status:         status,
		RetryJobID:     &jobID,
		ProcessingTime: elapsed,
	}
	if callErr != nil {
		op.Error = callErr.Error()
		op.Category = integration.CategorizeError(callErr)
	}

	if err := e.recorder.RecordRetryOutcome(ctx, *payload.SyncJobID, op); err != nil {
		e.logger.Warn("Failed to record delist outcome on sync job",
			zap.String("sync_job_id", payload.SyncJobID.String()),
			zap.String("marketplace", string(job.Marketplace)),
			zap.Error(err),
		)
	}
}
