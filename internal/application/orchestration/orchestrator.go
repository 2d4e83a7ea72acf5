// Package orchestration fans a recorded sale out into delist operations on
// every other marketplace the listing is posted to.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

// Caller performs one resilient marketplace call
type Caller interface {
	Execute(ctx context.Context, req integration.Request, opts resilience.CallOptions) (*integration.Response, error)
}

// AdmissionChecker answers whether a call may be made now
type AdmissionChecker interface {
	CheckAdmission(ctx context.Context, m integration.MarketplaceID, userID string) integration.Admission
}

// BreakerReader reads the breaker state of a marketplace
type BreakerReader interface {
	GetState(ctx context.Context, m integration.MarketplaceID) integration.BreakerState
}

// JobScheduler accepts deferred delist jobs
type JobScheduler interface {
	Schedule(ctx context.Context, job *integration.Job) error
}

// Observer counts finished sync jobs
type Observer interface {
	ObserveSyncJob(sold integration.MarketplaceID, status integration.SyncStatus)
}

// Config tunes the orchestrator
type Config struct {
	// Concurrency bounds the targets called at once
	Concurrency int
	// RetryMaxAttempts caps the attempts of deferred delist jobs
	RetryMaxAttempts int
	// RetryDelay is the first delay of a retry job after a retryable failure
	RetryDelay time.Duration
	// BreakerRetryDelay defers targets whose breaker is open when no retry-after is known
	BreakerRetryDelay time.Duration
	// CallTimeout bounds each delist call including its in-call retries
	CallTimeout time.Duration
}

// DefaultConfig returns 4 concurrent targets and 3-attempt retry jobs
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		RetryMaxAttempts:  integration.DefaultJobMaxAttempts,
		RetryDelay:        30 * time.Second,
		BreakerRetryDelay: time.Minute,
		CallTimeout:       2 * time.Minute,
	}
}

// SaleSyncRequest identifies the sale a sync job fans out from
type SaleSyncRequest struct {
	ListingID       uuid.UUID
	SoldMarketplace integration.MarketplaceID
	SalePrice       decimal.Decimal
	Metadata        map[string]any
}

// Orchestrator runs sync jobs. Mutations of one sync job are serialized by
// a per-job lock so concurrent target outcomes never overwrite each other.
type Orchestrator struct {
	listings  integration.ListingRepository
	syncJobs  integration.SyncJobRepository
	audit     integration.AuditLog
	registry  integration.MarketplaceRegistry
	caller    Caller
	admission AdmissionChecker
	breaker   BreakerReader
	scheduler JobScheduler
	observer  Observer
	config    Config
	clock     shared.Clock
	logger    *zap.Logger
	locks     *keyedMutex
	// active holds jobs whose fan-out is running, keyed by id
	active    sync.Map
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithAdmission enables the pre-flight admission check
func WithAdmission(a AdmissionChecker) Option {
	return func(o *Orchestrator) { o.admission = a }
}

// WithBreaker enables the pre-flight breaker check
func WithBreaker(b BreakerReader) Option {
	return func(o *Orchestrator) { o.breaker = b }
}

// WithScheduler sets where deferred delist jobs go
func WithScheduler(s JobScheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithObserver sets the sync job observer
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithClock sets the clock
func WithClock(c shared.Clock) Option {
	return func(o *Orchestrator) { o.clock = shared.ClockOrSystem(c) }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	listings integration.ListingRepository,
	syncJobs integration.SyncJobRepository,
	audit integration.AuditLog,
	registry integration.MarketplaceRegistry,
	caller Caller,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.RetryMaxAttempts <= 0 {
		config.RetryMaxAttempts = integration.DefaultJobMaxAttempts
	}
	o := &Orchestrator{
		listings: listings,
		syncJobs: syncJobs,
		audit:    audit,
		registry: registry,
		caller:   caller,
		config:   config,
		clock:    shared.SystemClock{},
		logger:   logger,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetScheduler sets the job scheduler after construction
func (o *Orchestrator) SetScheduler(s JobScheduler) {
	o.scheduler = s
}

// TriggerSaleSync creates a sync job for the sale and delists the listing
// from every other active marketplace. Target failures are captured on the
// job and never returned; an error means no job could be run at all.
func (o *Orchestrator) TriggerSaleSync(ctx context.Context, req SaleSyncRequest) (*integration.SyncResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestration", "trigger_sale_sync",
		telemetry.SpanAttrListingID, req.ListingID.String(),
		telemetry.SpanAttrMarketplace, string(req.SoldMarketplace),
	)
	defer span.End()

	listing, err := o.listings.FindByID(ctx, req.ListingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("orchestration: load listing: %w", err)
	}
	if err := o.markSold(ctx, listing, req.SoldMarketplace); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	job := integration.NewSyncJob(listing, req.SoldMarketplace, req.SalePrice, listing.DelistTargets(req.SoldMarketplace), o.clock.Now())
	if err := o.syncJobs.Create(ctx, job); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("orchestration: create sync job: %w", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrSyncJobID, job.ID.String(), "targets", len(job.Operations))

	log := o.logger.With(
		zap.String("sync_job_id", job.ID.String()),
		zap.String("listing_id", listing.ID.String()),
		zap.String("sold_marketplace", string(req.SoldMarketplace)),
	)
	log.Info("Sale sync started", zap.Int("targets", len(job.Operations)), zap.Int("metadata_keys", len(req.Metadata)))

	if len(job.Operations) == 0 {
		job.Recompute(o.clock.Now())
		if err := o.syncJobs.Save(ctx, job); err != nil {
			return nil, fmt.Errorf("orchestration: save sync job: %w", err)
		}
	} else {
		o.active.Store(job.ID, job)
		o.fanOut(ctx, job)
		o.active.Delete(job.ID)
	}

	result := o.result(job)
	if o.observer != nil {
		o.observer.ObserveSyncJob(req.SoldMarketplace, result.Status)
	}
	telemetry.SetAttributes(span, "status", string(result.Status))
	log.Info("Sale sync finished",
		zap.String("status", string(result.Status)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("retry_jobs", len(result.RetryJobIDs)),
	)
	return &result, nil
}

// RecordRetryOutcome folds the terminal outcome of a deferred delist job into its sync job
func (o *Orchestrator) RecordRetryOutcome(ctx context.Context, syncJobID uuid.UUID, op integration.SyncOperation) error {
	unlock := o.locks.Lock(syncJobID)
	defer unlock()

	if v, ok := o.active.Load(syncJobID); ok {
		return o.applyLocked(ctx, v.(*integration.SyncJob), op)
	}
	job, err := o.syncJobs.FindByID(ctx, syncJobID)
	if err != nil {
		return fmt.Errorf("orchestration: load sync job: %w", err)
	}
	return o.applyLocked(ctx, job, op)
}

// GetSyncJob returns a sync job
func (o *Orchestrator) GetSyncJob(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	return NewSyncJobQueries(o.syncJobs, o.audit).GetSyncJob(ctx, id)
}

// AuditTrail returns the audit records of a sync job in append order
func (o *Orchestrator) AuditTrail(ctx context.Context, id uuid.UUID) ([]integration.AuditRecord, error) {
	return NewSyncJobQueries(o.syncJobs, o.audit).AuditTrail(ctx, id)
}

func (o *Orchestrator) markSold(ctx context.Context, listing *integration.Listing, sold integration.MarketplaceID) error {
	post, ok := listing.Post(sold)
	if !ok || post.Status == integration.PostStatusSold {
		return nil
	}
	if err := o.listings.UpdatePostStatus(ctx, listing.ID, sold, integration.PostStatusSold); err != nil &&
		!errors.Is(err, integration.ErrListingPostNotFound) {
		return fmt.Errorf("orchestration: mark post sold: %w", err)
	}
	post.Status = integration.PostStatusSold
	return nil
}

// fanOut runs every target with bounded concurrency. Once ctx is done no new
// target is dispatched; undispatched targets are deferred to a retry job.
func (o *Orchestrator) fanOut(ctx context.Context, job *integration.SyncJob) {
	targets := make([]integration.SyncOperation, len(job.Operations))
	copy(targets, job.Operations)

	sem := make(chan struct{}, o.config.Concurrency)
	var wg sync.WaitGroup

	for _, target := range targets {
		if ctx.Err() != nil {
			o.skipDispatch(ctx, job, target)
			continue
		}
		select {
		case <-ctx.Done():
			o.skipDispatch(ctx, job, target)
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(target integration.SyncOperation) {
			defer wg.Done()
			defer func() { <-sem }()
			labels := telemetry.OperationLabels("sale_sync_fanout", map[string]string{
				"marketplace": string(target.Marketplace),
			})
			telemetry.WithProfilingLabels(ctx, labels, func(ctx context.Context) {
				o.apply(context.WithoutCancel(ctx), job, o.runTarget(ctx, job, target))
			})
		}(target)
	}
	wg.Wait()
}

// runTarget decides and performs one target's delist
func (o *Orchestrator) runTarget(ctx context.Context, job *integration.SyncJob, target integration.SyncOperation) integration.SyncOperation {
	m := target.Marketplace
	op := integration.SyncOperation{Marketplace: m, ExternalID: target.ExternalID}

	connected, err := o.registry.IsConnected(ctx, job.UserID, m)
	if err != nil {
		// a failed lookup says nothing about the marketplace, so it is retried
		return o.classify(ctx, job, target, op, &integration.NetworkError{
			Marketplace: m,
			Err:         fmt.Errorf("connection check: %w", err),
		})
	}
	if !connected {
		op.Status = integration.OperationSkipped
		op.Error = integration.SkipReasonNotConnected
		return op
	}

	if o.admission != nil {
		if adm := o.admission.CheckAdmission(ctx, m, job.UserID); !adm.Allowed {
			op.Status = integration.OperationSkipped
			op.Error = integration.SkipReasonRateLimited
			op.Category = integration.CategoryRateLimit
			op.RetryJobID = o.scheduleRetry(ctx, job, target, adm.WaitTime)
			return op
		}
	}

	if o.breaker != nil && o.breaker.GetState(ctx, m) == integration.BreakerOpen {
		op.Status = integration.OperationSkipped
		op.Error = integration.SkipReasonUnavailable
		op.Category = integration.CategoryCircuitOpen
		op.RetryJobID = o.scheduleRetry(ctx, job, target, o.config.BreakerRetryDelay)
		return op
	}

	start := o.clock.Now()
	_, callErr := o.caller.Execute(ctx, integration.Request{
		Marketplace: m,
		Action:      integration.ActionDeleteListing,
		UserID:      job.UserID,
		ExternalID:  target.ExternalID,
	}, resilience.CallOptions{Priority: resilience.PriorityHigh, Timeout: o.config.CallTimeout})
	op.ProcessingTime = o.clock.Now().Sub(start)

	if callErr == nil {
		if err := o.listings.UpdatePostStatus(ctx, job.ListingID, m, integration.PostStatusDelisted); err != nil &&
			!errors.Is(err, integration.ErrListingPostNotFound) {
			o.logger.Warn("Delisted post status not saved",
				zap.String("sync_job_id", job.ID.String()),
				zap.String("marketplace", string(m)),
				zap.Error(err),
			)
		}
		op.Status = integration.OperationSuccess
		return op
	}
	return o.classify(ctx, job, target, op, callErr)
}

// classify turns a failed call into a skipped, retried or failed operation
func (o *Orchestrator) classify(ctx context.Context, job *integration.SyncJob, target, op integration.SyncOperation, callErr error) integration.SyncOperation {
	op.Error = callErr.Error()
	op.Category = integration.CategorizeError(callErr)

	var (
		rateErr    *integration.RateLimitError
		breakerErr *integration.CircuitBreakerError
	)
	switch {
	case errors.As(callErr, &rateErr):
		op.Status = integration.OperationSkipped
		op.Error = integration.SkipReasonRateLimited
		op.RetryJobID = o.scheduleRetry(ctx, job, target, rateErr.WaitTime)

	case errors.As(callErr, &breakerErr):
		delay := breakerErr.RetryAfter
		if delay <= 0 {
			delay = o.config.BreakerRetryDelay
		}
		op.Status = integration.OperationSkipped
		op.Error = integration.SkipReasonUnavailable
		op.RetryJobID = o.scheduleRetry(ctx, job, target, delay)

	case integration.IsRetryable(callErr) || errors.Is(callErr, context.Canceled):
		op.Status = integration.OperationFailed
		op.RetryJobID = o.scheduleRetry(ctx, job, target, o.config.RetryDelay)

	default:
		op.Status = integration.OperationFailed
		if err := o.listings.UpdatePostStatus(ctx, job.ListingID, target.Marketplace, integration.PostStatusError); err != nil &&
			!errors.Is(err, integration.ErrListingPostNotFound) {
			o.logger.Warn("Post error status not saved",
				zap.String("sync_job_id", job.ID.String()),
				zap.String("marketplace", string(target.Marketplace)),
				zap.Error(err),
			)
		}
	}
	return op
}

// skipDispatch records a target the stopped fan-out never called
func (o *Orchestrator) skipDispatch(ctx context.Context, job *integration.SyncJob, target integration.SyncOperation) {
	cause := ctx.Err()
	ctx = context.WithoutCancel(ctx)
	o.apply(ctx, job, integration.SyncOperation{
		Marketplace: target.Marketplace,
		ExternalID:  target.ExternalID,
		Status:      integration.OperationFailed,
		Error:       fmt.Sprintf("not dispatched: %v", cause),
		Category:    integration.CategoryNetwork,
		RetryJobID:  o.scheduleRetry(ctx, job, target, o.config.RetryDelay),
	})
}

// scheduleRetry schedules a delist retry job and returns its id, or nil when none could be scheduled
func (o *Orchestrator) scheduleRetry(ctx context.Context, job *integration.SyncJob, target integration.SyncOperation, delay time.Duration) *uuid.UUID {
	if o.scheduler == nil {
		return nil
	}
	if delay < 0 {
		delay = 0
	}
	syncJobID := job.ID
	retry := integration.NewDelistJob(target.Marketplace, job.UserID, integration.DelistPayload{
		ListingID:       job.ListingID,
		ExternalID:      target.ExternalID,
		SyncJobID:       &syncJobID,
		SoldMarketplace: job.SoldMarketplace,
	}, o.config.RetryMaxAttempts, o.clock.Now().Add(delay))

	if err := o.scheduler.Schedule(context.WithoutCancel(ctx), retry); err != nil {
		o.logger.Error("Failed to schedule delist retry",
			zap.String("sync_job_id", job.ID.String()),
			zap.String("marketplace", string(target.Marketplace)),
			zap.Error(err),
		)
		return nil
	}
	o.logger.Info("Delist retry scheduled",
		zap.String("sync_job_id", job.ID.String()),
		zap.String("marketplace", string(target.Marketplace)),
		zap.String("job_id", retry.ID.String()),
		zap.Duration("delay", delay),
	)
	id := retry.ID
	return &id
}

// apply records one outcome on the in-flight job under its lock
func (o *Orchestrator) apply(ctx context.Context, job *integration.SyncJob, op integration.SyncOperation) {
	unlock := o.locks.Lock(job.ID)
	defer unlock()

	if err := o.applyLocked(ctx, job, op); err != nil {
		o.logger.Error("Failed to record sync operation",
			zap.String("sync_job_id", job.ID.String()),
			zap.String("marketplace", string(op.Marketplace)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) applyLocked(ctx context.Context, job *integration.SyncJob, op integration.SyncOperation) error {
	current, err := job.Operation(op.Marketplace)
	if err != nil {
		return err
	}
	prior := current.Status
	if op.ExternalID == "" {
		op.ExternalID = current.ExternalID
	}

	now := o.clock.Now()
	if err := job.ApplyOperation(op, now); err != nil {
		return err
	}
	if err := o.syncJobs.Save(ctx, job); err != nil {
		return fmt.Errorf("orchestration: save sync job: %w", err)
	}
	if err := o.audit.Append(ctx, integration.NewAuditRecord(job, op.Marketplace, prior, op.Status, op.Error, now)); err != nil {
		return fmt.Errorf("orchestration: append audit: %w", err)
	}
	return nil
}

func (o *Orchestrator) result(job *integration.SyncJob) integration.SyncResult {
	unlock := o.locks.Lock(job.ID)
	defer unlock()
	return job.Result()
}

// keyedMutex serializes work per sync job id
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func
func (k *keyedMutex) Lock(key uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
