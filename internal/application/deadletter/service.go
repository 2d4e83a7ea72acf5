// Package deadletter is the operator workflow for jobs that exhausted their retries.
package deadletter

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

var (
	// ErrPatchRequired is returned when modify_and_retry carries no payload patch
	ErrPatchRequired = errors.New("deadletter: modify_and_retry requires a payload patch")
	// ErrSchedulerRequired is returned when a retry resolution has no scheduler to hand the job to
	ErrSchedulerRequired = errors.New("deadletter: no job scheduler configured")
)

// JobScheduler accepts the jobs spawned by retry resolutions
type JobScheduler interface {
	Schedule(ctx context.Context, job *integration.Job) error
}

// Observer counts admitted entries
type Observer interface {
	ObserveDeadLetter(m integration.MarketplaceID, category integration.FailureCategory)
}

// Config tunes the dead-letter service
type Config struct {
	// Retention is how long a pending entry waits before auto-discard
	Retention time.Duration
	// BulkBatchSize is the number of ids resolved per batch
	BulkBatchSize int
	// BulkPause is the wait between bulk batches
	BulkPause time.Duration
	// JobMaxAttempts is the attempt cap of spawned jobs
	JobMaxAttempts int
}

// DefaultConfig returns a 30 day retention and batches of 50 with a 100ms pause
func DefaultConfig() Config {
	return Config{
		Retention:      30 * 24 * time.Hour,
		BulkBatchSize:  50,
		BulkPause:      100 * time.Millisecond,
		JobMaxAttempts: integration.DefaultJobMaxAttempts,
	}
}

// ResolveRequest is an operator disposition
type ResolveRequest struct {
	Action integration.ResolutionAction
	Notes  string
	// Patch is merged into the payload of the job spawned by modify_and_retry
	Patch map[string]any
}

// ResolveResult is the outcome of one resolution
type ResolveResult struct {
	Entry      *integration.DeadLetterEntry
	SpawnedJob *integration.Job
}

// BulkResult reports a bulk resolution per id
type BulkResult struct {
	Resolved []uuid.UUID
	Failed   map[uuid.UUID]string
}

// CleanupResult reports one AutoCleanup pass
type CleanupResult struct {
	Discarded int
	Archived  int
	Failed    int
}

// Service admits exhausted jobs and applies operator resolutions
type Service struct {
	repo      integration.DeadLetterRepository
	scheduler JobScheduler
	notifier  integration.EscalationNotifier
	archiver  integration.DeadLetterArchiver
	observer  Observer
	config    Config
	clock     shared.Clock
	sleep     resilience.SleepFunc
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithScheduler sets where retry resolutions send their jobs
func WithScheduler(s JobScheduler) Option {
	return func(svc *Service) {
		svc.scheduler = s
	}
}

// WithNotifier sets the escalation notifier
func WithNotifier(n integration.EscalationNotifier) Option {
	return func(svc *Service) {
		svc.notifier = n
	}
}

// WithArchiver sets the archive used before auto-discard
func WithArchiver(a integration.DeadLetterArchiver) Option {
	return func(svc *Service) {
		svc.archiver = a
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(svc *Service) {
		svc.observer = o
	}
}

// WithClock sets the clock
func WithClock(c shared.Clock) Option {
	return func(svc *Service) {
		svc.clock = c
	}
}

// WithSleep replaces the pause between bulk batches
func WithSleep(fn resilience.SleepFunc) Option {
	return func(svc *Service) {
		svc.sleep = fn
	}
}

// NewService creates a dead-letter service
func NewService(repo integration.DeadLetterRepository, config Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.BulkBatchSize <= 0 {
		config.BulkBatchSize = defaults.BulkBatchSize
	}
	if config.BulkPause < 0 {
		config.BulkPause = 0
	}
	if config.JobMaxAttempts <= 0 {
		config.JobMaxAttempts = defaults.JobMaxAttempts
	}

	s := &Service{
		repo:   repo,
		config: config,
		sleep:  resilience.SleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = shared.ClockOrSystem(s.clock)
	return s
}

// SetScheduler sets the job scheduler after construction. The scheduler
// itself depends on the service as its dead-letter sink.
func (s *Service) SetScheduler(scheduler JobScheduler) {
	s.scheduler = scheduler
}

// Admit records an exhausted job. Each job is admitted at most once;
// a second admission returns integration.ErrDeadLetterExists.
func (s *Service) Admit(ctx context.Context, job *integration.Job, final integration.FailureCategory, history []integration.RetryAttemptRecord) (*integration.DeadLetterEntry, error) {
	entry := integration.NewDeadLetterEntry(job, final, integration.FailureHistoryFromAttempts(history), s.clock.Now())
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	if s.observer != nil {
		s.observer.ObserveDeadLetter(entry.Marketplace, final)
	}
	s.logger.Warn("Job admitted to dead-letter queue",
		zap.String("entry_id", entry.ID.String()),
		zap.String("job_id", job.ID.String()),
		zap.String("marketplace", string(entry.Marketplace)),
		zap.String("category", string(final)),
		zap.Int("attempts", entry.TotalAttempts),
		zap.Bool("requires_manual_review", entry.RequiresManualReview),
	)
	return entry, nil
}

// Get returns one entry
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*integration.DeadLetterEntry, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns entries matching filter and the total count
func (s *Service) List(ctx context.Context, filter integration.DeadLetterFilter) ([]*integration.DeadLetterEntry, int64, error) {
	return s.repo.List(ctx, filter)
}

// PendingCount returns the number of entries awaiting a disposition
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	pending := integration.ResolutionPending
	_, total, err := s.repo.List(ctx, integration.DeadLetterFilter{Status: &pending, Limit: 1})
	return total, err
}

// Resolve applies an operator disposition to one pending entry.
// retry and modify_and_retry schedule a new job with a fresh attempt counter;
// escalate raises a notification; discard only closes the entry.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, req ResolveRequest) (*ResolveResult, error) {
	if !req.Action.IsValid() {
		return nil, integration.ErrInvalidResolutionAction
	}
	if req.Action == integration.ActionModifyAndRetry && len(req.Patch) == 0 {
		return nil, ErrPatchRequired
	}

	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.IsPending() {
		return nil, integration.ErrDeadLetterAlreadyResolved
	}

	now := s.clock.Now()
	prior := *entry
	result := &ResolveResult{Entry: entry}

	var job *integration.Job
	var spawnedID *uuid.UUID
	if req.Action.SpawnsJob() {
		if s.scheduler == nil {
			return nil, ErrSchedulerRequired
		}
		job = s.retryJob(entry, req, now)
		spawnedID = &job.ID
	}

	if err := entry.Resolve(req.Action, req.Notes, spawnedID, now); err != nil {
		return nil, err
	}
	// The guarded write claims the entry; only the winner schedules a job.
	if err := s.repo.ResolvePending(ctx, entry); err != nil {
		if errors.Is(err, integration.ErrDeadLetterAlreadyResolved) || errors.Is(err, integration.ErrDeadLetterNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("deadletter: save resolution: %w", err)
	}

	if job != nil {
		if err := s.scheduler.Schedule(ctx, job); err != nil {
			s.reopen(ctx, &prior)
			return nil, fmt.Errorf("deadletter: schedule retry job: %w", err)
		}
		result.SpawnedJob = job
	}

	if req.Action == integration.ActionEscalate {
		s.escalate(ctx, entry)
	}

	fields := []zap.Field{
		zap.String("entry_id", entry.ID.String()),
		zap.String("action", string(req.Action)),
		zap.String("status", string(entry.ResolutionStatus)),
	}
	if spawnedID != nil {
		fields = append(fields, zap.String("spawned_job_id", spawnedID.String()))
	}
	s.logger.Info("Dead-letter entry resolved", fields...)
	return result, nil
}

func (s *Service) retryJob(entry *integration.DeadLetterEntry, req ResolveRequest, now time.Time) *integration.Job {
	payload := make(map[string]any, len(entry.Payload)+len(req.Patch))
	for k, v := range entry.Payload {
		payload[k] = v
	}
	if req.Action == integration.ActionModifyAndRetry {
		for k, v := range req.Patch {
			payload[k] = v
		}
	}

	job := integration.NewJob(entry.JobType, entry.Marketplace, entry.UserID, payload, s.config.JobMaxAttempts, now)
	entryID := entry.ID
	job.SourceEntryID = &entryID
	return job
}

// reopen puts a claimed entry back to pending after its retry job could not be scheduled
func (s *Service) reopen(ctx context.Context, prior *integration.DeadLetterEntry) {
	if err := s.repo.Update(context.WithoutCancel(ctx), prior); err != nil {
		s.logger.Error("Failed to reopen dead-letter entry",
			zap.String("entry_id", prior.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) escalate(ctx context.Context, entry *integration.DeadLetterEntry) {
	if s.notifier == nil {
		s.logger.Warn("Escalation has no notifier", zap.String("entry_id", entry.ID.String()))
		return
	}
	if err := s.notifier.NotifyEscalation(ctx, entry); err != nil {
		s.logger.Error("Failed to send escalation notification",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
	}
}

// BulkResolve applies req to every id in batches of BulkBatchSize with a
// pause between batches. A failing id is reported and never aborts the rest.
// Cancelling ctx stops before the next batch; unprocessed ids are reported failed.
func (s *Service) BulkResolve(ctx context.Context, ids []uuid.UUID, req ResolveRequest) (*BulkResult, error) {
	result := &BulkResult{Failed: make(map[uuid.UUID]string)}

	for start := 0; start < len(ids); start += s.config.BulkBatchSize {
		if start > 0 {
			if err := s.sleep(ctx, s.config.BulkPause); err != nil {
				for _, id := range ids[start:] {
					result.Failed[id] = err.Error()
				}
				return result, err
			}
		}

		end := start + s.config.BulkBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			if _, err := s.Resolve(ctx, id, req); err != nil {
				result.Failed[id] = err.Error()
				continue
			}
			result.Resolved = append(result.Resolved, id)
		}
	}

	s.logger.Info("Bulk dead-letter resolution finished",
		zap.String("action", string(req.Action)),
		zap.Int("resolved", len(result.Resolved)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// AutoCleanup discards pending entries older than the retention window,
// archiving each one first when an archiver is configured. An entry whose
// archive fails stays pending for the next pass.
func (s *Service) AutoCleanup(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	now := s.clock.Now()
	cutoff := now.Add(-s.config.Retention)
	pending := integration.ResolutionPending
	notes := fmt.Sprintf("auto-discarded: pending longer than %s retention", s.config.Retention)

	// Entries that fail stay pending, so skip past them on the next page.
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entries, _, err := s.repo.List(ctx, integration.DeadLetterFilter{
			Status:        &pending,
			CreatedBefore: &cutoff,
			Limit:         s.config.BulkBatchSize,
			Offset:        offset,
		})
		if err != nil {
			return result, fmt.Errorf("deadletter: list expired entries: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			if !entry.IsExpired(s.config.Retention, now) {
				offset++
				continue
			}
			err := s.discardExpired(ctx, entry, notes, now, &result)
			if errors.Is(err, integration.ErrDeadLetterAlreadyResolved) {
				continue
			}
			if err != nil {
				result.Failed++
				offset++
				s.logger.Warn("Failed to auto-discard dead-letter entry",
					zap.String("entry_id", entry.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	if result.Discarded > 0 || result.Failed > 0 {
		s.logger.Info("Dead-letter cleanup finished",
			zap.Int("discarded", result.Discarded),
			zap.Int("archived", result.Archived),
			zap.Int("failed", result.Failed),
			zap.Duration("retention", s.config.Retention),
		)
	}
	return result, nil
}

func (s *Service) discardExpired(ctx context.Context, entry *integration.DeadLetterEntry, notes string, now time.Time, result *CleanupResult) error {
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, entry); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		result.Archived++
	}
	if err := entry.Resolve(integration.ActionDiscard, notes, nil, now); err != nil {
		return err
	}
	if err := s.repo.ResolvePending(ctx, entry); err != nil {
		return err
	}
	result.Discarded++
	return nil
}
