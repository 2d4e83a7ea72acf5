package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// JobExecutor runs one attempt of a job
type JobExecutor interface {
	Execute(ctx context.Context, job *integration.Job) error
}

// JobExecutorFunc adapts a function to JobExecutor
type JobExecutorFunc func(ctx context.Context, job *integration.Job) error

// Execute calls f
func (f JobExecutorFunc) Execute(ctx context.Context, job *integration.Job) error {
	return f(ctx, job)
}

// DeadLetterSink receives jobs that exhausted their attempts or failed permanently
type DeadLetterSink interface {
	Admit(ctx context.Context, job *integration.Job, final integration.FailureCategory, history []integration.RetryAttemptRecord) (*integration.DeadLetterEntry, error)
}

// Job outcomes reported to a JobObserver
const (
	JobOutcomeSucceeded    = "succeeded"
	JobOutcomeRescheduled  = "rescheduled"
	JobOutcomeDeadLettered = "dead_lettered"
)

// JobObserver receives one notification per processed attempt
type JobObserver interface {
	ObserveJob(job *integration.Job, outcome string, duration time.Duration)
}

// WillRetry reports whether a job that just failed with err is rescheduled
// rather than dead-lettered
func WillRetry(job *integration.Job, err error) bool {
	return integration.IsRetryable(err) && job.CanRetry()
}

// ---------------------------------------------------------------------------
// JobSchedulerConfig
// ---------------------------------------------------------------------------

// JobSchedulerConfig holds configuration for the job scheduler
type JobSchedulerConfig struct {
	// Workers is the number of concurrent job workers
	Workers int
	// QueueSize bounds claimed jobs waiting for a worker
	QueueSize int
	// PollInterval is how often the dispatcher looks for due jobs
	PollInterval time.Duration
	// ClaimBatchSize caps jobs claimed per dispatch
	ClaimBatchSize int
	// JobTimeout bounds one attempt
	JobTimeout time.Duration
	// RetryBaseDelay is the delay after the first failed attempt
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the exponential backoff
	RetryMaxDelay time.Duration
}

// DefaultJobSchedulerConfig returns default configuration
func DefaultJobSchedulerConfig() JobSchedulerConfig {
	return JobSchedulerConfig{
		Workers:        4,
		QueueSize:      100,
		PollInterval:   5 * time.Second,
		ClaimBatchSize: 20,
		JobTimeout:     2 * time.Minute,
		RetryBaseDelay: 30 * time.Second,
		RetryMaxDelay:  30 * time.Minute,
	}
}

// Validate validates the configuration
func (c *JobSchedulerConfig) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 || c.ClaimBatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 || c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// JobScheduler
// ---------------------------------------------------------------------------

// JobScheduler persists jobs, dispatches due ones to a worker pool, records
// every failed attempt and routes exhausted or permanent failures to the
// dead-letter sink
type JobScheduler struct {
	config    JobSchedulerConfig
	jobs      integration.JobRepository
	attempts  integration.RetryAttemptRepository
	sink      DeadLetterSink
	executors map[integration.JobType]JobExecutor
	observer  JobObserver
	clock     shared.Clock
	logger    *zap.Logger

	queue     chan *integration.Job
	wake      chan struct{}
	cancel    context.CancelFunc
	dispatchW sync.WaitGroup
	workerW   sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// JobSchedulerOption configures a JobScheduler
type JobSchedulerOption func(*JobScheduler)

// WithExecutor registers the executor for a job type
func WithExecutor(jobType integration.JobType, executor JobExecutor) JobSchedulerOption {
	return func(s *JobScheduler) {
		s.executors[jobType] = executor
	}
}

// WithJobObserver sets the observer notified after each attempt
func WithJobObserver(o JobObserver) JobSchedulerOption {
	return func(s *JobScheduler) {
		s.observer = o
	}
}

// WithSchedulerClock sets the clock used for due checks and backoff
func WithSchedulerClock(clock shared.Clock) JobSchedulerOption {
	return func(s *JobScheduler) {
		s.clock = clock
	}
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(
	config JobSchedulerConfig,
	jobs integration.JobRepository,
	attempts integration.RetryAttemptRepository,
	sink DeadLetterSink,
	logger *zap.Logger,
	opts ...JobSchedulerOption,
) (*JobScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &JobScheduler{
		config:    config,
		jobs:      jobs,
		attempts:  attempts,
		sink:      sink,
		executors: make(map[integration.JobType]JobExecutor),
		logger:    logger,
		queue:     make(chan *integration.Job, config.QueueSize),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = shared.ClockOrSystem(s.clock)
	return s, nil
}

// RegisterExecutor registers the executor for a job type
func (s *JobScheduler) RegisterExecutor(jobType integration.JobType, executor JobExecutor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[jobType] = executor
}

// Schedule persists a pending job; the dispatcher runs it once it is due
func (s *JobScheduler) Schedule(ctx context.Context, job *integration.Job) error {
	if _, ok := s.executor(job.Type); !ok {
		return fmt.Errorf("%w: %s", ErrNoExecutor, job.Type)
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("scheduler: save job: %w", err)
	}

	s.logger.Debug("Job scheduled",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("marketplace", string(job.Marketplace)),
		zap.Time("scheduled_for", job.ScheduledFor),
	)

	if !job.ScheduledFor.After(s.clock.Now()) {
		_ = s.Wake()
	}
	return nil
}

// Wake asks the dispatcher to look for due jobs now
func (s *JobScheduler) Wake() error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return ErrSchedulerNotRunning
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsRunning reports whether the scheduler is started
func (s *JobScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Start starts the dispatcher and the worker pool
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.queue = make(chan *integration.Job, s.config.QueueSize)
	s.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Claimed jobs are owned by the pool and finish even after Stop.
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < s.config.Workers; i++ {
		s.workerW.Add(1)
		go s.worker(workCtx, i)
	}

	s.dispatchW.Add(1)
	go s.dispatchLoop(dispatchCtx)

	s.logger.Info("Job scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop stops dispatching and waits for claimed jobs to finish
func (s *JobScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.dispatchW.Wait()
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.workerW.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Job scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Job scheduler stop timed out")
		return ctx.Err()
	}
}

// RunOnce claims due jobs and processes them on the calling goroutine.
// It returns the number of jobs processed.
func (s *JobScheduler) RunOnce(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ClaimDue(ctx, s.clock.Now(), s.config.ClaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("scheduler: claim due jobs: %w", err)
	}
	for _, job := range jobs {
		s.process(ctx, job, -1)
	}
	return len(jobs), nil
}

func (s *JobScheduler) dispatchLoop(ctx context.Context) {
	defer s.dispatchW.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		case <-s.wake:
			s.dispatch(ctx)
		}
	}
}

// dispatch claims at most as many jobs as the queue can take. The dispatcher
// is the only sender so the sends below never block.
func (s *JobScheduler) dispatch(ctx context.Context) {
	free := cap(s.queue) - len(s.queue)
	limit := s.config.ClaimBatchSize
	if free < limit {
		limit = free
	}
	if limit <= 0 {
		return
	}

	jobs, err := s.jobs.ClaimDue(ctx, s.clock.Now(), limit)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to claim due jobs", zap.Error(err))
		}
		return
	}
	for _, job := range jobs {
		s.queue <- job
	}
	if len(jobs) > 0 {
		s.logger.Debug("Dispatched due jobs", zap.Int("count", len(jobs)))
	}
}

func (s *JobScheduler) worker(ctx context.Context, workerID int) {
	defer s.workerW.Done()

	s.logger.Debug("Job worker started", zap.Int("worker_id", workerID))
	for job := range s.queue {
		s.process(ctx, job, workerID)
	}
	s.logger.Debug("Job worker stopped", zap.Int("worker_id", workerID))
}

func (s *JobScheduler) executor(jobType integration.JobType) (JobExecutor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executors[jobType]
	return exec, ok
}

// process runs one attempt of a claimed (processing) job
func (s *JobScheduler) process(ctx context.Context, job *integration.Job, workerID int) {
	start := s.clock.Now()

	var execErr error
	if exec, ok := s.executor(job.Type); ok {
		jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
		labels := telemetry.ComponentLabels("job_scheduler", map[string]string{
			"job_type":    string(job.Type),
			"marketplace": string(job.Marketplace),
		})
		telemetry.WithProfilingLabels(jobCtx, labels, func(jobCtx context.Context) {
			execErr = s.safeExecute(jobCtx, exec, job)
		})
		cancel()
	} else {
		execErr = &integration.PermanentError{Err: fmt.Errorf("%w: %s", ErrNoExecutor, job.Type)}
	}

	now := s.clock.Now()
	if execErr == nil {
		s.complete(ctx, job, now, workerID)
		s.observe(job, JobOutcomeSucceeded, now.Sub(start))
		return
	}

	outcome := s.handleFailure(ctx, job, execErr, now, workerID)
	s.observe(job, outcome, now.Sub(start))
}

func (s *JobScheduler) safeExecute(ctx context.Context, exec JobExecutor, job *integration.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: executor panic: %v", r)
			s.logger.Error("Job executor panicked",
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	return exec.Execute(ctx, job)
}

func (s *JobScheduler) complete(ctx context.Context, job *integration.Job, now time.Time, workerID int) {
	if err := job.Succeed(now); err != nil {
		s.logger.Error("Invalid job transition on success",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
		return
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		s.logger.Error("Failed to save succeeded job",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Job succeeded",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("marketplace", string(job.Marketplace)),
		zap.Int("attempt", job.Attempts),
	)
}

func (s *JobScheduler) handleFailure(ctx context.Context, job *integration.Job, execErr error, now time.Time, workerID int) string {
	category := integration.CategorizeError(execErr)
	retry := WillRetry(job, execErr)

	var delay time.Duration
	if retry {
		delay = s.RetryDelay(job.Attempts, execErr)
	}

	record := integration.NewRetryAttemptRecord(job.ID, job.Attempts, category, execErr.Error(), delay, now)
	if err := s.attempts.Append(ctx, record); err != nil {
		s.logger.Warn("Failed to append retry attempt record",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.Attempts),
			zap.Error(err),
		)
	}

	if retry {
		next := now.Add(delay)
		if err := job.Reschedule(category, execErr.Error(), next, now); err != nil {
			s.logger.Error("Invalid job transition on reschedule",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			return JobOutcomeRescheduled
		}
		if err := s.jobs.Save(ctx, job); err != nil {
			s.logger.Error("Failed to save rescheduled job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
		s.logger.Info("Job scheduled for retry",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.String("marketplace", string(job.Marketplace)),
			zap.String("category", string(category)),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Time("next_retry_at", next),
		)
		return JobOutcomeRescheduled
	}

	job.MarkDeadLettered(category, execErr.Error(), now)
	if err := s.jobs.Save(ctx, job); err != nil {
		s.logger.Error("Failed to save dead-lettered job",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Warn("Job dead-lettered",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("marketplace", string(job.Marketplace)),
		zap.String("category", string(category)),
		zap.Int("attempts", job.Attempts),
		zap.Error(execErr),
	)

	if s.sink == nil {
		return JobOutcomeDeadLettered
	}

	history, err := s.attempts.ListByJob(ctx, job.ID)
	if err != nil || len(history) == 0 {
		history = []integration.RetryAttemptRecord{record}
	}
	if _, err := s.sink.Admit(ctx, job, category, history); err != nil && !errors.Is(err, integration.ErrDeadLetterExists) {
		s.logger.Error("Failed to admit job to dead-letter queue",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
	return JobOutcomeDeadLettered
}

// RetryDelay returns base·2^(attempt−1) capped at the configured maximum and
// floored by any wait the failure itself carries
func (s *JobScheduler) RetryDelay(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := s.config.RetryMaxDelay
	if exp := float64(s.config.RetryBaseDelay) * math.Pow(2, float64(attempt-1)); exp < float64(s.config.RetryMaxDelay) {
		delay = time.Duration(exp)
	}

	var (
		rateErr    *integration.RateLimitError
		breakerErr *integration.CircuitBreakerError
	)
	switch {
	case errors.As(err, &rateErr) && rateErr.WaitTime > delay:
		delay = rateErr.WaitTime
	case errors.As(err, &breakerErr) && breakerErr.RetryAfter > delay:
		delay = breakerErr.RetryAfter
	}
	return delay
}

func (s *JobScheduler) observe(job *integration.Job, outcome string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveJob(job, outcome, d)
	}
}
