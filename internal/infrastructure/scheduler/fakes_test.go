package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
)

var testEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// memJobRepo is an in-memory JobRepository
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]integration.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uuid.UUID]integration.Job)}
}

func (r *memJobRepo) Save(_ context.Context, job *integration.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepo) FindByID(_ context.Context, id uuid.UUID) (*integration.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, integration.ErrJobNotFound
	}
	return &job, nil
}

func (r *memJobRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*integration.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []integration.Job
	for _, job := range r.jobs {
		if job.IsDue(now) && job.CanRetry() {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit < len(due) {
		due = due[:limit]
	}

	out := make([]*integration.Job, 0, len(due))
	for i := range due {
		job := due[i]
		if err := job.Start(now); err != nil {
			continue
		}
		r.jobs[job.ID] = job
		out = append(out, &job)
	}
	return out, nil
}

func (r *memJobRepo) ListByStatus(_ context.Context, status integration.JobStatus, _ int) ([]*integration.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.Job
	for _, job := range r.jobs {
		if job.Status == status {
			j := job
			out = append(out, &j)
		}
	}
	return out, nil
}

func (r *memJobRepo) get(id uuid.UUID) integration.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// memAttemptRepo is an in-memory RetryAttemptRepository
type memAttemptRepo struct {
	mu      sync.Mutex
	records []integration.RetryAttemptRecord
}

func (r *memAttemptRepo) Append(_ context.Context, record integration.RetryAttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memAttemptRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]integration.RetryAttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.RetryAttemptRecord
	for _, rec := range r.records {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// recordingSink captures dead-letter admissions
type recordingSink struct {
	mu       sync.Mutex
	admitted []admission
}

type admission struct {
	job     integration.Job
	final   integration.FailureCategory
	history []integration.RetryAttemptRecord
}

func (s *recordingSink) Admit(_ context.Context, job *integration.Job, final integration.FailureCategory, history []integration.RetryAttemptRecord) (*integration.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted = append(s.admitted, admission{job: *job, final: final, history: history})
	return integration.NewDeadLetterEntry(job, final, integration.FailureHistoryFromAttempts(history), job.UpdatedAt), nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.admitted)
}

// scriptedCaller returns queued errors in order, then succeeds
type scriptedCaller struct {
	mu    sync.Mutex
	errs  []error
	calls []integration.Request
}

func (c *scriptedCaller) Execute(_ context.Context, req integration.Request, _ resilience.CallOptions) (*integration.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &integration.Response{StatusCode: 200}, nil
}

// stubListings records post status updates
type stubListings struct {
	mu      sync.Mutex
	updates map[integration.MarketplaceID]integration.PostStatus
	err     error
}

func (l *stubListings) FindByID(context.Context, uuid.UUID) (*integration.Listing, error) {
	return nil, integration.ErrListingNotFound
}

func (l *stubListings) FindByExternalID(context.Context, integration.MarketplaceID, string) (*integration.Listing, error) {
	return nil, integration.ErrListingNotFound
}

func (l *stubListings) UpdatePostStatus(_ context.Context, _ uuid.UUID, m integration.MarketplaceID, status integration.PostStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.updates == nil {
		l.updates = make(map[integration.MarketplaceID]integration.PostStatus)
	}
	l.updates[m] = status
	return nil
}

func (l *stubListings) Save(context.Context, *integration.Listing) error { return nil }

// stubRecorder captures sync outcome reports
type stubRecorder struct {
	mu  sync.Mutex
	ops []integration.SyncOperation
}

func (r *stubRecorder) RecordRetryOutcome(_ context.Context, _ uuid.UUID, op integration.SyncOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	return nil
}

// stubRegistry reports a fixed connection status
type stubRegistry struct {
	connected bool
	err       error
}

func (r stubRegistry) Client(integration.MarketplaceID) (integration.MarketplaceClient, error) {
	return nil, integration.ErrMarketplaceNotConfigured
}

func (r stubRegistry) List() []integration.MarketplaceID { return nil }

func (r stubRegistry) IsConnected(context.Context, string, integration.MarketplaceID) (bool, error) {
	return r.connected, r.err
}

// memPollRepo is an in-memory PollScheduleRepository
type memPollRepo struct {
	mu        sync.Mutex
	schedules []*integration.PollSchedule
}

func (r *memPollRepo) Save(_ context.Context, s *integration.PollSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.schedules {
		if existing.Marketplace == s.Marketplace && existing.UserID == s.UserID {
			r.schedules[i] = s
			return nil
		}
	}
	r.schedules = append(r.schedules, s)
	return nil
}

func (r *memPollRepo) Find(_ context.Context, m integration.MarketplaceID, userID string) (*integration.PollSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.Marketplace == m && s.UserID == userID {
			return s, nil
		}
	}
	return nil, integration.ErrPollScheduleNotFound
}

func (r *memPollRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*integration.PollSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.PollSchedule
	for _, s := range r.schedules {
		if s.IsDue(now) {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
