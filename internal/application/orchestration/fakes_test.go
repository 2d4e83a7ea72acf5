package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memoryListings is an in-memory ListingRepository
type memoryListings struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*integration.Listing
}

func newMemoryListings(listings ...*integration.Listing) *memoryListings {
	r := &memoryListings{listings: make(map[uuid.UUID]*integration.Listing)}
	for _, l := range listings {
		r.listings[l.ID] = cloneListing(l)
	}
	return r
}

func cloneListing(l *integration.Listing) *integration.Listing {
	c := *l
	c.Posts = append([]integration.ListingPost(nil), l.Posts...)
	return &c
}

func (r *memoryListings) FindByID(ctx context.Context, id uuid.UUID) (*integration.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, integration.ErrListingNotFound
	}
	return cloneListing(l), nil
}

func (r *memoryListings) FindByExternalID(ctx context.Context, m integration.MarketplaceID, externalID string) (*integration.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listings {
		if p, ok := l.Post(m); ok && p.ExternalID == externalID {
			return cloneListing(l), nil
		}
	}
	return nil, integration.ErrListingNotFound
}

func (r *memoryListings) UpdatePostStatus(ctx context.Context, listingID uuid.UUID, m integration.MarketplaceID, status integration.PostStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok {
		return integration.ErrListingNotFound
	}
	p, ok := l.Post(m)
	if !ok {
		return integration.ErrListingPostNotFound
	}
	p.Status = status
	return nil
}

func (r *memoryListings) Save(ctx context.Context, listing *integration.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings[listing.ID] = cloneListing(listing)
	return nil
}

func (r *memoryListings) status(id uuid.UUID, m integration.MarketplaceID) integration.PostStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := r.listings[id].Post(m)
	return p.Status
}

// memorySyncJobs is an in-memory SyncJobRepository plus AuditLog
type memorySyncJobs struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*integration.SyncJob
	audit  []integration.AuditRecord
	saves  int
	failOn string
}

func newMemorySyncJobs() *memorySyncJobs {
	return &memorySyncJobs{jobs: make(map[uuid.UUID]*integration.SyncJob)}
}

func cloneSyncJob(j *integration.SyncJob) *integration.SyncJob {
	c := *j
	c.Operations = append([]integration.SyncOperation(nil), j.Operations...)
	return &c
}

func (r *memorySyncJobs) Create(ctx context.Context, job *integration.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "create" {
		return errStorage
	}
	r.jobs[job.ID] = cloneSyncJob(job)
	return nil
}

func (r *memorySyncJobs) Save(ctx context.Context, job *integration.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.jobs[job.ID] = cloneSyncJob(job)
	return nil
}

func (r *memorySyncJobs) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, integration.ErrSyncJobNotFound
	}
	return cloneSyncJob(j), nil
}

func (r *memorySyncJobs) ListByListing(ctx context.Context, listingID uuid.UUID) ([]*integration.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.SyncJob
	for _, j := range r.jobs {
		if j.ListingID == listingID {
			out = append(out, cloneSyncJob(j))
		}
	}
	return out, nil
}

func (r *memorySyncJobs) Append(ctx context.Context, record integration.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, record)
	return nil
}

func (r *memorySyncJobs) ListBySyncJob(ctx context.Context, syncJobID uuid.UUID) ([]integration.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.AuditRecord
	for _, rec := range r.audit {
		if rec.SyncJobID == syncJobID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memorySyncJobs) auditFor(m integration.MarketplaceID) []integration.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []integration.AuditRecord
	for _, rec := range r.audit {
		if rec.TargetMarketplace == m {
			out = append(out, rec)
		}
	}
	return out
}

// fakeRegistry reports connections from a fixed set
type fakeRegistry struct {
	disconnected map[integration.MarketplaceID]bool
	failing      map[integration.MarketplaceID]bool
}

func (r *fakeRegistry) Client(id integration.MarketplaceID) (integration.MarketplaceClient, error) {
	return nil, integration.ErrMarketplaceNotConfigured
}

func (r *fakeRegistry) List() []integration.MarketplaceID { return nil }

func (r *fakeRegistry) IsConnected(ctx context.Context, userID string, id integration.MarketplaceID) (bool, error) {
	if r.failing[id] {
		return false, errStorage
	}
	return !r.disconnected[id], nil
}

// MockCaller is a mock implementation of Caller
type MockCaller struct {
	mock.Mock
}

func (m *MockCaller) Execute(ctx context.Context, req integration.Request, opts resilience.CallOptions) (*integration.Response, error) {
	args := m.Called(ctx, req, opts)
	resp, _ := args.Get(0).(*integration.Response)
	return resp, args.Error(1)
}

// fakeAdmission denies marketplaces in the map with the given wait
type fakeAdmission struct {
	denied map[integration.MarketplaceID]time.Duration
}

func (a *fakeAdmission) CheckAdmission(ctx context.Context, m integration.MarketplaceID, userID string) integration.Admission {
	if wait, ok := a.denied[m]; ok {
		return integration.Admission{Allowed: false, WaitTime: wait, Reasoning: "daily limit reached"}
	}
	return integration.Admission{Allowed: true}
}

// fakeBreaker reports open for marketplaces in the set
type fakeBreaker struct {
	open map[integration.MarketplaceID]bool
}

func (b *fakeBreaker) GetState(ctx context.Context, m integration.MarketplaceID) integration.BreakerState {
	if b.open[m] {
		return integration.BreakerOpen
	}
	return integration.BreakerClosed
}

// recordingScheduler keeps scheduled jobs
type recordingScheduler struct {
	mu   sync.Mutex
	jobs []*integration.Job
	err  error
}

func (s *recordingScheduler) Schedule(ctx context.Context, job *integration.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *recordingScheduler) forMarketplace(m integration.MarketplaceID) []*integration.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.Job
	for _, j := range s.jobs {
		if j.Marketplace == m {
			out = append(out, j)
		}
	}
	return out
}

// recordingObserver keeps observed sync statuses
type recordingObserver struct {
	mu       sync.Mutex
	statuses []integration.SyncStatus
}

func (o *recordingObserver) ObserveSyncJob(sold integration.MarketplaceID, status integration.SyncStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

// recordingPublisher keeps published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errStorage = testError("storage unavailable")
