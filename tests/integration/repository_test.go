package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
)

func newID() *uuid.UUID {
	id := uuid.New()
	return &id
}

func TestJobRepository_ConcurrentClaimersNeverShareJobs(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repos := tdb.Repositories()
	ctx := context.Background()

	now := time.Now().UTC()
	const total = 40
	for i := 0; i < total; i++ {
		job := integration.NewDelistJob(integration.MarketplaceEbay, "user-1", integration.DelistPayload{
			ListingID:  uuid.New(),
			ExternalID: "ext",
			SyncJobID:  newID(),
		}, 3, now.Add(-time.Duration(i)*time.Second))
		require.NoError(t, repos.Jobs.Save(ctx, job))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := repos.Jobs.ClaimDue(ctx, now, 5)
				if !assert.NoError(t, err) || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}

	processing, err := repos.Jobs.ListByStatus(ctx, integration.JobStatusProcessing, 0)
	require.NoError(t, err)
	assert.Len(t, processing, total)
}

func TestJobRepository_RetryAttemptsKeepOrder(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repos := tdb.Repositories()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := integration.NewDelistJob(integration.MarketplaceEtsy, "user-2", integration.DelistPayload{
		ListingID:  uuid.New(),
		ExternalID: "etsy-1",
		SyncJobID:  newID(),
	}, 3, now)
	require.NoError(t, repos.Jobs.Save(ctx, job))

	categories := []integration.FailureCategory{
		integration.CategoryServer,
		integration.CategoryRateLimit,
		integration.CategoryNetwork,
	}
	for i, c := range categories {
		rec := integration.NewRetryAttemptRecord(job.ID, i+1, c, "attempt failed", time.Second, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repos.Attempts.Append(ctx, rec))
	}

	records, err := repos.Attempts.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.Attempt)
		assert.Equal(t, categories[i], rec.Category)
	}

	history := integration.FailureHistoryFromAttempts(records)
	assert.Len(t, history, 3)
}

func TestSyncJobRepository_OperationsAndAudit(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repos := tdb.Repositories()
	ctx := context.Background()

	listing := tdb.CreateTestListing("seller-1",
		integration.MarketplaceEbay, integration.MarketplacePoshmark, integration.MarketplaceMercari)

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := integration.NewSyncJob(listing, integration.MarketplaceEbay, decimal.RequireFromString("42.50"),
		listing.DelistTargets(integration.MarketplaceEbay), now)
	require.NoError(t, repos.SyncJobs.Create(ctx, job))
	require.Len(t, job.Operations, 2)

	require.NoError(t, job.ApplyOperation(integration.SyncOperation{
		Marketplace: integration.MarketplacePoshmark,
		ExternalID:  job.Operations[0].ExternalID,
		Status:      integration.OperationSuccess,
	}, now.Add(time.Second)))
	require.NoError(t, job.ApplyOperation(integration.SyncOperation{
		Marketplace: integration.MarketplaceMercari,
		ExternalID:  job.Operations[1].ExternalID,
		Status:      integration.OperationFailed,
		Error:       "400 bad request",
		Category:    integration.CategoryClient,
	}, now.Add(2*time.Second)))
	require.NoError(t, repos.SyncJobs.Save(ctx, job))

	found, err := repos.SyncJobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.SyncStatusPartial, found.Status)
	assert.True(t, found.SalePrice.Equal(decimal.RequireFromString("42.50")))
	require.NotNil(t, found.CompletedAt)

	failed, err := found.Operation(integration.MarketplaceMercari)
	require.NoError(t, err)
	assert.Equal(t, integration.OperationFailed, failed.Status)
	assert.Equal(t, integration.CategoryClient, failed.Category)

	byListing, err := repos.SyncJobs.ListByListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Len(t, byListing, 1)

	require.NoError(t, repos.Audit.Append(ctx, integration.NewAuditRecord(job, integration.MarketplacePoshmark,
		integration.OperationPending, integration.OperationSuccess, "", now.Add(time.Second))))
	require.NoError(t, repos.Audit.Append(ctx, integration.NewAuditRecord(job, integration.MarketplaceMercari,
		integration.OperationPending, integration.OperationFailed, "400 bad request", now.Add(2*time.Second))))

	trail, err := repos.Audit.ListBySyncJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, integration.MarketplacePoshmark, trail[0].TargetMarketplace)
	assert.Equal(t, integration.MarketplaceMercari, trail[1].TargetMarketplace)
	assert.Equal(t, "400 bad request", trail[1].Error)

	_, err = repos.SyncJobs.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, integration.ErrSyncJobNotFound)
}

func TestDeadLetterRepository_Lifecycle(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repos := tdb.Repositories()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	newEntry := func(m integration.MarketplaceID, final integration.FailureCategory, created time.Time) *integration.DeadLetterEntry {
		job := integration.NewDelistJob(m, "seller-9", integration.DelistPayload{
			ListingID:  uuid.New(),
			ExternalID: "ext-" + string(m),
			SyncJobID:  newID(),
		}, 3, created)
		job.Attempts = 3
		history := []integration.FailureRecord{{Category: final, Detail: "boom", OccurredAt: created}}
		return integration.NewDeadLetterEntry(job, final, history, created)
	}

	old := newEntry(integration.MarketplaceEbay, integration.CategoryServer, now.Add(-40*24*time.Hour))
	recent := newEntry(integration.MarketplaceDepop, integration.CategoryAuth, now)
	for _, e := range []*integration.DeadLetterEntry{old, recent} {
		require.NoError(t, repos.DeadLetters.Create(ctx, e))
	}

	dup := *recent
	dup.ID = uuid.New()
	assert.ErrorIs(t, repos.DeadLetters.Create(ctx, &dup), integration.ErrDeadLetterExists)

	pending := integration.ResolutionPending
	entries, total, err := repos.DeadLetters.List(ctx, integration.DeadLetterFilter{Status: &pending})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, entries, 2)

	cutoff := now.Add(-30 * 24 * time.Hour)
	expired, _, err := repos.DeadLetters.List(ctx, integration.DeadLetterFilter{Status: &pending, CreatedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	review := true
	manual, _, err := repos.DeadLetters.List(ctx, integration.DeadLetterFilter{RequiresManualReview: &review})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, recent.ID, manual[0].ID)

	spawned := uuid.New()
	require.NoError(t, recent.Resolve(integration.ActionRetry, "[ops] reconnected", &spawned, now))
	require.NoError(t, repos.DeadLetters.Update(ctx, recent))

	found, err := repos.DeadLetters.FindByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.ResolutionResolved, found.ResolutionStatus)
	assert.Equal(t, integration.ActionRetry, found.ResolutionAction)
	require.NotNil(t, found.SpawnedJobID)
	assert.Equal(t, spawned, *found.SpawnedJobID)
	require.Len(t, found.FailureHistory, 1)
	assert.Equal(t, integration.CategoryAuth, found.FailureHistory[0].Category)

	_, total, err = repos.DeadLetters.List(ctx, integration.DeadLetterFilter{Status: &pending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestPollScheduleRepository_ListDue(t *testing.T) {
	tdb := NewSharedTestDB(t)
	repos := tdb.Repositories()
	ctx := context.Background()

	cfg := integration.DefaultPollingConfig()
	now := time.Now().UTC().Truncate(time.Millisecond)

	due := integration.NewPollSchedule(integration.MarketplaceEbay, "seller-1", cfg, now.Add(-time.Minute))
	later := integration.NewPollSchedule(integration.MarketplaceEtsy, "seller-1", cfg, now.Add(time.Hour))
	disabled := integration.NewPollSchedule(integration.MarketplaceDepop, "seller-1", cfg, now.Add(-time.Minute))
	disabled.Enabled = false
	for _, s := range []*integration.PollSchedule{due, later, disabled} {
		require.NoError(t, repos.PollSchedules.Save(ctx, s))
	}

	list, err := repos.PollSchedules.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, integration.MarketplaceEbay, list[0].Marketplace)

	due.RecordSuccess(cfg, 2, now)
	require.NoError(t, repos.PollSchedules.Save(ctx, due))

	found, err := repos.PollSchedules.Find(ctx, integration.MarketplaceEbay, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, due.CurrentInterval, found.CurrentInterval)
	require.NotNil(t, found.LastSaleAt)

	_, err = repos.PollSchedules.Find(ctx, integration.MarketplaceMercari, "seller-1")
	assert.ErrorIs(t, err, integration.ErrPollScheduleNotFound)
}
