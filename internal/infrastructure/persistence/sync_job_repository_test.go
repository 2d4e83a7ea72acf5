package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
)

func TestGormSyncJobRepository(t *testing.T) {
	db := setupIntegrationTestDB(t)
	listings := NewGormListingRepository(db)
	repo := NewGormSyncJobRepository(db)
	ctx := context.Background()

	listing := newTestListing("user-1",
		integration.ListingPost{Marketplace: integration.MarketplaceEbay, ExternalID: "ebay-1", Status: integration.PostStatusSold},
		integration.ListingPost{Marketplace: integration.MarketplacePoshmark, ExternalID: "posh-1", Status: integration.PostStatusActive},
		integration.ListingPost{Marketplace: integration.MarketplaceEtsy, ExternalID: "etsy-1", Status: integration.PostStatusActive},
	)
	require.NoError(t, listings.Save(ctx, listing))

	job := integration.NewSyncJob(listing, integration.MarketplaceEbay, decimal.RequireFromString("49.90"),
		listing.DelistTargets(integration.MarketplaceEbay), testEpoch)
	require.NoError(t, repo.Create(ctx, job))

	t.Run("round trips operations in target order", func(t *testing.T) {
		found, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusProcessing, found.Status)
		assert.True(t, found.SalePrice.Equal(decimal.RequireFromString("49.90")))
		require.Len(t, found.Operations, 2)
		assert.Equal(t, integration.MarketplacePoshmark, found.Operations[0].Marketplace)
		assert.Equal(t, integration.MarketplaceEtsy, found.Operations[1].Marketplace)
		assert.Equal(t, integration.OperationPending, found.Operations[0].Status)
	})

	t.Run("save persists operation outcomes", func(t *testing.T) {
		retryID := uuid.New()
		now := testEpoch.Add(time.Second)
		require.NoError(t, job.ApplyOperation(integration.SyncOperation{
			Marketplace:    integration.MarketplacePoshmark,
			ExternalID:     "posh-1",
			Status:         integration.OperationSuccess,
			ProcessingTime: 250 * time.Millisecond,
		}, now))
		require.NoError(t, job.ApplyOperation(integration.SyncOperation{
			Marketplace: integration.MarketplaceEtsy,
			ExternalID:  "etsy-1",
			Status:      integration.OperationFailed,
			Error:       "server error",
			Category:    integration.CategoryServer,
			RetryJobID:  &retryID,
		}, now))
		require.NoError(t, repo.Save(ctx, job))

		found, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusPartial, found.Status)
		require.NotNil(t, found.CompletedAt)
		assert.Equal(t, 250*time.Millisecond, found.Operations[0].ProcessingTime)
		require.NotNil(t, found.Operations[1].RetryJobID)
		assert.Equal(t, retryID, *found.Operations[1].RetryJobID)
		assert.Equal(t, integration.CategoryServer, found.Operations[1].Category)
	})

	t.Run("lists by listing", func(t *testing.T) {
		jobs, err := repo.ListByListing(ctx, listing.ID)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, integration.ErrSyncJobNotFound)
	})
}

func TestGormAuditLog(t *testing.T) {
	db := setupIntegrationTestDB(t)
	audit := NewGormAuditLog(db)
	ctx := context.Background()

	listing := newTestListing("user-1")
	job := integration.NewSyncJob(listing, integration.MarketplaceEbay, decimal.NewFromInt(20), nil, testEpoch)

	first := integration.NewAuditRecord(job, integration.MarketplaceEtsy, integration.OperationPending, integration.OperationProcessing, "", testEpoch)
	second := integration.NewAuditRecord(job, integration.MarketplaceEtsy, integration.OperationProcessing, integration.OperationFailed, "boom", testEpoch.Add(time.Second))
	require.NoError(t, audit.Append(ctx, first))
	require.NoError(t, audit.Append(ctx, second))

	records, err := audit.ListBySyncJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, integration.OperationFailed, records[1].NewStatus)
	assert.Equal(t, "boom", records[1].Error)
	assert.Equal(t, integration.ActionDeleteListing, records[1].Action)
}
