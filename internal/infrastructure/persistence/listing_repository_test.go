package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/persistence/models"
)

// setupIntegrationTestDB opens an in-memory sqlite database with the full schema
func setupIntegrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

var testEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestListing(userID string, posts ...integration.ListingPost) *integration.Listing {
	for i := range posts {
		posts[i].UpdatedAt = testEpoch
	}
	return &integration.Listing{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     "Vintage denim jacket",
		Posts:     posts,
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
	}
}

func TestGormListingRepository_SaveAndFind(t *testing.T) {
	db := setupIntegrationTestDB(t)
	repo := NewGormListingRepository(db)
	ctx := context.Background()

	listing := newTestListing("user-1",
		integration.ListingPost{Marketplace: integration.MarketplaceEtsy, ExternalID: "etsy-1", Status: integration.PostStatusActive},
		integration.ListingPost{Marketplace: integration.MarketplaceEbay, ExternalID: "ebay-1", Status: integration.PostStatusActive},
	)
	require.NoError(t, repo.Save(ctx, listing))

	t.Run("finds by id with posts", func(t *testing.T) {
		found, err := repo.FindByID(ctx, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", found.UserID)
		require.Len(t, found.Posts, 2)
		assert.Equal(t, integration.MarketplaceEbay, found.Posts[0].Marketplace)
		assert.Equal(t, "ebay-1", found.Posts[0].ExternalID)
	})

	t.Run("finds by external id", func(t *testing.T) {
		found, err := repo.FindByExternalID(ctx, integration.MarketplaceEtsy, "etsy-1")
		require.NoError(t, err)
		assert.Equal(t, listing.ID, found.ID)
	})

	t.Run("unknown external id", func(t *testing.T) {
		_, err := repo.FindByExternalID(ctx, integration.MarketplaceEtsy, "nope")
		assert.ErrorIs(t, err, integration.ErrListingNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, integration.ErrListingNotFound)
	})

	t.Run("save upserts posts", func(t *testing.T) {
		listing.Title = "Renamed"
		listing.Posts[0].Status = integration.PostStatusSold
		listing.Posts = append(listing.Posts, integration.ListingPost{
			Marketplace: integration.MarketplaceDepop, ExternalID: "depop-1", Status: integration.PostStatusActive, UpdatedAt: testEpoch,
		})
		require.NoError(t, repo.Save(ctx, listing))

		found, err := repo.FindByID(ctx, listing.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", found.Title)
		require.Len(t, found.Posts, 3)
		post, ok := found.Post(integration.MarketplaceEtsy)
		require.True(t, ok)
		assert.Equal(t, integration.PostStatusSold, post.Status)
	})
}

func TestGormListingRepository_UpdatePostStatus(t *testing.T) {
	db := setupIntegrationTestDB(t)
	repo := NewGormListingRepository(db)
	ctx := context.Background()

	listing := newTestListing("user-1",
		integration.ListingPost{Marketplace: integration.MarketplaceEbay, ExternalID: "ebay-1", Status: integration.PostStatusActive},
	)
	require.NoError(t, repo.Save(ctx, listing))

	require.NoError(t, repo.UpdatePostStatus(ctx, listing.ID, integration.MarketplaceEbay, integration.PostStatusDelisted))

	found, err := repo.FindByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.PostStatusDelisted, found.Posts[0].Status)

	err = repo.UpdatePostStatus(ctx, listing.ID, integration.MarketplaceMercari, integration.PostStatusDelisted)
	assert.ErrorIs(t, err, integration.ErrListingPostNotFound)
}
