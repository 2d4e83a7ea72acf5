package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/persistence/models"
)

// GormListingRepository implements integration.ListingRepository using GORM
type GormListingRepository struct {
	db *gorm.DB
}

// NewGormListingRepository creates a new GormListingRepository
func NewGormListingRepository(db *gorm.DB) *GormListingRepository {
	return &GormListingRepository{db: db}
}

// FindByID returns a listing with its posts
func (r *GormListingRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Listing, error) {
	var model models.ListingModel
	err := r.db.WithContext(ctx).
		Preload("Posts", func(db *gorm.DB) *gorm.DB { return db.Order("marketplace ASC") }).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrListingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalID resolves a marketplace listing id to the listing
func (r *GormListingRepository) FindByExternalID(ctx context.Context, m integration.MarketplaceID, externalID string) (*integration.Listing, error) {
	var post models.ListingPostModel
	err := r.db.WithContext(ctx).
		Where("marketplace = ? AND external_id = ?", string(m), externalID).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrListingNotFound
		}
		return nil, err
	}
	return r.FindByID(ctx, post.ListingID)
}

// UpdatePostStatus sets the status of one post
func (r *GormListingRepository) UpdatePostStatus(ctx context.Context, listingID uuid.UUID, m integration.MarketplaceID, status integration.PostStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.ListingPostModel{}).
		Where("listing_id = ? AND marketplace = ?", listingID, string(m)).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return integration.ErrListingPostNotFound
	}
	return nil
}

// Save inserts or updates a listing and upserts its posts
func (r *GormListingRepository) Save(ctx context.Context, listing *integration.Listing) error {
	model := models.ListingModelFromDomain(listing)
	posts := model.Posts
	model.Posts = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(model).Error; err != nil {
			return err
		}
		if len(posts) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "listing_id"}, {Name: "marketplace"}},
			UpdateAll: true,
		}).Create(&posts).Error
	})
}
