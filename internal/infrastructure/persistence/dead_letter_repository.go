package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/persistence/models"
)

// GormDeadLetterRepository implements integration.DeadLetterRepository using GORM
type GormDeadLetterRepository struct {
	db *gorm.DB
}

// NewGormDeadLetterRepository creates a new GormDeadLetterRepository
func NewGormDeadLetterRepository(db *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: db}
}

// Create inserts an entry; a job can be dead-lettered only once
func (r *GormDeadLetterRepository) Create(ctx context.Context, entry *integration.DeadLetterEntry) error {
	model := models.DeadLetterModelFromDomain(entry)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.DeadLetterModel{}).
			Where("original_job_id = ?", entry.OriginalJobID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return integration.ErrDeadLetterExists
		}
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return integration.ErrDeadLetterExists
			}
			return err
		}
		return nil
	})
}

// Update saves a modified entry
func (r *GormDeadLetterRepository) Update(ctx context.Context, entry *integration.DeadLetterEntry) error {
	res := r.db.WithContext(ctx).
		Model(&models.DeadLetterModel{}).
		Where("id = ?", entry.ID).
		Select("*").
		Updates(models.DeadLetterModelFromDomain(entry))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return integration.ErrDeadLetterNotFound
	}
	return nil
}

// ResolvePending writes the resolution guarded on the stored status, so concurrent
// resolvers of one entry see exactly one winner
func (r *GormDeadLetterRepository) ResolvePending(ctx context.Context, entry *integration.DeadLetterEntry) error {
	res := r.db.WithContext(ctx).
		Model(&models.DeadLetterModel{}).
		Where("id = ? AND resolution_status = ?", entry.ID, string(integration.ResolutionPending)).
		Select("*").
		Updates(models.DeadLetterModelFromDomain(entry))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, entry.ID); err != nil {
			return err
		}
		return integration.ErrDeadLetterAlreadyResolved
	}
	return nil
}

// FindByID returns an entry or ErrDeadLetterNotFound
func (r *GormDeadLetterRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.DeadLetterEntry, error) {
	var model models.DeadLetterModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrDeadLetterNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns entries matching filter, oldest first, and the total count
func (r *GormDeadLetterRepository) List(ctx context.Context, filter integration.DeadLetterFilter) ([]*integration.DeadLetterEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.DeadLetterModel{})
	if filter.Status != nil {
		q = q.Where("resolution_status = ?", string(*filter.Status))
	}
	if filter.Marketplace != nil {
		q = q.Where("marketplace = ?", string(*filter.Marketplace))
	}
	if filter.RequiresManualReview != nil {
		q = q.Where("requires_manual_review = ?", *filter.RequiresManualReview)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", filter.CreatedBefore.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("created_at ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []models.DeadLetterModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	entries := make([]*integration.DeadLetterEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, total, nil
}
