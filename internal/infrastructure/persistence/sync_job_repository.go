package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/persistence/models"
)

// GormSyncJobRepository implements integration.SyncJobRepository using GORM
type GormSyncJobRepository struct {
	db *gorm.DB
}

// NewGormSyncJobRepository creates a new GormSyncJobRepository
func NewGormSyncJobRepository(db *gorm.DB) *GormSyncJobRepository {
	return &GormSyncJobRepository{db: db}
}

// Create inserts a sync job and its operations in one transaction
func (r *GormSyncJobRepository) Create(ctx context.Context, job *integration.SyncJob) error {
	model := models.SyncJobModelFromDomain(job)
	ops := model.Operations
	model.Operations = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}
		return tx.Create(&ops).Error
	})
}

// Save updates the job row and upserts its operations
func (r *GormSyncJobRepository) Save(ctx context.Context, job *integration.SyncJob) error {
	model := models.SyncJobModelFromDomain(job)
	ops := model.Operations
	model.Operations = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(model).Error; err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sync_job_id"}, {Name: "marketplace"}},
			UpdateAll: true,
		}).Create(&ops).Error
	})
}

// FindByID returns a sync job with its operations in target order
func (r *GormSyncJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error) {
	var model models.SyncJobModel
	err := r.db.WithContext(ctx).
		Preload("Operations", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByListing returns the listing's sync jobs, newest first
func (r *GormSyncJobRepository) ListByListing(ctx context.Context, listingID uuid.UUID) ([]*integration.SyncJob, error) {
	var rows []models.SyncJobModel
	err := r.db.WithContext(ctx).
		Preload("Operations", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("listing_id = ?", listingID).
		Order("started_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]*integration.SyncJob, len(rows))
	for i := range rows {
		jobs[i] = rows[i].ToDomain()
	}
	return jobs, nil
}

// GormAuditLog implements integration.AuditLog using GORM
type GormAuditLog struct {
	db *gorm.DB
}

// NewGormAuditLog creates a new GormAuditLog
func NewGormAuditLog(db *gorm.DB) *GormAuditLog {
	return &GormAuditLog{db: db}
}

// Append inserts an audit record; records are never updated
func (r *GormAuditLog) Append(ctx context.Context, record integration.AuditRecord) error {
	return r.db.WithContext(ctx).Create(models.SyncAuditModelFromDomain(record)).Error
}

// ListBySyncJob returns a sync job's audit trail in insertion order
func (r *GormAuditLog) ListBySyncJob(ctx context.Context, syncJobID uuid.UUID) ([]integration.AuditRecord, error) {
	var rows []models.SyncAuditModel
	if err := r.db.WithContext(ctx).
		Where("sync_job_id = ?", syncJobID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.AuditRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
