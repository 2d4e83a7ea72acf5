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

// GormJobRepository implements integration.JobRepository using GORM
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GormJobRepository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Save inserts or updates a job
func (r *GormJobRepository) Save(ctx context.Context, job *integration.Job) error {
	return r.db.WithContext(ctx).Save(models.JobModelFromDomain(job)).Error
}

// FindByID returns a job or ErrJobNotFound
func (r *GormJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Job, error) {
	var model models.JobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrJobNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ClaimDue starts up to limit due pending jobs and returns them in processing state.
// Rows are locked with SKIP LOCKED on postgres; the status-guarded update keeps
// two claimers from starting the same job on engines without row locks.
func (r *GormJobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*integration.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	var claimed []*integration.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.JobModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_for <= ?", string(integration.JobStatusPending), now).
			Order("scheduled_for ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}

		for i := range rows {
			job := rows[i].ToDomain()
			if err := job.Start(now); err != nil {
				if errors.Is(err, integration.ErrJobAttemptsExhausted) {
					if err := r.failExhausted(tx, job, now); err != nil {
						return err
					}
				}
				continue
			}
			res := tx.Model(&models.JobModel{}).
				Where("id = ? AND status = ?", job.ID, string(integration.JobStatusPending)).
				Updates(map[string]any{
					"status":     string(job.Status),
					"attempts":   job.Attempts,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// failExhausted retires a pending job that has no attempts left
func (r *GormJobRepository) failExhausted(tx *gorm.DB, job *integration.Job, now time.Time) error {
	job.Fail(job.LastCategory, integration.ErrJobAttemptsExhausted.Error(), now)
	return tx.Model(&models.JobModel{}).
		Where("id = ? AND status = ?", job.ID, string(integration.JobStatusPending)).
		Updates(map[string]any{
			"status":     string(job.Status),
			"last_error": job.LastError,
			"updated_at": now,
		}).Error
}

// ListByStatus returns jobs with the given status, newest first
func (r *GormJobRepository) ListByStatus(ctx context.Context, status integration.JobStatus, limit int) ([]*integration.Job, error) {
	q := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.JobModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]*integration.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].ToDomain()
	}
	return jobs, nil
}

// GormRetryAttemptRepository implements integration.RetryAttemptRepository using GORM
type GormRetryAttemptRepository struct {
	db *gorm.DB
}

// NewGormRetryAttemptRepository creates a new GormRetryAttemptRepository
func NewGormRetryAttemptRepository(db *gorm.DB) *GormRetryAttemptRepository {
	return &GormRetryAttemptRepository{db: db}
}

// Append inserts an attempt record
func (r *GormRetryAttemptRepository) Append(ctx context.Context, record integration.RetryAttemptRecord) error {
	return r.db.WithContext(ctx).Create(models.RetryAttemptModelFromDomain(record)).Error
}

// ListByJob returns a job's attempt records ordered by attempt
func (r *GormRetryAttemptRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]integration.RetryAttemptRecord, error) {
	var rows []models.RetryAttemptModel
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]integration.RetryAttemptRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
