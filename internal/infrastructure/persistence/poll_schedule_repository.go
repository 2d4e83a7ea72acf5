package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/persistence/models"
)

// GormPollScheduleRepository implements integration.PollScheduleRepository using GORM
type GormPollScheduleRepository struct {
	db *gorm.DB
}

// NewGormPollScheduleRepository creates a new GormPollScheduleRepository
func NewGormPollScheduleRepository(db *gorm.DB) *GormPollScheduleRepository {
	return &GormPollScheduleRepository{db: db}
}

// Save upserts a schedule keyed by marketplace and user
func (r *GormPollScheduleRepository) Save(ctx context.Context, s *integration.PollSchedule) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "marketplace"}, {Name: "user_id"}},
		UpdateAll: true,
	}).Create(models.PollScheduleModelFromDomain(s)).Error
}

// Find returns a schedule or ErrPollScheduleNotFound
func (r *GormPollScheduleRepository) Find(ctx context.Context, m integration.MarketplaceID, userID string) (*integration.PollSchedule, error) {
	var model models.PollScheduleModel
	err := r.db.WithContext(ctx).
		Where("marketplace = ? AND user_id = ?", string(m), userID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrPollScheduleNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListDue returns enabled schedules due at now, most overdue first
func (r *GormPollScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*integration.PollSchedule, error) {
	q := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, now.UTC()).
		Order("next_run_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.PollScheduleModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*integration.PollSchedule, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
