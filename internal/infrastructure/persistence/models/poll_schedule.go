package models

import (
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
)

// PollScheduleModel persists adaptive polling state per seller and marketplace
type PollScheduleModel struct {
	Marketplace         string `gorm:"type:varchar(32);primaryKey"`
	UserID              string `gorm:"type:varchar(64);primaryKey"`
	CurrentIntervalMs   int64  `gorm:"not null"`
	ConsecutiveFailures int    `gorm:"not null;default:0"`
	LastPolledAt        *time.Time
	LastSaleAt          *time.Time
	NextRunAt           time.Time `gorm:"not null;index"`
	Enabled             bool      `gorm:"not null;default:true"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM
func (PollScheduleModel) TableName() string {
	return "poll_schedules"
}

// ToDomain converts the persistence model to a domain PollSchedule
func (m *PollScheduleModel) ToDomain() *integration.PollSchedule {
	return &integration.PollSchedule{
		Marketplace:         integration.MarketplaceID(m.Marketplace),
		UserID:              m.UserID,
		CurrentInterval:     time.Duration(m.CurrentIntervalMs) * time.Millisecond,
		ConsecutiveFailures: m.ConsecutiveFailures,
		LastPolledAt:        m.LastPolledAt,
		LastSaleAt:          m.LastSaleAt,
		NextRunAt:           m.NextRunAt,
		Enabled:             m.Enabled,
	}
}

// PollScheduleModelFromDomain creates a persistence model from a domain PollSchedule
func PollScheduleModelFromDomain(s *integration.PollSchedule) *PollScheduleModel {
	return &PollScheduleModel{
		Marketplace:         string(s.Marketplace),
		UserID:              s.UserID,
		CurrentIntervalMs:   s.CurrentInterval.Milliseconds(),
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastPolledAt:        s.LastPolledAt,
		LastSaleAt:          s.LastSaleAt,
		NextRunAt:           s.NextRunAt.UTC(),
		Enabled:             s.Enabled,
	}
}
