package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/domain/integration"
)

// DeadLetterModel is the persistence model for a dead-letter entry
type DeadLetterModel struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OriginalJobID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	JobType              string     `gorm:"type:varchar(32);not null"`
	Marketplace          string     `gorm:"type:varchar(32);not null;index"`
	UserID               string     `gorm:"type:varchar(64);not null"`
	Payload              string     `gorm:"type:jsonb;not null"`
	FinalCategory        string     `gorm:"type:varchar(20);not null"`
	TotalAttempts        int        `gorm:"not null"`
	FailureHistory       string     `gorm:"type:jsonb;not null"`
	RequiresManualReview bool       `gorm:"not null;default:false;index"`
	ResolutionStatus     string     `gorm:"type:varchar(20);not null;index:idx_dead_letters_status_created,priority:1"`
	ResolutionAction     string     `gorm:"type:varchar(32)"`
	ResolutionNotes      string     `gorm:"type:text"`
	SpawnedJobID         *uuid.UUID `gorm:"type:uuid"`
	ResolvedAt           *time.Time
	CreatedAt            time.Time `gorm:"not null;index:idx_dead_letters_status_created,priority:2"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeadLetterModel) TableName() string {
	return "dead_letter_entries"
}

// ToDomain converts the persistence model to a domain DeadLetterEntry
func (m *DeadLetterModel) ToDomain() *integration.DeadLetterEntry {
	payload := map[string]any{}
	if m.Payload != "" {
		_ = json.Unmarshal([]byte(m.Payload), &payload)
	}
	history := []integration.FailureRecord{}
	if m.FailureHistory != "" {
		_ = json.Unmarshal([]byte(m.FailureHistory), &history)
	}
	return &integration.DeadLetterEntry{
		ID:                   m.ID,
		OriginalJobID:        m.OriginalJobID,
		JobType:              integration.JobType(m.JobType),
		Marketplace:          integration.MarketplaceID(m.Marketplace),
		UserID:               m.UserID,
		Payload:              payload,
		FinalCategory:        integration.FailureCategory(m.FinalCategory),
		TotalAttempts:        m.TotalAttempts,
		FailureHistory:       history,
		RequiresManualReview: m.RequiresManualReview,
		ResolutionStatus:     integration.ResolutionStatus(m.ResolutionStatus),
		ResolutionAction:     integration.ResolutionAction(m.ResolutionAction),
		ResolutionNotes:      m.ResolutionNotes,
		SpawnedJobID:         m.SpawnedJobID,
		ResolvedAt:           m.ResolvedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// DeadLetterModelFromDomain creates a persistence model from a domain DeadLetterEntry
func DeadLetterModelFromDomain(e *integration.DeadLetterEntry) *DeadLetterModel {
	return &DeadLetterModel{
		ID:                   e.ID,
		OriginalJobID:        e.OriginalJobID,
		JobType:              string(e.JobType),
		Marketplace:          string(e.Marketplace),
		UserID:               e.UserID,
		Payload:              marshalJSON(e.Payload, "{}"),
		FinalCategory:        string(e.FinalCategory),
		TotalAttempts:        e.TotalAttempts,
		FailureHistory:       marshalJSON(e.FailureHistory, "[]"),
		RequiresManualReview: e.RequiresManualReview,
		ResolutionStatus:     string(e.ResolutionStatus),
		ResolutionAction:     string(e.ResolutionAction),
		ResolutionNotes:      e.ResolutionNotes,
		SpawnedJobID:         e.SpawnedJobID,
		ResolvedAt:           e.ResolvedAt,
		CreatedAt:            e.CreatedAt.UTC(),
		UpdatedAt:            e.UpdatedAt,
	}
}
