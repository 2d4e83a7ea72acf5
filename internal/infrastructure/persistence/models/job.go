package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/domain/integration"
)

// JobModel is the persistence model for deferred marketplace work
type JobModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Type          string     `gorm:"type:varchar(32);not null"`
	Marketplace   string     `gorm:"type:varchar(32);not null;index"`
	UserID        string     `gorm:"type:varchar(64);not null"`
	Payload       string     `gorm:"type:jsonb;not null"`
	Attempts      int        `gorm:"not null;default:0"`
	MaxAttempts   int        `gorm:"not null"`
	Status        string     `gorm:"type:varchar(20);not null;index:idx_jobs_due,priority:1"`
	ScheduledFor  time.Time  `gorm:"not null;index:idx_jobs_due,priority:2"`
	LastError     string     `gorm:"type:text"`
	LastCategory  string     `gorm:"type:varchar(20)"`
	SourceEntryID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (JobModel) TableName() string {
	return "jobs"
}

// ToDomain converts the persistence model to a domain Job
func (m *JobModel) ToDomain() *integration.Job {
	payload := map[string]any{}
	if m.Payload != "" {
		_ = json.Unmarshal([]byte(m.Payload), &payload)
	}
	return &integration.Job{
		ID:            m.ID,
		Type:          integration.JobType(m.Type),
		Marketplace:   integration.MarketplaceID(m.Marketplace),
		UserID:        m.UserID,
		Payload:       payload,
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		Status:        integration.JobStatus(m.Status),
		ScheduledFor:  m.ScheduledFor,
		LastError:     m.LastError,
		LastCategory:  integration.FailureCategory(m.LastCategory),
		SourceEntryID: m.SourceEntryID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// JobModelFromDomain creates a persistence model from a domain Job
func JobModelFromDomain(j *integration.Job) *JobModel {
	return &JobModel{
		ID:            j.ID,
		Type:          string(j.Type),
		Marketplace:   string(j.Marketplace),
		UserID:        j.UserID,
		Payload:       marshalJSON(j.Payload, "{}"),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Status:        string(j.Status),
		ScheduledFor:  j.ScheduledFor.UTC(),
		LastError:     j.LastError,
		LastCategory:  string(j.LastCategory),
		SourceEntryID: j.SourceEntryID,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// RetryAttemptModel is the immutable log of failed job attempts
type RetryAttemptModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Attempt     int       `gorm:"not null"`
	Category    string    `gorm:"type:varchar(20);not null"`
	ErrorDetail string    `gorm:"type:text"`
	DelayMs     int64     `gorm:"not null;default:0"`
	OccurredAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RetryAttemptModel) TableName() string {
	return "job_retry_attempts"
}

// ToDomain converts the persistence model to a domain RetryAttemptRecord
func (m *RetryAttemptModel) ToDomain() integration.RetryAttemptRecord {
	return integration.RetryAttemptRecord{
		ID:           m.ID,
		JobID:        m.JobID,
		Attempt:      m.Attempt,
		Category:     integration.FailureCategory(m.Category),
		ErrorDetail:  m.ErrorDetail,
		DelayApplied: time.Duration(m.DelayMs) * time.Millisecond,
		OccurredAt:   m.OccurredAt,
	}
}

// RetryAttemptModelFromDomain creates a persistence model from a domain RetryAttemptRecord
func RetryAttemptModelFromDomain(r integration.RetryAttemptRecord) *RetryAttemptModel {
	return &RetryAttemptModel{
		ID:          r.ID,
		JobID:       r.JobID,
		Attempt:     r.Attempt,
		Category:    string(r.Category),
		ErrorDetail: r.ErrorDetail,
		DelayMs:     r.DelayApplied.Milliseconds(),
		OccurredAt:  r.OccurredAt,
	}
}

func marshalJSON(v any, empty string) string {
	if v == nil {
		return empty
	}
	b, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(b)
}
