package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crosslist/backend/internal/domain/integration"
)

// SyncJobModel is the persistence model for a delist fan-out
type SyncJobModel struct {
	ID              uuid.UUID            `gorm:"type:uuid;primaryKey"`
	ListingID       uuid.UUID            `gorm:"type:uuid;not null;index"`
	UserID          string               `gorm:"type:varchar(64);not null"`
	SoldMarketplace string               `gorm:"type:varchar(32);not null"`
	SalePrice       decimal.Decimal      `gorm:"type:decimal(18,2);not null"`
	Status          string               `gorm:"type:varchar(20);not null;index"`
	Operations      []SyncOperationModel `gorm:"foreignKey:SyncJobID;constraint:OnDelete:CASCADE"`
	StartedAt       time.Time            `gorm:"not null"`
	CompletedAt     *time.Time
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// SyncOperationModel is the outcome for one sync target
type SyncOperationModel struct {
	SyncJobID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Marketplace      string     `gorm:"type:varchar(32);primaryKey"`
	Position         int        `gorm:"not null"`
	ExternalID       string     `gorm:"type:varchar(128);not null"`
	Status           string     `gorm:"type:varchar(20);not null"`
	Error            string     `gorm:"type:text"`
	Category         string     `gorm:"type:varchar(20)"`
	RetryJobID       *uuid.UUID `gorm:"type:uuid"`
	ProcessingTimeMs int64      `gorm:"not null;default:0"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncOperationModel) TableName() string {
	return "sync_operations"
}

// ToDomain converts the persistence model to a domain SyncJob
func (m *SyncJobModel) ToDomain() *integration.SyncJob {
	j := &integration.SyncJob{
		ID:              m.ID,
		ListingID:       m.ListingID,
		UserID:          m.UserID,
		SoldMarketplace: integration.MarketplaceID(m.SoldMarketplace),
		SalePrice:       m.SalePrice,
		Status:          integration.SyncStatus(m.Status),
		Operations:      make([]integration.SyncOperation, len(m.Operations)),
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	for i, op := range m.Operations {
		j.Operations[i] = integration.SyncOperation{
			Marketplace:    integration.MarketplaceID(op.Marketplace),
			ExternalID:     op.ExternalID,
			Status:         integration.OperationStatus(op.Status),
			Error:          op.Error,
			Category:       integration.FailureCategory(op.Category),
			RetryJobID:     op.RetryJobID,
			ProcessingTime: time.Duration(op.ProcessingTimeMs) * time.Millisecond,
			UpdatedAt:      op.UpdatedAt,
		}
	}
	return j
}

// SyncJobModelFromDomain creates a persistence model from a domain SyncJob
func SyncJobModelFromDomain(j *integration.SyncJob) *SyncJobModel {
	m := &SyncJobModel{
		ID:              j.ID,
		ListingID:       j.ListingID,
		UserID:          j.UserID,
		SoldMarketplace: string(j.SoldMarketplace),
		SalePrice:       j.SalePrice,
		Status:          string(j.Status),
		Operations:      make([]SyncOperationModel, len(j.Operations)),
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	for i, op := range j.Operations {
		m.Operations[i] = SyncOperationModel{
			SyncJobID:        j.ID,
			Marketplace:      string(op.Marketplace),
			Position:         i,
			ExternalID:       op.ExternalID,
			Status:           string(op.Status),
			Error:            op.Error,
			Category:         string(op.Category),
			RetryJobID:       op.RetryJobID,
			ProcessingTimeMs: op.ProcessingTime.Milliseconds(),
			UpdatedAt:        op.UpdatedAt,
		}
	}
	return m
}

// SyncAuditModel is an immutable audit line for one operation outcome
type SyncAuditModel struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	SyncJobID         uuid.UUID `gorm:"type:uuid;not null;index"`
	ListingID         uuid.UUID `gorm:"type:uuid;not null;index"`
	SourceMarketplace string    `gorm:"type:varchar(32);not null"`
	TargetMarketplace string    `gorm:"type:varchar(32);not null"`
	Action            string    `gorm:"type:varchar(32);not null"`
	PriorStatus       string    `gorm:"type:varchar(20);not null"`
	NewStatus         string    `gorm:"type:varchar(20);not null"`
	Error             string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncAuditModel) TableName() string {
	return "sync_audit_log"
}

// ToDomain converts the persistence model to a domain AuditRecord
func (m *SyncAuditModel) ToDomain() integration.AuditRecord {
	return integration.AuditRecord{
		ID:                m.ID,
		SyncJobID:         m.SyncJobID,
		ListingID:         m.ListingID,
		SourceMarketplace: integration.MarketplaceID(m.SourceMarketplace),
		TargetMarketplace: integration.MarketplaceID(m.TargetMarketplace),
		Action:            integration.CallAction(m.Action),
		PriorStatus:       integration.OperationStatus(m.PriorStatus),
		NewStatus:         integration.OperationStatus(m.NewStatus),
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
	}
}

// SyncAuditModelFromDomain creates a persistence model from a domain AuditRecord
func SyncAuditModelFromDomain(r integration.AuditRecord) *SyncAuditModel {
	return &SyncAuditModel{
		ID:                r.ID,
		SyncJobID:         r.SyncJobID,
		ListingID:         r.ListingID,
		SourceMarketplace: string(r.SourceMarketplace),
		TargetMarketplace: string(r.TargetMarketplace),
		Action:            string(r.Action),
		PriorStatus:       string(r.PriorStatus),
		NewStatus:         string(r.NewStatus),
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
}
