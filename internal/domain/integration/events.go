package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crosslist/backend/internal/domain/shared"
)

// Aggregate and event type names
const (
	AggregateTypeListing    = "Listing"
	AggregateTypeDeadLetter = "DeadLetterEntry"

	EventTypeSaleRecorded        = "SaleRecorded"
	EventTypeDeadLetterEscalated = "DeadLetterEscalated"
)

// SaleRecordedEvent is published when a sale is recorded for a listing
type SaleRecordedEvent struct {
	shared.BaseDomainEvent
	ListingID       uuid.UUID       `json:"listing_id"`
	UserID          string          `json:"user_id"`
	SoldMarketplace MarketplaceID   `json:"sold_marketplace"`
	SalePrice       decimal.Decimal `json:"sale_price"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// NewSaleRecordedEvent creates a SaleRecordedEvent
func NewSaleRecordedEvent(listingID uuid.UUID, userID string, sold MarketplaceID, price decimal.Decimal, metadata map[string]any, at time.Time) *SaleRecordedEvent {
	return &SaleRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSaleRecorded, AggregateTypeListing, listingID, at),
		ListingID:       listingID,
		UserID:          userID,
		SoldMarketplace: sold,
		SalePrice:       price,
		Metadata:        metadata,
	}
}

// DeadLetterEscalatedEvent is published when an operator escalates an entry
type DeadLetterEscalatedEvent struct {
	shared.BaseDomainEvent
	EntryID       uuid.UUID       `json:"entry_id"`
	OriginalJobID uuid.UUID       `json:"original_job_id"`
	Marketplace   MarketplaceID   `json:"marketplace"`
	Category      FailureCategory `json:"category"`
	Notes         string          `json:"notes"`
}

// NewDeadLetterEscalatedEvent creates a DeadLetterEscalatedEvent
func NewDeadLetterEscalatedEvent(entry *DeadLetterEntry, at time.Time) *DeadLetterEscalatedEvent {
	return &DeadLetterEscalatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeDeadLetterEscalated, AggregateTypeDeadLetter, entry.ID, at),
		EntryID:         entry.ID,
		OriginalJobID:   entry.OriginalJobID,
		Marketplace:     entry.Marketplace,
		Category:        entry.FinalCategory,
		Notes:           entry.ResolutionNotes,
	}
}
