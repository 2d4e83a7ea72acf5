package integration

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the kind of a canonical marketplace event
type EventType string

const (
	EventSaleCompleted  EventType = "sale_completed"
	EventListingUpdated EventType = "listing_updated"
	EventListingEnded   EventType = "listing_ended"
)

// IsValid checks if the event type is known
func (t EventType) IsValid() bool {
	switch t {
	case EventSaleCompleted, EventListingUpdated, EventListingEnded:
		return true
	}
	return false
}

// EventSource records how an event reached the ingestor
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourcePolling EventSource = "polling"
)

// SaleData carries sale details of a sale_completed event
type SaleData struct {
	TransactionID string
	Price         decimal.Decimal
	Currency      string
	BuyerID       string
	SoldAt        time.Time
}

// CanonicalEvent is a provider notification normalized for the core
type CanonicalEvent struct {
	Marketplace MarketplaceID
	Type        EventType
	// EventID is the provider event or transaction id
	EventID    string
	ExternalID string
	Sale       *SaleData
	Metadata   map[string]any
	Source     EventSource
	ReceivedAt time.Time
}

// DedupKey identifies repeated deliveries of the same provider event
func (e CanonicalEvent) DedupKey() string {
	id := e.EventID
	if id == "" && e.Sale != nil {
		id = e.Sale.TransactionID
	}
	if id == "" {
		id = string(e.Type) + ":" + e.ExternalID
	}
	return "event:" + string(e.Marketplace) + ":" + id
}

// IsSale returns true for sale_completed events carrying sale data
func (e CanonicalEvent) IsSale() bool {
	return e.Type == EventSaleCompleted
}
