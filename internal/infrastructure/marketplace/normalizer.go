package marketplace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosslist/backend/internal/domain/integration"
)

// Normalizer names accepted in the marketplace catalog
const (
	NormalizerEbay    = "ebay"
	NormalizerEtsy    = "etsy"
	NormalizerGeneric = "generic"
)

// Normalizer converts provider payloads into canonical events
type Normalizer interface {
	Normalize(m integration.MarketplaceID, body []byte, receivedAt time.Time) (*integration.CanonicalEvent, error)
}

// NormalizerFor returns the normalizer registered under name, falling back to generic
func NormalizerFor(name string) Normalizer {
	switch name {
	case NormalizerEbay:
		return ebayNormalizer{}
	case NormalizerEtsy:
		return etsyNormalizer{}
	default:
		return genericNormalizer{}
	}
}

func unrecognized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", integration.ErrUnrecognizedPayload, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Generic shape (also used by poll responses)
// ---------------------------------------------------------------------------

// GenericNotification is the flat notification shape shared by marketplaces
// without a provider-specific normalizer
type GenericNotification struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	ExternalID string         `json:"external_id"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
	Sale       *GenericSale   `json:"sale,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GenericSale carries sale details in the generic shape
type GenericSale struct {
	TransactionID string          `json:"transaction_id"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	BuyerID       string          `json:"buyer_id"`
	SoldAt        *time.Time      `json:"sold_at,omitempty"`
}

type genericNormalizer struct{}

func (genericNormalizer) Normalize(m integration.MarketplaceID, body []byte, receivedAt time.Time) (*integration.CanonicalEvent, error) {
	var n GenericNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, unrecognized("decode: %v", err)
	}
	return n.toCanonical(m, receivedAt)
}

func (n GenericNotification) toCanonical(m integration.MarketplaceID, receivedAt time.Time) (*integration.CanonicalEvent, error) {
	eventType := integration.EventType(n.Type)
	if !eventType.IsValid() {
		return nil, unrecognized("event type %q", n.Type)
	}
	if n.ExternalID == "" {
		return nil, unrecognized("missing external_id")
	}

	ev := &integration.CanonicalEvent{
		Marketplace: m,
		Type:        eventType,
		EventID:     n.EventID,
		ExternalID:  n.ExternalID,
		Metadata:    n.Metadata,
		Source:      integration.SourceWebhook,
		ReceivedAt:  receivedAt,
	}
	if eventType == integration.EventSaleCompleted {
		if n.Sale == nil {
			return nil, unrecognized("sale event without sale data")
		}
		soldAt := receivedAt
		if n.Sale.SoldAt != nil {
			soldAt = *n.Sale.SoldAt
		} else if n.OccurredAt != nil {
			soldAt = *n.OccurredAt
		}
		ev.Sale = &integration.SaleData{
			TransactionID: n.Sale.TransactionID,
			Price:         n.Sale.Price,
			Currency:      n.Sale.Currency,
			BuyerID:       n.Sale.BuyerID,
			SoldAt:        soldAt,
		}
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// eBay shape
// ---------------------------------------------------------------------------

type ebayEnvelope struct {
	Metadata struct {
		Topic string `json:"topic"`
	} `json:"metadata"`
	Notification struct {
		NotificationID string    `json:"notificationId"`
		EventDate      time.Time `json:"eventDate"`
		Data           struct {
			ItemID        string `json:"itemId"`
			TransactionID string `json:"transactionId"`
			BuyerUsername string `json:"buyerUsername"`
			Price         *struct {
				Value    decimal.Decimal `json:"value"`
				Currency string          `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	} `json:"notification"`
}

var ebayTopics = map[string]integration.EventType{
	"ITEM_SOLD":    integration.EventSaleCompleted,
	"ITEM_REVISED": integration.EventListingUpdated,
	"ITEM_ENDED":   integration.EventListingEnded,
}

type ebayNormalizer struct{}

func (ebayNormalizer) Normalize(m integration.MarketplaceID, body []byte, receivedAt time.Time) (*integration.CanonicalEvent, error) {
	var env ebayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, unrecognized("decode: %v", err)
	}

	eventType, ok := ebayTopics[env.Metadata.Topic]
	if !ok {
		return nil, unrecognized("ebay topic %q", env.Metadata.Topic)
	}
	data := env.Notification.Data
	if data.ItemID == "" {
		return nil, unrecognized("ebay notification without itemId")
	}

	ev := &integration.CanonicalEvent{
		Marketplace: m,
		Type:        eventType,
		EventID:     env.Notification.NotificationID,
		ExternalID:  data.ItemID,
		Metadata:    map[string]any{"topic": env.Metadata.Topic},
		Source:      integration.SourceWebhook,
		ReceivedAt:  receivedAt,
	}
	if eventType == integration.EventSaleCompleted {
		sale := &integration.SaleData{
			TransactionID: data.TransactionID,
			BuyerID:       data.BuyerUsername,
			SoldAt:        env.Notification.EventDate,
		}
		if sale.SoldAt.IsZero() {
			sale.SoldAt = receivedAt
		}
		if data.Price != nil {
			sale.Price = data.Price.Value
			sale.Currency = data.Price.Currency
		}
		ev.Sale = sale
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// Etsy shape
// ---------------------------------------------------------------------------

type etsyEnvelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	CreatedAt int64  `json:"created_at"`
	Data      struct {
		ListingID   int64 `json:"listing_id"`
		ReceiptID   int64 `json:"receipt_id"`
		BuyerUserID int64 `json:"buyer_user_id"`
		Price       *struct {
			Amount       int64  `json:"amount"`
			Divisor      int64  `json:"divisor"`
			CurrencyCode string `json:"currency_code"`
		} `json:"price"`
	} `json:"data"`
}

var etsyEvents = map[string]integration.EventType{
	"receipt.paid":        integration.EventSaleCompleted,
	"listing.updated":     integration.EventListingUpdated,
	"listing.deactivated": integration.EventListingEnded,
}

type etsyNormalizer struct{}

func (etsyNormalizer) Normalize(m integration.MarketplaceID, body []byte, receivedAt time.Time) (*integration.CanonicalEvent, error) {
	var env etsyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, unrecognized("decode: %v", err)
	}

	eventType, ok := etsyEvents[env.EventType]
	if !ok {
		return nil, unrecognized("etsy event %q", env.EventType)
	}
	if env.Data.ListingID == 0 {
		return nil, unrecognized("etsy event without listing_id")
	}

	ev := &integration.CanonicalEvent{
		Marketplace: m,
		Type:        eventType,
		EventID:     env.EventID,
		ExternalID:  strconv.FormatInt(env.Data.ListingID, 10),
		Metadata:    map[string]any{"event_type": env.EventType},
		Source:      integration.SourceWebhook,
		ReceivedAt:  receivedAt,
	}
	if eventType == integration.EventSaleCompleted {
		soldAt := receivedAt
		if env.CreatedAt > 0 {
			soldAt = time.Unix(env.CreatedAt, 0).UTC()
		}
		sale := &integration.SaleData{
			TransactionID: strconv.FormatInt(env.Data.ReceiptID, 10),
			SoldAt:        soldAt,
		}
		if env.Data.BuyerUserID != 0 {
			sale.BuyerID = strconv.FormatInt(env.Data.BuyerUserID, 10)
		}
		if p := env.Data.Price; p != nil {
			divisor := p.Divisor
			if divisor == 0 {
				divisor = 1
			}
			sale.Price = decimal.NewFromInt(p.Amount).Div(decimal.NewFromInt(divisor))
			sale.Currency = p.CurrencyCode
		}
		ev.Sale = sale
	}
	return ev, nil
}
