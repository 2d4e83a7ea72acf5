package marketplace

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
)

var receivedAt = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestGenericNormalizer(t *testing.T) {
	body := []byte(`{
		"event_id": "evt-1",
		"type": "sale_completed",
		"external_id": "pm-42",
		"sale": {"transaction_id": "tx-9", "price": "19.99", "currency": "USD", "buyer_id": "b1", "sold_at": "2026-03-02T11:59:00Z"}
	}`)

	ev, err := NormalizerFor(NormalizerGeneric).Normalize(integration.MarketplacePoshmark, body, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, integration.EventSaleCompleted, ev.Type)
	assert.Equal(t, "pm-42", ev.ExternalID)
	assert.Equal(t, "event:poshmark:evt-1", ev.DedupKey())
	require.NotNil(t, ev.Sale)
	assert.True(t, decimal.RequireFromString("19.99").Equal(ev.Sale.Price))
	assert.Equal(t, time.Date(2026, 3, 2, 11, 59, 0, 0, time.UTC), ev.Sale.SoldAt)
	assert.Equal(t, integration.SourceWebhook, ev.Source)
}

func TestGenericNormalizer_ListingEvent(t *testing.T) {
	body := []byte(`{"event_id":"evt-2","type":"listing_ended","external_id":"mc-1"}`)
	ev, err := NormalizerFor("").Normalize(integration.MarketplaceMercari, body, receivedAt)
	require.NoError(t, err)
	assert.Equal(t, integration.EventListingEnded, ev.Type)
	assert.Nil(t, ev.Sale)
	assert.False(t, ev.IsSale())
}

func TestEbayNormalizer(t *testing.T) {
	body := []byte(`{
		"metadata": {"topic": "ITEM_SOLD"},
		"notification": {
			"notificationId": "n-100",
			"eventDate": "2026-03-02T10:30:00Z",
			"data": {"itemId": "eb-7", "transactionId": "t-7", "buyerUsername": "buyer", "price": {"value": "45.00", "currency": "USD"}}
		}
	}`)

	ev, err := NormalizerFor(NormalizerEbay).Normalize(integration.MarketplaceEbay, body, receivedAt)
	require.NoError(t, err)
	assert.Equal(t, integration.EventSaleCompleted, ev.Type)
	assert.Equal(t, "n-100", ev.EventID)
	assert.Equal(t, "eb-7", ev.ExternalID)
	require.NotNil(t, ev.Sale)
	assert.Equal(t, "t-7", ev.Sale.TransactionID)
	assert.True(t, decimal.NewFromInt(45).Equal(ev.Sale.Price))
	assert.Equal(t, "USD", ev.Sale.Currency)
}

func TestEtsyNormalizer(t *testing.T) {
	body := []byte(`{
		"event_type": "receipt.paid",
		"event_id": "et-5",
		"created_at": 1772445600,
		"data": {"listing_id": 123456, "receipt_id": 987, "buyer_user_id": 55, "price": {"amount": 1250, "divisor": 100, "currency_code": "EUR"}}
	}`)

	ev, err := NormalizerFor(NormalizerEtsy).Normalize(integration.MarketplaceEtsy, body, receivedAt)
	require.NoError(t, err)
	assert.Equal(t, "123456", ev.ExternalID)
	require.NotNil(t, ev.Sale)
	assert.Equal(t, "987", ev.Sale.TransactionID)
	assert.Equal(t, "55", ev.Sale.BuyerID)
	assert.True(t, decimal.RequireFromString("12.5").Equal(ev.Sale.Price))
	assert.Equal(t, "EUR", ev.Sale.Currency)
	assert.Equal(t, time.Unix(1772445600, 0).UTC(), ev.Sale.SoldAt)
}

func TestNormalizers_Unrecognized(t *testing.T) {
	tests := []struct {
		name       string
		normalizer string
		body       string
	}{
		{"generic not json", NormalizerGeneric, `not json`},
		{"generic unknown type", NormalizerGeneric, `{"type":"refund","external_id":"x"}`},
		{"generic missing external id", NormalizerGeneric, `{"type":"listing_updated"}`},
		{"generic sale without data", NormalizerGeneric, `{"type":"sale_completed","external_id":"x"}`},
		{"ebay unknown topic", NormalizerEbay, `{"metadata":{"topic":"ACCOUNT_DELETED"}}`},
		{"ebay missing item", NormalizerEbay, `{"metadata":{"topic":"ITEM_SOLD"},"notification":{"data":{}}}`},
		{"etsy unknown event", NormalizerEtsy, `{"event_type":"shop.updated","data":{"listing_id":1}}`},
		{"etsy missing listing", NormalizerEtsy, `{"event_type":"listing.updated","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizerFor(tt.normalizer).Normalize(integration.MarketplaceDepop, []byte(tt.body), receivedAt)
			assert.ErrorIs(t, err, integration.ErrUnrecognizedPayload)
		})
	}
}
