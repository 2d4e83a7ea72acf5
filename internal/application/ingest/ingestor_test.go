package ingest

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/cache"
	"github.com/crosslist/backend/internal/infrastructure/config"
)

type ingestHarness struct {
	ingestor *Ingestor
	listings *memoryListings
	sink     *MockSaleSink
	observer *recordingObserver
	listing  *integration.Listing
	clock    *shared.ManualClock
}

func newIngestHarness(t *testing.T, dedup shared.IdempotencyStore) *ingestHarness {
	t.Helper()
	listing := &integration.Listing{ID: uuid.New(), UserID: "seller-1", Posts: []integration.ListingPost{
		{Marketplace: integration.MarketplaceEbay, ExternalID: "ebay-1", Status: integration.PostStatusActive},
		{Marketplace: integration.MarketplaceEtsy, ExternalID: "etsy-1", Status: integration.PostStatusActive},
	}}
	if dedup == nil {
		store := cache.NewInMemoryDedupStore(config.DedupConfig{})
		t.Cleanup(func() { _ = store.Close() })
		dedup = store
	}
	clock := shared.NewManualClock(testEpoch)
	h := &ingestHarness{
		listings: newMemoryListings(listing),
		sink:     new(MockSaleSink),
		observer: &recordingObserver{},
		listing:  listing,
		clock:    clock,
	}
	webhooks := stubWebhooks{
		integration.MarketplaceEbay: stubAdapter{marketplace: integration.MarketplaceEbay},
		integration.MarketplaceEtsy: stubAdapter{marketplace: integration.MarketplaceEtsy},
	}
	health := NewHealthTracker(cache.NewInMemoryStateStore(), 0, clock, zap.NewNop())
	h.ingestor = NewIngestor(webhooks, h.listings, h.sink, dedup, DefaultConfig(), zap.NewNop(),
		WithHealthTracker(health),
		WithObserver(h.observer),
		WithClock(clock),
	)
	return h
}

func signed() http.Header {
	header := http.Header{}
	header.Set("X-Signature", "ok")
	return header
}

func TestIngestor_HandleWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		marketplace integration.MarketplaceID
		body        string
		signature   string
		wantErr     error
		wantOutcome string
	}{
		{"unknown marketplace", integration.MarketplaceDepop, "sale_completed e1 x", "ok", integration.ErrMarketplaceNotConfigured, OutcomeUnknown},
		{"missing signature", integration.MarketplaceEbay, "sale_completed e1 ebay-1", "", integration.ErrMissingSignature, OutcomeRejected},
		{"bad signature", integration.MarketplaceEbay, "sale_completed e1 ebay-1", "forged", integration.ErrInvalidSignature, OutcomeRejected},
		{"garbage payload", integration.MarketplaceEbay, "garbage", "ok", integration.ErrUnrecognizedPayload, OutcomeUnrecognized},
		{"unknown event type", integration.MarketplaceEbay, "price_changed e1 ebay-1", "ok", integration.ErrUnrecognizedPayload, OutcomeUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newIngestHarness(t, nil)
			header := http.Header{}
			if tt.signature != "" {
				header.Set("X-Signature", tt.signature)
			}

			result, err := h.ingestor.HandleWebhook(context.Background(), tt.marketplace, []byte(tt.body), header)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantOutcome, result.Outcome)
			assert.Equal(t, []string{"webhook:" + tt.wantOutcome}, h.observer.outcomes)
			h.sink.AssertNotCalled(t, "RecordSale", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestor_HandleWebhook_Sale(t *testing.T) {
	h := newIngestHarness(t, nil)
	h.sink.On("RecordSale", mock.Anything, mock.MatchedBy(func(req orchestration.RecordSaleRequest) bool {
		return req.ListingID == h.listing.ID &&
			req.Marketplace == integration.MarketplaceEbay &&
			req.Metadata["source"] == "webhook" &&
			req.Metadata["transaction_id"] == "tx-e1" &&
			req.Metadata["event_id"] == "e1"
	})).Return(&integration.SaleRecordedEvent{}, nil).Once()

	result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, []byte("sale_completed e1 ebay-1"), signed())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, result.Outcome)
	assert.False(t, result.Duplicate)
	require.NotNil(t, result.Event)
	assert.Equal(t, integration.SourceWebhook, result.Event.Source)
	assert.Equal(t, testEpoch, result.Event.ReceivedAt)

	h.sink.AssertExpectations(t)
}

func TestIngestor_DuplicateDeliveries(t *testing.T) {
	h := newIngestHarness(t, nil)
	h.sink.On("RecordSale", mock.Anything, mock.Anything).Return(&integration.SaleRecordedEvent{}, nil).Once()

	body := []byte("sale_completed e1 ebay-1")
	var wg sync.WaitGroup
	results := make([]*WebhookResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, body, signed())
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	duplicates := 0
	for _, r := range results {
		if r.Duplicate {
			duplicates++
		}
	}
	assert.Equal(t, 4, duplicates)
	h.sink.AssertNumberOfCalls(t, "RecordSale", 1)
}

func TestIngestor_FailedDispatchReleasesKey(t *testing.T) {
	h := newIngestHarness(t, nil)
	h.sink.On("RecordSale", mock.Anything, mock.Anything).Return(nil, errStorage).Once()
	h.sink.On("RecordSale", mock.Anything, mock.Anything).Return(&integration.SaleRecordedEvent{}, nil).Once()

	body := []byte("sale_completed e1 ebay-1")
	result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, body, signed())
	assert.ErrorIs(t, err, errStorage)
	assert.Equal(t, OutcomeFailed, result.Outcome)

	result, err = h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, body, signed())
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, result.Outcome)
	h.sink.AssertNumberOfCalls(t, "RecordSale", 2)
}

func TestIngestor_SaleAlreadyRecorded(t *testing.T) {
	h := newIngestHarness(t, nil)
	h.sink.On("RecordSale", mock.Anything, mock.Anything).Return(nil, orchestration.ErrSaleAlreadyRecorded)

	result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, []byte("sale_completed e2 ebay-1"), signed())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)
}

func TestIngestor_NonSaleEvents(t *testing.T) {
	t.Run("listing ended delists the post", func(t *testing.T) {
		h := newIngestHarness(t, nil)

		result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEtsy, []byte("listing_ended n1 etsy-1"), signed())
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, result.Outcome)
		assert.Equal(t, integration.PostStatusDelisted, h.listings.status(h.listing.ID, integration.MarketplaceEtsy))
		assert.Equal(t, integration.PostStatusActive, h.listings.status(h.listing.ID, integration.MarketplaceEbay))
	})

	t.Run("listing updated touches the listing", func(t *testing.T) {
		h := newIngestHarness(t, nil)

		result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEtsy, []byte("listing_updated n2 etsy-1"), signed())
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, result.Outcome)
		assert.Equal(t, 1, h.listings.saves)
	})

	t.Run("untracked listing is acknowledged", func(t *testing.T) {
		h := newIngestHarness(t, nil)

		result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, []byte("sale_completed e3 unknown-9"), signed())
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, result.Outcome)
		h.sink.AssertNotCalled(t, "RecordSale", mock.Anything, mock.Anything)
	})
}

func TestIngestor_DedupStoreFailure(t *testing.T) {
	h := newIngestHarness(t, failingDedup{})

	result, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, []byte("sale_completed e1 ebay-1"), signed())
	assert.ErrorIs(t, err, errStorage)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	h.sink.AssertNotCalled(t, "RecordSale", mock.Anything, mock.Anything)
}

func TestIngestor_HealthRecorded(t *testing.T) {
	h := newIngestHarness(t, nil)
	h.sink.On("RecordSale", mock.Anything, mock.Anything).Return(&integration.SaleRecordedEvent{}, nil)

	_, err := h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, []byte("sale_completed e1 ebay-1"), signed())
	require.NoError(t, err)
	_, err = h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceEbay, []byte("sale_completed e2 ebay-1"), http.Header{})
	require.Error(t, err)
	_, err = h.ingestor.HandleWebhook(context.Background(), integration.MarketplaceDepop, []byte("x"), signed())
	require.Error(t, err)

	buckets, err := h.ingestor.Health().Buckets(context.Background(), integration.MarketplaceEbay)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, buckets[0].Total)
	assert.Equal(t, 1, buckets[0].Success)
	assert.Equal(t, 1, buckets[0].Failed)

	depop, err := h.ingestor.Health().Buckets(context.Background(), integration.MarketplaceDepop)
	require.NoError(t, err)
	assert.Empty(t, depop)
}
