package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/application/ingest"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// MockWebhookIngestor is a mock implementation of WebhookIngestor
type MockWebhookIngestor struct {
	mock.Mock
}

func (m *MockWebhookIngestor) HandleWebhook(ctx context.Context, id integration.MarketplaceID, body []byte, header http.Header) (*ingest.WebhookResult, error) {
	args := m.Called(ctx, id, body, header)
	result, _ := args.Get(0).(*ingest.WebhookResult)
	return result, args.Error(1)
}

func webhookRoutes(h *WebhookHandler) func(r *gin.Engine) {
	return func(r *gin.Engine) {
		r.POST("/webhooks/:marketplace", h.Receive)
	}
}

func TestWebhookHandler_Receive(t *testing.T) {
	body := `{"event_id":"evt-1","type":"sale"}`

	t.Run("processed", func(t *testing.T) {
		ingestor := new(MockWebhookIngestor)
		ingestor.On("HandleWebhook", mock.Anything, integration.MarketplaceEbay, []byte(body), mock.Anything).
			Return(&ingest.WebhookResult{
				Event:   &integration.CanonicalEvent{Marketplace: integration.MarketplaceEbay, Type: integration.EventSaleCompleted, EventID: "evt-1"},
				Outcome: ingest.OutcomeProcessed,
			}, nil)

		w := performRequest(webhookRoutes(NewWebhookHandler(ingestor, 0)), http.MethodPost, "/webhooks/ebay", body)

		assert.Equal(t, http.StatusOK, w.Code)
		var ack dto.WebhookAckResponse
		decodeData(t, w, &ack)
		assert.True(t, ack.Received)
		assert.Equal(t, ingest.OutcomeProcessed, ack.Outcome)
		assert.Equal(t, "evt-1", ack.EventID)
		assert.Equal(t, string(integration.EventSaleCompleted), ack.EventType)
		ingestor.AssertExpectations(t)
	})

	t.Run("duplicate still acknowledged", func(t *testing.T) {
		ingestor := new(MockWebhookIngestor)
		ingestor.On("HandleWebhook", mock.Anything, integration.MarketplaceEbay, mock.Anything, mock.Anything).
			Return(&ingest.WebhookResult{Duplicate: true, Outcome: ingest.OutcomeDuplicate}, nil)

		w := performRequest(webhookRoutes(NewWebhookHandler(ingestor, 0)), http.MethodPost, "/webhooks/ebay", body)

		assert.Equal(t, http.StatusOK, w.Code)
		var ack dto.WebhookAckResponse
		decodeData(t, w, &ack)
		assert.Equal(t, ingest.OutcomeDuplicate, ack.Outcome)
		assert.Empty(t, ack.EventID)
	})

	t.Run("invalid signature", func(t *testing.T) {
		ingestor := new(MockWebhookIngestor)
		ingestor.On("HandleWebhook", mock.Anything, integration.MarketplaceMercari, mock.Anything, mock.Anything).
			Return(nil, integration.ErrInvalidSignature)

		w := performRequest(webhookRoutes(NewWebhookHandler(ingestor, 0)), http.MethodPost, "/webhooks/mercari", body)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeSignatureInvalid, decodeResponse(t, w).Error.Code)
	})

	t.Run("unknown marketplace", func(t *testing.T) {
		ingestor := new(MockWebhookIngestor)
		ingestor.On("HandleWebhook", mock.Anything, integration.MarketplaceID("nowhere"), mock.Anything, mock.Anything).
			Return(nil, integration.ErrMarketplaceNotConfigured)

		w := performRequest(webhookRoutes(NewWebhookHandler(ingestor, 0)), http.MethodPost, "/webhooks/nowhere", body)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeMarketplaceUnknown, decodeResponse(t, w).Error.Code)
	})

	t.Run("store failure asks for redelivery", func(t *testing.T) {
		ingestor := new(MockWebhookIngestor)
		ingestor.On("HandleWebhook", mock.Anything, integration.MarketplaceEbay, mock.Anything, mock.Anything).
			Return(nil, assert.AnError)

		w := performRequest(webhookRoutes(NewWebhookHandler(ingestor, 0)), http.MethodPost, "/webhooks/ebay", body)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("payload too large", func(t *testing.T) {
		ingestor := new(MockWebhookIngestor)

		w := performRequest(webhookRoutes(NewWebhookHandler(ingestor, 16)), http.MethodPost, "/webhooks/ebay", strings.Repeat("x", 17))

		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, dto.ErrCodePayloadTooLarge, decodeResponse(t, w).Error.Code)
		ingestor.AssertNotCalled(t, "HandleWebhook", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
