package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crosslist/backend/internal/application/ingest"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// DefaultMaxWebhookPayload bounds a webhook body (256KB)
const DefaultMaxWebhookPayload = 256 << 10

// WebhookIngestor verifies and processes marketplace webhooks
type WebhookIngestor interface {
	HandleWebhook(ctx context.Context, m integration.MarketplaceID, body []byte, header http.Header) (*ingest.WebhookResult, error)
}

// WebhookHandler receives marketplace webhooks. The endpoints are called by
// the marketplaces and authenticate through the payload signature only.
type WebhookHandler struct {
	BaseHandler
	ingestor   WebhookIngestor
	maxPayload int64
}

// NewWebhookHandler creates a WebhookHandler; maxPayload <= 0 uses the default
func NewWebhookHandler(ingestor WebhookIngestor, maxPayload int64) *WebhookHandler {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxWebhookPayload
	}
	return &WebhookHandler{ingestor: ingestor, maxPayload: maxPayload}
}

// Receive godoc
// @ID           receiveMarketplaceWebhook
// @Summary      Receive a marketplace webhook
// @Description  Verifies the payload signature and ingests the event. Accepted, duplicate and ignored
// @Description  deliveries all answer 200 so the marketplace stops redelivering; a 5xx asks it to retry.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        marketplace path string true "Marketplace id, e.g. ebay"
// @Param        payload body object true "Raw marketplace notification"
// @Success      200 {object} dto.Response{data=dto.WebhookAckResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      413 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /webhooks/{marketplace} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	m := integration.MarketplaceID(c.Param("marketplace"))
	c.Request = c.Request.WithContext(logger.WithMarketplace(c.Request.Context(), string(m)))

	// The signature is computed over the raw body
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxPayload+1))
	if err != nil {
		h.BadRequest(c, "Failed to read request body")
		return
	}
	if int64(len(body)) > h.maxPayload {
		h.ErrorWithCode(c, dto.ErrCodePayloadTooLarge, "Payload too large")
		return
	}

	result, err := h.ingestor.HandleWebhook(c.Request.Context(), m, body, c.Request.Header)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	ack := dto.WebhookAckResponse{Received: true, Outcome: result.Outcome}
	if result.Event != nil {
		ack.EventID = result.Event.EventID
		ack.EventType = string(result.Event.Type)
	}
	h.Success(c, ack)
}
