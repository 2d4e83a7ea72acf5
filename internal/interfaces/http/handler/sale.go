package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// SaleRecorder records a sale and triggers the asynchronous delist sync
type SaleRecorder interface {
	RecordSale(ctx context.Context, req orchestration.RecordSaleRequest) (*integration.SaleRecordedEvent, error)
}

// SaleHandler records sales reported by operators or integrations
type SaleHandler struct {
	BaseHandler
	recorder SaleRecorder
}

// NewSaleHandler creates a SaleHandler
func NewSaleHandler(recorder SaleRecorder) *SaleHandler {
	return &SaleHandler{recorder: recorder}
}

// RecordSale godoc
// @ID           recordSale
// @Summary      Record a sale
// @Description  Marks the listing sold on the selling marketplace and queues the delist sync for every
// @Description  other marketplace. Answers 202 once the sync is queued; 503 asks the caller to retry.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Param        request body dto.RecordSaleRequest true "Sale"
// @Success      202 {object} dto.Response{data=dto.RecordSaleResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/sales [post]
func (h *SaleHandler) RecordSale(c *gin.Context) {
	var req dto.RecordSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		h.BadRequest(c, "Invalid listing_id")
		return
	}

	evt, err := h.recorder.RecordSale(c.Request.Context(), orchestration.RecordSaleRequest{
		ListingID:   listingID,
		Marketplace: integration.MarketplaceID(req.Marketplace),
		Price:       req.Price,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, dto.RecordSaleResponse{
		EventID:         evt.EventID().String(),
		ListingID:       evt.ListingID.String(),
		SoldMarketplace: string(evt.SoldMarketplace),
		SalePrice:       evt.SalePrice,
		RecordedAt:      evt.OccurredAt().UTC().Format(time.RFC3339),
	})
}
