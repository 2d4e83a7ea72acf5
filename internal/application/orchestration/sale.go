package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/event"
)

var (
	// ErrSaleAlreadyRecorded is returned when the sold post is already marked sold
	ErrSaleAlreadyRecorded = errors.New("orchestration: sale already recorded")
	// ErrInvalidSalePrice is returned for a negative sale price
	ErrInvalidSalePrice = errors.New("orchestration: sale price must not be negative")
	// ErrSaleNotQueued is returned when the sync could not be queued; the post is left unsold
	// so a redelivered sale is recorded again
	ErrSaleNotQueued = errors.New("orchestration: sale sync not queued")
)

// RecordSaleRequest is a sale observed on one marketplace
type RecordSaleRequest struct {
	ListingID   uuid.UUID
	Marketplace integration.MarketplaceID
	Price       decimal.Decimal
	Metadata    map[string]any
}

// SaleRecorder is the sale-recording path. It marks the post sold and
// publishes SaleRecorded; the sync runs asynchronously off that event so
// recording a sale never waits on or fails because of other marketplaces.
// A sale is only acknowledged once its sync is queued.
type SaleRecorder struct {
	listings  integration.ListingRepository
	publisher shared.EventPublisher
	clock     shared.Clock
	logger    *zap.Logger
}

// NewSaleRecorder creates a SaleRecorder
func NewSaleRecorder(listings integration.ListingRepository, publisher shared.EventPublisher, clock shared.Clock, logger *zap.Logger) *SaleRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleRecorder{
		listings:  listings,
		publisher: publisher,
		clock:     shared.ClockOrSystem(clock),
		logger:    logger,
	}
}

// RecordSale records the sale and publishes SaleRecorded
func (r *SaleRecorder) RecordSale(ctx context.Context, req RecordSaleRequest) (*integration.SaleRecordedEvent, error) {
	if req.Price.IsNegative() {
		return nil, ErrInvalidSalePrice
	}
	listing, err := r.listings.FindByID(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	post, ok := listing.Post(req.Marketplace)
	if !ok {
		return nil, integration.ErrListingPostNotFound
	}
	if post.Status == integration.PostStatusSold {
		return nil, ErrSaleAlreadyRecorded
	}
	prior := post.Status

	if err := r.listings.UpdatePostStatus(ctx, listing.ID, req.Marketplace, integration.PostStatusSold); err != nil {
		return nil, fmt.Errorf("orchestration: mark post sold: %w", err)
	}

	evt := integration.NewSaleRecordedEvent(listing.ID, listing.UserID, req.Marketplace, req.Price, req.Metadata, r.clock.Now())
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Error("Failed to queue sale sync, reverting sold mark",
			zap.String("listing_id", listing.ID.String()),
			zap.String("marketplace", string(req.Marketplace)),
			zap.Error(err),
		)
		if rerr := r.listings.UpdatePostStatus(context.WithoutCancel(ctx), listing.ID, req.Marketplace, prior); rerr != nil {
			r.logger.Error("Failed to revert sold mark",
				zap.String("listing_id", listing.ID.String()),
				zap.String("marketplace", string(req.Marketplace)),
				zap.Error(rerr),
			)
		}
		return nil, fmt.Errorf("%w: %w", ErrSaleNotQueued, err)
	}

	r.logger.Info("Sale recorded",
		zap.String("listing_id", listing.ID.String()),
		zap.String("marketplace", string(req.Marketplace)),
		zap.String("price", req.Price.String()),
		zap.String("event_id", evt.EventID().String()),
	)
	return evt, nil
}

// SaleSyncHandler runs TriggerSaleSync for SaleRecorded events
type SaleSyncHandler struct {
	orchestrator *Orchestrator
	logger       *zap.Logger
}

// NewSaleSyncHandler creates a SaleSyncHandler
func NewSaleSyncHandler(orchestrator *Orchestrator, logger *zap.Logger) *SaleSyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleSyncHandler{orchestrator: orchestrator, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *SaleSyncHandler) EventTypes() []string {
	return []string{integration.EventTypeSaleRecorded}
}

// Handle starts the sync for one sale
func (h *SaleSyncHandler) Handle(ctx context.Context, evt shared.DomainEvent) error {
	sale, ok := evt.(*integration.SaleRecordedEvent)
	if !ok {
		h.logger.Error("unexpected event type",
			zap.String("expected", integration.EventTypeSaleRecorded),
			zap.String("actual", evt.EventType()),
		)
		return fmt.Errorf("unexpected event type: expected %s, got %s", integration.EventTypeSaleRecorded, evt.EventType())
	}

	_, err := h.orchestrator.TriggerSaleSync(ctx, SaleSyncRequest{
		ListingID:       sale.ListingID,
		SoldMarketplace: sale.SoldMarketplace,
		SalePrice:       sale.SalePrice,
		Metadata:        sale.Metadata,
	})
	if err != nil {
		h.logger.Error("Sale sync could not run",
			zap.String("listing_id", sale.ListingID.String()),
			zap.String("sold_marketplace", string(sale.SoldMarketplace)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// NewSaleSyncConsumer wraps the sale handler in an async consumer so the
// publisher returns as soon as the event is queued
func NewSaleSyncConsumer(orchestrator *Orchestrator, cfg event.AsyncConsumerConfig, logger *zap.Logger) (*event.AsyncConsumer, error) {
	return event.NewAsyncConsumer("sale-sync", NewSaleSyncHandler(orchestrator, logger), cfg, logger)
}

var _ shared.EventHandler = (*SaleSyncHandler)(nil)
