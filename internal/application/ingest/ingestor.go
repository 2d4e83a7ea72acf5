// Package ingest turns marketplace webhooks and polled sales into one stream
// of canonical events and forwards sales to the sale-recording path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

// Inbound outcomes reported to the observer
const (
	OutcomeProcessed    = "processed"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeRejected     = "rejected"
	OutcomeUnrecognized = "unrecognized"
	OutcomeUnknown      = "unknown_marketplace"
	OutcomeFailed       = "failed"
)

// SaleSink records a sale detected on a marketplace
type SaleSink interface {
	RecordSale(ctx context.Context, req orchestration.RecordSaleRequest) (*integration.SaleRecordedEvent, error)
}

// Observer counts inbound notifications
type Observer interface {
	ObserveInbound(m integration.MarketplaceID, source integration.EventSource, outcome string)
}

// Config tunes the ingestor
type Config struct {
	// DedupTTL is how long a processed event key is remembered
	DedupTTL time.Duration
	// KeyPrefix namespaces dedup keys
	KeyPrefix string
}

// DefaultConfig returns a 72h dedup window
func DefaultConfig() Config {
	return Config{
		DedupTTL:  shared.DefaultIdempotencyConfig().TTL,
		KeyPrefix: "ingest:",
	}
}

// WebhookResult is the outcome of one webhook delivery
type WebhookResult struct {
	Event     *integration.CanonicalEvent
	Duplicate bool
	Outcome   string
}

// Ingestor verifies, normalizes, deduplicates and dispatches inbound events.
// Webhook deliveries and polled sales share Process.
type Ingestor struct {
	webhooks integration.WebhookRegistry
	listings integration.ListingRepository
	sales    SaleSink
	dedup    shared.IdempotencyStore
	health   *HealthTracker
	observer Observer
	config   Config
	clock    shared.Clock
	logger   *zap.Logger
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithHealthTracker records per-hour health counters
func WithHealthTracker(h *HealthTracker) Option {
	return func(i *Ingestor) { i.health = h }
}

// WithObserver sets the inbound observer
func WithObserver(o Observer) Option {
	return func(i *Ingestor) { i.observer = o }
}

// WithClock sets the clock
func WithClock(c shared.Clock) Option {
	return func(i *Ingestor) { i.clock = shared.ClockOrSystem(c) }
}

// NewIngestor creates an ingestor
func NewIngestor(
	webhooks integration.WebhookRegistry,
	listings integration.ListingRepository,
	sales SaleSink,
	dedup shared.IdempotencyStore,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DedupTTL <= 0 {
		config.DedupTTL = DefaultConfig().DedupTTL
	}
	i := &Ingestor{
		webhooks: webhooks,
		listings: listings,
		sales:    sales,
		dedup:    dedup,
		config:   config,
		clock:    shared.SystemClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Health returns the health tracker, or nil
func (i *Ingestor) Health() *HealthTracker {
	return i.health
}

// HandleWebhook processes one delivery. The returned error wraps
// ErrMarketplaceNotConfigured, ErrMissingSignature, ErrInvalidSignature or
// ErrUnrecognizedPayload for the matching rejection; anything else is internal.
func (i *Ingestor) HandleWebhook(ctx context.Context, m integration.MarketplaceID, body []byte, header http.Header) (*WebhookResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ingest", "handle_webhook", telemetry.SpanAttrMarketplace, string(m))
	defer span.End()

	start := i.clock.Now()
	result := &WebhookResult{}
	err := i.handleWebhook(ctx, m, body, header, result)
	if result.Outcome != OutcomeUnknown {
		i.recordHealth(ctx, m, err == nil, i.clock.Now().Sub(start))
	}
	i.observe(m, integration.SourceWebhook, result.Outcome)
	telemetry.SetAttributes(span, "outcome", result.Outcome)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return result, err
}

func (i *Ingestor) handleWebhook(ctx context.Context, m integration.MarketplaceID, body []byte, header http.Header, result *WebhookResult) error {
	adapter, err := i.webhooks.WebhookAdapter(m)
	if err != nil {
		result.Outcome = OutcomeUnknown
		return err
	}

	if err := adapter.Verify(body, header); err != nil {
		result.Outcome = OutcomeRejected
		i.logger.Warn("Webhook signature rejected",
			zap.String("marketplace", string(m)),
			zap.Error(err),
		)
		return err
	}

	evt, err := adapter.Normalize(body, i.clock.Now())
	if err != nil {
		result.Outcome = OutcomeUnrecognized
		i.logger.Warn("Webhook payload not recognized",
			zap.String("marketplace", string(m)),
			zap.Int("body_size", len(body)),
			zap.Error(err),
		)
		return err
	}
	evt.Source = integration.SourceWebhook
	result.Event = evt

	dup, outcome, err := i.process(ctx, *evt)
	result.Duplicate = dup
	result.Outcome = outcome
	return err
}

// Process deduplicates and dispatches one canonical event. It reports
// duplicate=true when the event was already handled; a failed dispatch
// releases the dedup key so a redelivery is accepted.
func (i *Ingestor) Process(ctx context.Context, evt integration.CanonicalEvent) (bool, error) {
	start := i.clock.Now()
	dup, outcome, err := i.process(ctx, evt)
	if evt.Source == integration.SourcePolling {
		i.recordHealth(ctx, evt.Marketplace, err == nil, i.clock.Now().Sub(start))
		i.observe(evt.Marketplace, evt.Source, outcome)
	}
	return dup, err
}

func (i *Ingestor) process(ctx context.Context, evt integration.CanonicalEvent) (bool, string, error) {
	key := i.config.KeyPrefix + evt.DedupKey()
	newly, err := i.dedup.MarkProcessed(ctx, key, i.config.DedupTTL)
	if err != nil {
		return false, OutcomeFailed, fmt.Errorf("ingest: dedup check: %w", err)
	}
	if !newly {
		i.logger.Debug("Duplicate event skipped",
			zap.String("marketplace", string(evt.Marketplace)),
			zap.String("dedup_key", key),
		)
		return true, OutcomeDuplicate, nil
	}

	outcome, err := i.dispatch(ctx, evt)
	if err != nil {
		if ferr := i.dedup.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			i.logger.Error("Failed to release dedup key",
				zap.String("dedup_key", key),
				zap.Error(ferr),
			)
		}
		i.logger.Error("Event dispatch failed",
			zap.String("marketplace", string(evt.Marketplace)),
			zap.String("event_type", string(evt.Type)),
			zap.String("external_id", evt.ExternalID),
			zap.Error(err),
		)
		return false, OutcomeFailed, err
	}
	return false, outcome, nil
}

// dispatch routes a new event: sales go to the sale sink, others only touch the listing
func (i *Ingestor) dispatch(ctx context.Context, evt integration.CanonicalEvent) (string, error) {
	listing, err := i.listings.FindByExternalID(ctx, evt.Marketplace, evt.ExternalID)
	if errors.Is(err, integration.ErrListingNotFound) {
		i.logger.Info("Event for untracked listing ignored",
			zap.String("marketplace", string(evt.Marketplace)),
			zap.String("event_type", string(evt.Type)),
			zap.String("external_id", evt.ExternalID),
		)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ingest: resolve listing: %w", err)
	}

	switch {
	case evt.IsSale():
		return i.recordSale(ctx, listing, evt)
	case evt.Type == integration.EventListingEnded:
		return i.endListing(ctx, listing, evt)
	default:
		listing.UpdatedAt = i.clock.Now()
		if err := i.listings.Save(ctx, listing); err != nil {
			return OutcomeFailed, fmt.Errorf("ingest: touch listing: %w", err)
		}
		return OutcomeProcessed, nil
	}
}

func (i *Ingestor) recordSale(ctx context.Context, listing *integration.Listing, evt integration.CanonicalEvent) (string, error) {
	req := orchestration.RecordSaleRequest{
		ListingID:   listing.ID,
		Marketplace: evt.Marketplace,
		Metadata:    saleMetadata(evt),
	}
	if evt.Sale != nil {
		req.Price = evt.Sale.Price
	}

	_, err := i.sales.RecordSale(ctx, req)
	if errors.Is(err, orchestration.ErrSaleAlreadyRecorded) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ingest: record sale: %w", err)
	}
	i.logger.Info("Marketplace sale ingested",
		zap.String("marketplace", string(evt.Marketplace)),
		zap.String("listing_id", listing.ID.String()),
		zap.String("source", string(evt.Source)),
	)
	return OutcomeProcessed, nil
}

func (i *Ingestor) endListing(ctx context.Context, listing *integration.Listing, evt integration.CanonicalEvent) (string, error) {
	post, ok := listing.Post(evt.Marketplace)
	if !ok || post.Status != integration.PostStatusActive {
		return OutcomeIgnored, nil
	}
	if err := i.listings.UpdatePostStatus(ctx, listing.ID, evt.Marketplace, integration.PostStatusDelisted); err != nil {
		return OutcomeFailed, fmt.Errorf("ingest: mark post ended: %w", err)
	}
	return OutcomeProcessed, nil
}

func saleMetadata(evt integration.CanonicalEvent) map[string]any {
	md := make(map[string]any, len(evt.Metadata)+5)
	for k, v := range evt.Metadata {
		md[k] = v
	}
	md["source"] = string(evt.Source)
	md["event_id"] = evt.EventID
	if evt.Sale != nil {
		md["transaction_id"] = evt.Sale.TransactionID
		md["currency"] = evt.Sale.Currency
		if evt.Sale.BuyerID != "" {
			md["buyer_id"] = evt.Sale.BuyerID
		}
	}
	return md
}

func (i *Ingestor) recordHealth(ctx context.Context, m integration.MarketplaceID, success bool, latency time.Duration) {
	if i.health != nil {
		i.health.Record(context.WithoutCancel(ctx), m, success, latency)
	}
}

func (i *Ingestor) observe(m integration.MarketplaceID, source integration.EventSource, outcome string) {
	if i.observer != nil {
		i.observer.ObserveInbound(m, source, outcome)
	}
}
