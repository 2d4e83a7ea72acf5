package integration

import (
	"net/http"
	"time"
)

// WebhookAdapter verifies and normalizes one marketplace's webhook deliveries
type WebhookAdapter interface {
	// Verify checks the delivery signature over the raw body.
	// Returns ErrMissingSignature or ErrInvalidSignature.
	Verify(body []byte, header http.Header) error
	// Normalize converts the provider payload into a canonical event.
	// Returns ErrUnrecognizedPayload for shapes it does not understand.
	Normalize(body []byte, receivedAt time.Time) (*CanonicalEvent, error)
}

// WebhookRegistry resolves the webhook adapter of a marketplace
type WebhookRegistry interface {
	// WebhookAdapter returns the adapter or ErrMarketplaceNotConfigured
	WebhookAdapter(id MarketplaceID) (WebhookAdapter, error)
}
