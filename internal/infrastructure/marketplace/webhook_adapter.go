package marketplace

import (
	"net/http"
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
)

// WebhookAdapter pairs a signature verifier with a payload normalizer
type WebhookAdapter struct {
	marketplace integration.MarketplaceID
	verifier    *SignatureVerifier
	normalizer  Normalizer
}

// NewWebhookAdapter creates the webhook adapter described by config
func NewWebhookAdapter(config ClientConfig) (*WebhookAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &WebhookAdapter{
		marketplace: config.Marketplace,
		verifier:    NewSignatureVerifier(config.WebhookSecret, config.SignatureHeader, config.SignatureEncoding),
		normalizer:  NormalizerFor(config.Normalizer),
	}, nil
}

// Verify implements integration.WebhookAdapter
func (a *WebhookAdapter) Verify(body []byte, header http.Header) error {
	return a.verifier.Verify(body, header)
}

// Normalize implements integration.WebhookAdapter
func (a *WebhookAdapter) Normalize(body []byte, receivedAt time.Time) (*integration.CanonicalEvent, error) {
	return a.normalizer.Normalize(a.marketplace, body, receivedAt)
}
