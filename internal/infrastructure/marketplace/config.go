package marketplace

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
)

// Errors returned by ClientConfig.Validate
var (
	ErrConfigMissingMarketplace = errors.New("marketplace: config missing marketplace id")
	ErrConfigInvalidBaseURL     = errors.New("marketplace: config base url is invalid")
)

// Signature encodings accepted by the verifier
const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

// DefaultSignatureHeader is used when a marketplace does not name its own
const DefaultSignatureHeader = "X-Webhook-Signature"

// ClientConfig holds configuration for one marketplace's HTTP client and webhooks
type ClientConfig struct {
	// Marketplace is the id this client serves
	Marketplace integration.MarketplaceID
	// BaseURL is the REST root, e.g. https://api.example.com/v1
	BaseURL string
	// Timeout bounds one HTTP exchange
	Timeout time.Duration
	// WebhookSecret is the HMAC key for inbound deliveries
	WebhookSecret string
	// SignatureHeader names the header carrying the signature
	SignatureHeader string
	// SignatureEncoding is hex or base64
	SignatureEncoding string
	// Normalizer selects the payload shape: ebay, etsy or generic
	Normalizer string
	// PollingEnabled exposes PollSales for marketplaces without webhooks
	PollingEnabled bool
}

// Validate checks the config and fills defaults
func (c *ClientConfig) Validate() error {
	if c.Marketplace == "" {
		return ErrConfigMissingMarketplace
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ErrConfigInvalidBaseURL
		}
		c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.SignatureEncoding == "" {
		c.SignatureEncoding = EncodingHex
	}
	if c.Normalizer == "" {
		c.Normalizer = NormalizerGeneric
	}
	return nil
}
