package resilience

import (
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
)

// Call outcomes reported to an Observer
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeServerError = "server_error"
	OutcomeClientError = "client_error"
	OutcomeNetwork     = "network_error"
)

// Observer receives call telemetry
type Observer interface {
	// ObserveAttempt is called once per outbound HTTP exchange
	ObserveAttempt(m integration.MarketplaceID, action integration.CallAction, outcome string, latency time.Duration)
	// ObserveRetry is called before a retry sleeps
	ObserveRetry(m integration.MarketplaceID, category integration.FailureCategory, delay time.Duration)
	// ObserveRejection is called when a call is refused before reaching the marketplace
	ObserveRejection(m integration.MarketplaceID, category integration.FailureCategory)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(integration.MarketplaceID, integration.CallAction, string, time.Duration) {
}

func (nopObserver) ObserveRetry(integration.MarketplaceID, integration.FailureCategory, time.Duration) {}

func (nopObserver) ObserveRejection(integration.MarketplaceID, integration.FailureCategory) {}
