package resilience

import (
	"context"

	"github.com/crosslist/backend/internal/domain/integration"
)

// Guard applies admission and breaker accounting to marketplace calls made
// outside Execute, such as sales polling. It never retries.
type Guard struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// NewGuard creates a guard over the caller's limiter and breaker
func NewGuard(limiter *RateLimiter, breaker *CircuitBreaker) *Guard {
	return &Guard{limiter: limiter, breaker: breaker}
}

// Guard returns a guard sharing the caller's limiter and breaker state
func (c *RetryingCaller) Guard() *Guard {
	return NewGuard(c.limiter, c.breaker)
}

// Before returns a RateLimitError or CircuitBreakerError when the call must not be made.
// A nil return reserves a half-open trial slot that After gives back.
func (g *Guard) Before(ctx context.Context, m integration.MarketplaceID, userID string) error {
	if adm := g.limiter.CheckAdmission(ctx, m, userID); !adm.Allowed {
		return &integration.RateLimitError{Marketplace: m, WaitTime: adm.WaitTime, Reason: adm.Reasoning}
	}
	return g.breaker.Allow(ctx, m)
}

// After records the outcome of a call admitted by Before
func (g *Guard) After(ctx context.Context, m integration.MarketplaceID, userID string, callErr error) {
	ctx = context.WithoutCancel(ctx)
	if callErr == nil {
		g.limiter.RecordRequest(ctx, m, userID, true, nil)
		g.breaker.RecordSuccess(ctx, m)
		return
	}
	g.limiter.RecordRequest(ctx, m, userID, false, nil)
	g.breaker.RecordFailure(ctx, m)
}
