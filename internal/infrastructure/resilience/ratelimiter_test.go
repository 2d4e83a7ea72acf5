package resilience

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

func smallLimits(m integration.MarketplaceID) integration.LimitConfig {
	return integration.LimitConfig{Marketplace: m, PerMinute: 10, PerHour: 50, PerDay: 100, PriorityWeight: 1}
}

func record(l *RateLimiter, m integration.MarketplaceID, n int) {
	for i := 0; i < n; i++ {
		l.RecordRequest(context.Background(), m, "", true, nil)
	}
}

func TestRateLimiter_CheckAdmission(t *testing.T) {
	ctx := context.Background()

	t.Run("admits within limits", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
		record(h.limiter, integration.MarketplaceEbay, 3)

		adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "")
		assert.True(t, adm.Allowed)
		assert.Zero(t, adm.WaitTime)
		assert.InDelta(t, 0.3, adm.Utilization, 1e-9)
	})

	t.Run("denies exhausted minute window until reset", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
		record(h.limiter, integration.MarketplaceEbay, 10)

		adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "")
		assert.False(t, adm.Allowed)
		assert.Equal(t, 30*time.Second, adm.WaitTime)
		assert.Contains(t, adm.Reasoning, "minute window exhausted")

		h.clock.Advance(30 * time.Second)
		adm = h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "")
		assert.True(t, adm.Allowed)
	})

	t.Run("several exhausted windows wait for the earliest reset", func(t *testing.T) {
		cfg := integration.LimitConfig{Marketplace: integration.MarketplaceEtsy, PerMinute: 3, PerHour: 3, PerDay: 1000}
		h := newHarness(nil, cfg)
		record(h.limiter, integration.MarketplaceEtsy, 3)

		adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceEtsy, "")
		assert.False(t, adm.Allowed)
		assert.Equal(t, 30*time.Second, adm.WaitTime)
		assert.Contains(t, adm.Reasoning, "minute window exhausted")
		assert.Contains(t, adm.Reasoning, "hour window exhausted")

		h.clock.Advance(adm.WaitTime)
		adm = h.limiter.CheckAdmission(ctx, integration.MarketplaceEtsy, "")
		assert.False(t, adm.Allowed)
		assert.NotContains(t, adm.Reasoning, "minute window")
		assert.Greater(t, adm.WaitTime, time.Duration(0))
	})

	t.Run("never admits when any window is at its limit", func(t *testing.T) {
		for _, cfg := range []integration.LimitConfig{
			{Marketplace: integration.MarketplaceEtsy, PerMinute: 3, PerHour: 100, PerDay: 1000},
			{Marketplace: integration.MarketplaceEtsy, PerMinute: 100, PerHour: 3, PerDay: 1000},
			{Marketplace: integration.MarketplaceEtsy, PerMinute: 100, PerHour: 1000, PerDay: 3},
		} {
			h := newHarness(nil, cfg)
			for i := 0; i < 10; i++ {
				adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceEtsy, "")
				if i >= 3 {
					assert.False(t, adm.Allowed, "call %d with %+v", i, cfg)
				}
				h.limiter.RecordRequest(ctx, integration.MarketplaceEtsy, "", true, nil)
			}
		}
	})

	t.Run("throttles near the limit", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
		record(h.limiter, integration.MarketplaceEbay, 9)

		adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "")
		assert.True(t, adm.Allowed)
		assert.Equal(t, 7500*time.Millisecond, adm.WaitTime)
		assert.Contains(t, adm.Reasoning, "throttling")
	})

	t.Run("unconfigured marketplace uses defaults", func(t *testing.T) {
		h := newHarness(nil)
		record(h.limiter, "vinted", 10)
		adm := h.limiter.CheckAdmission(ctx, "vinted", "")
		assert.False(t, adm.Allowed)
	})

	t.Run("fails open when state is unavailable", func(t *testing.T) {
		l := NewRateLimiter(failingStore{}, NewLimitTable(), DefaultRateLimiterConfig(), shared.NewManualClock(testEpoch), nil)
		adm := l.CheckAdmission(ctx, integration.MarketplaceEbay, "")
		assert.True(t, adm.Allowed)
		assert.Contains(t, adm.Reasoning, "failing open")
		assert.Zero(t, l.OptimalDelay(ctx, integration.MarketplaceEbay, "", PriorityNormal))
	})
}

func TestRateLimiter_ThrottleDelay(t *testing.T) {
	l := NewRateLimiter(nil, nil, DefaultRateLimiterConfig(), nil, nil)
	assert.Zero(t, l.ThrottleDelay(0.5))
	assert.Zero(t, l.ThrottleDelay(0.8))
	assert.Equal(t, 7500*time.Millisecond, l.ThrottleDelay(0.9))
	assert.Equal(t, 30*time.Second, l.ThrottleDelay(1.0))
	assert.Equal(t, 30*time.Second, l.ThrottleDelay(1.7))
}

func TestRateLimiter_HandleRateLimitHit(t *testing.T) {
	ctx := context.Background()

	t.Run("retry-after blocks admission", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceDepop))
		retry := 12 * time.Second
		backoff := h.limiter.HandleRateLimitHit(ctx, integration.MarketplaceDepop, "", integration.LimitHeaders{RetryAfter: &retry})
		assert.Equal(t, retry, backoff)

		adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceDepop, "")
		assert.False(t, adm.Allowed)
		assert.Equal(t, retry, adm.WaitTime)

		h.clock.Advance(retry)
		assert.True(t, h.limiter.CheckAdmission(ctx, integration.MarketplaceDepop, "").Allowed)
	})

	t.Run("backoff doubles with the 429 streak", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceDepop))
		first := h.limiter.HandleRateLimitHit(ctx, integration.MarketplaceDepop, "", integration.LimitHeaders{})
		second := h.limiter.HandleRateLimitHit(ctx, integration.MarketplaceDepop, "", integration.LimitHeaders{})
		assert.Equal(t, 5*time.Second, first)
		assert.Equal(t, 10*time.Second, second)

		h.limiter.RecordRequest(ctx, integration.MarketplaceDepop, "", true, nil)
		h.clock.Advance(time.Minute)
		assert.Equal(t, 5*time.Second, h.limiter.HandleRateLimitHit(ctx, integration.MarketplaceDepop, "", integration.LimitHeaders{}))
	})
}

func TestRateLimiter_RecordRequestReconcilesHeaders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil, smallLimits(integration.MarketplaceEbay))

	header := http.Header{}
	header.Set("X-RateLimit-Limit", "50")
	header.Set("X-RateLimit-Remaining", "2")
	headers := ParseLimitHeaders(header, h.clock.Now())

	h.limiter.RecordRequest(ctx, integration.MarketplaceEbay, "", true, &headers)

	usage, err := h.limiter.Usage(ctx, integration.MarketplaceEbay, "")
	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, 1, usage[0].Count)
	assert.Equal(t, 48, usage[1].Count)

	h.limiter.RecordRequest(ctx, integration.MarketplaceEbay, "", true, &headers)
	h.limiter.RecordRequest(ctx, integration.MarketplaceEbay, "", true, &headers)
	adm := h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "")
	assert.True(t, adm.Allowed, "provider reported 2 remaining")
}

func TestRateLimiter_UserOverrides(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
	h.limiter.Limits().SetUserOverride("power-seller", integration.LimitConfig{
		Marketplace: integration.MarketplaceEbay, PerMinute: 2, PerHour: 100, PerDay: 1000,
	})

	h.limiter.RecordRequest(ctx, integration.MarketplaceEbay, "power-seller", true, nil)
	h.limiter.RecordRequest(ctx, integration.MarketplaceEbay, "power-seller", true, nil)

	assert.False(t, h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "power-seller").Allowed)
	assert.True(t, h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "someone-else").Allowed)
	assert.True(t, h.limiter.CheckAdmission(ctx, integration.MarketplaceEbay, "").Allowed)
}

func TestRateLimiter_OptimalDelay(t *testing.T) {
	ctx := context.Background()

	t.Run("no pacing at low utilization", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
		record(h.limiter, integration.MarketplaceEbay, 2)
		assert.Zero(t, h.limiter.OptimalDelay(ctx, integration.MarketplaceEbay, "", PriorityNormal))
	})

	t.Run("spreads remaining allowance and favors priority", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
		record(h.limiter, integration.MarketplaceEbay, 6)

		normal := h.limiter.OptimalDelay(ctx, integration.MarketplaceEbay, "", PriorityNormal)
		high := h.limiter.OptimalDelay(ctx, integration.MarketplaceEbay, "", PriorityCritical)
		low := h.limiter.OptimalDelay(ctx, integration.MarketplaceEbay, "", PriorityLow)

		assert.Equal(t, 7500*time.Millisecond, normal)
		assert.Less(t, high, normal)
		assert.Greater(t, low, normal)
		assert.LessOrEqual(t, low, 30*time.Second)
	})

	t.Run("exhausted window waits for reset", func(t *testing.T) {
		h := newHarness(nil, smallLimits(integration.MarketplaceEbay))
		record(h.limiter, integration.MarketplaceEbay, 10)
		assert.Equal(t, 30*time.Second, h.limiter.OptimalDelay(ctx, integration.MarketplaceEbay, "", PriorityCritical))
	})
}
