package resilience

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crosslist/backend/internal/domain/integration"
)

func slowOK(context.Context, int, integration.Request) (*integration.Response, error) {
	time.Sleep(5 * time.Millisecond)
	return &integration.Response{StatusCode: http.StatusOK}, nil
}

func TestRetryingCaller_ExecuteBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("bounds concurrency per marketplace", func(t *testing.T) {
		ebay := &fakeClient{id: integration.MarketplaceEbay, respond: slowOK}
		etsy := &fakeClient{id: integration.MarketplaceEtsy, respond: slowOK}
		limits := []integration.LimitConfig{
			{Marketplace: integration.MarketplaceEbay, PerMinute: 1000, PerHour: 1000, PerDay: 1000},
			{Marketplace: integration.MarketplaceEtsy, PerMinute: 1000, PerHour: 1000, PerDay: 1000},
		}
		h := newHarness(fakeRegistry{integration.MarketplaceEbay: ebay, integration.MarketplaceEtsy: etsy}, limits...)

		var reqs []integration.Request
		for i := 0; i < 6; i++ {
			reqs = append(reqs, delistRequest(integration.MarketplaceEbay), delistRequest(integration.MarketplaceEtsy))
		}

		results := h.caller.ExecuteBatch(ctx, reqs, CallOptions{}, 2)

		assert.Len(t, results, len(reqs))
		for i, r := range results {
			assert.NoError(t, r.Err)
			assert.True(t, r.Dispatched)
			assert.Equal(t, reqs[i].Marketplace, r.Request.Marketplace)
		}
		assert.Equal(t, 6, ebay.Calls())
		assert.Equal(t, 6, etsy.Calls())
		assert.LessOrEqual(t, ebay.maxInFly, 2)
		assert.LessOrEqual(t, etsy.maxInFly, 2)
	})

	t.Run("one marketplace failing does not affect another", func(t *testing.T) {
		ebay := &fakeClient{id: integration.MarketplaceEbay, respond: status(http.StatusBadRequest, nil)}
		etsy := &fakeClient{id: integration.MarketplaceEtsy, respond: status(http.StatusOK, nil)}
		h := newHarness(fakeRegistry{integration.MarketplaceEbay: ebay, integration.MarketplaceEtsy: etsy})

		results := h.caller.ExecuteBatch(ctx, []integration.Request{
			delistRequest(integration.MarketplaceEbay),
			delistRequest(integration.MarketplaceEtsy),
		}, CallOptions{}, 1)

		assert.Error(t, results[0].Err)
		assert.NoError(t, results[1].Err)
	})

	t.Run("stopped batch dispatches nothing new", func(t *testing.T) {
		client := &fakeClient{id: integration.MarketplaceEbay, respond: status(http.StatusOK, nil)}
		h := newHarness(fakeRegistry{integration.MarketplaceEbay: client})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		results := h.caller.ExecuteBatch(cctx, []integration.Request{
			delistRequest(integration.MarketplaceEbay),
			delistRequest(integration.MarketplaceEbay),
		}, CallOptions{}, 1)

		for _, r := range results {
			assert.False(t, r.Dispatched)
			assert.ErrorIs(t, r.Err, context.Canceled)
		}
		assert.Zero(t, client.Calls())
	})
}
