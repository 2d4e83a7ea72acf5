package resilience

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/integration"
)

func delistRequest(m integration.MarketplaceID) integration.Request {
	return integration.Request{Marketplace: m, Action: integration.ActionDeleteListing, ExternalID: "ext-1", UserID: "u1"}
}

func TestRetryingCaller_Execute(t *testing.T) {
	ctx := context.Background()
	m := integration.MarketplaceEbay

	t.Run("always 429 makes exactly max attempts", func(t *testing.T) {
		header := http.Header{}
		header.Set("Retry-After", "7")
		client := &fakeClient{id: m, respond: status(http.StatusTooManyRequests, header)}
		h := newHarness(fakeRegistry{m: client})

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{MaxRetries: 3})

		var rlErr *integration.RateLimitError
		require.ErrorAs(t, err, &rlErr)
		assert.True(t, rlErr.FromResponse)
		assert.Equal(t, 7*time.Second, rlErr.WaitTime)
		assert.Equal(t, 3, client.Calls())

		delays := h.sleeps.Delays()
		require.Len(t, delays, 3)
		assert.GreaterOrEqual(t, delays[1], 7*time.Second, "retry waits at least Retry-After")
		assert.GreaterOrEqual(t, delays[2], 7*time.Second)
	})

	t.Run("400 is never retried", func(t *testing.T) {
		client := &fakeClient{id: m, respond: status(http.StatusBadRequest, nil)}
		h := newHarness(fakeRegistry{m: client})

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{MaxRetries: 5})

		var clientErr *integration.ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, http.StatusBadRequest, clientErr.StatusCode)
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("401 surfaces as auth error without retry", func(t *testing.T) {
		client := &fakeClient{id: m, respond: status(http.StatusUnauthorized, nil)}
		h := newHarness(fakeRegistry{m: client})

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{})
		assert.Equal(t, integration.CategoryAuth, integration.CategorizeError(err))
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("server error then success", func(t *testing.T) {
		client := &fakeClient{id: m, respond: func(_ context.Context, call int, _ integration.Request) (*integration.Response, error) {
			if call == 1 {
				return &integration.Response{StatusCode: http.StatusServiceUnavailable}, nil
			}
			header := http.Header{}
			header.Set("X-RateLimit-Remaining", "99")
			return &integration.Response{StatusCode: http.StatusOK, Header: header}, nil
		}}
		h := newHarness(fakeRegistry{m: client})

		resp, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{BaseDelay: time.Second})
		require.NoError(t, err)
		assert.Equal(t, 2, client.Calls())
		require.NotNil(t, resp.RateLimit)
		require.NotNil(t, resp.RateLimit.Remaining)
		assert.Equal(t, 99, *resp.RateLimit.Remaining)

		delays := h.sleeps.Delays()
		require.Len(t, delays, 2)
		assert.Equal(t, 2*time.Second, delays[1], "base * 2^(attempt-1) * jitter(1.0)")
		assert.Equal(t, integration.BreakerClosed, h.breaker.GetState(ctx, m))
	})

	t.Run("exhausted server errors return ServerError", func(t *testing.T) {
		client := &fakeClient{id: m, respond: status(http.StatusBadGateway, nil)}
		h := newHarness(fakeRegistry{m: client})

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{MaxRetries: 2})
		var serverErr *integration.ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, 2, client.Calls())
	})

	t.Run("network failures are retried", func(t *testing.T) {
		client := &fakeClient{id: m, respond: func(context.Context, int, integration.Request) (*integration.Response, error) {
			return nil, syscall.ECONNRESET
		}}
		h := newHarness(fakeRegistry{m: client})

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{MaxRetries: 3})
		var netErr *integration.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.ErrorIs(t, err, syscall.ECONNRESET)
		assert.Equal(t, 3, client.Calls())
	})

	t.Run("timeout is a retryable network failure", func(t *testing.T) {
		client := &fakeClient{id: m, respond: func(ctx context.Context, _ int, _ integration.Request) (*integration.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		h := newHarness(fakeRegistry{m: client})

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{MaxRetries: 2, Timeout: 5 * time.Millisecond})
		assert.Equal(t, integration.CategoryNetwork, integration.CategorizeError(err))
		assert.True(t, integration.IsRetryable(err))
		assert.Equal(t, 2, client.Calls())
	})

	t.Run("admission denial fails fast", func(t *testing.T) {
		client := &fakeClient{id: m, respond: status(http.StatusOK, nil)}
		h := newHarness(fakeRegistry{m: client}, integration.LimitConfig{Marketplace: m, PerMinute: 1, PerHour: 10, PerDay: 10})
		h.limiter.RecordRequest(ctx, m, "u1", true, nil)

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{})
		var rlErr *integration.RateLimitError
		require.ErrorAs(t, err, &rlErr)
		assert.False(t, rlErr.FromResponse)
		assert.Equal(t, 30*time.Second, rlErr.WaitTime)
		assert.Zero(t, client.Calls())

		_, err = h.caller.Execute(ctx, delistRequest(m), CallOptions{BypassRateLimit: true})
		assert.NoError(t, err)
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("open breaker fails fast", func(t *testing.T) {
		client := &fakeClient{id: m, respond: status(http.StatusOK, nil)}
		h := newHarness(fakeRegistry{m: client})
		for i := 0; i < integration.DefaultBreakerConfig().FailureThreshold; i++ {
			h.breaker.RecordFailure(ctx, m)
		}

		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{})
		var cbErr *integration.CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Zero(t, client.Calls())
		assert.False(t, errors.As(err, new(*integration.RateLimitError)))
	})

	t.Run("cancellation stops the backoff wait", func(t *testing.T) {
		client := &fakeClient{id: m, respond: status(http.StatusInternalServerError, nil)}
		h := newHarness(fakeRegistry{m: client})
		cctx, cancel := context.WithCancel(ctx)
		h.caller.sleep = func(ctx context.Context, d time.Duration) error {
			if d > 0 {
				cancel()
			}
			return SleepContext(ctx, d)
		}

		_, err := h.caller.Execute(cctx, delistRequest(m), CallOptions{MaxRetries: 5})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("unknown marketplace is permanent", func(t *testing.T) {
		h := newHarness(fakeRegistry{})
		_, err := h.caller.Execute(ctx, delistRequest(m), CallOptions{})
		assert.ErrorIs(t, err, integration.ErrMarketplaceNotConfigured)
		assert.Equal(t, integration.CategoryPermanent, integration.CategorizeError(err))
	})
}

func TestRetryingCaller_Backoff(t *testing.T) {
	h := newHarness(nil)

	assert.Equal(t, time.Second, h.caller.Backoff(1, time.Second))
	assert.Equal(t, 4*time.Second, h.caller.Backoff(3, time.Second))
	assert.Equal(t, 5*time.Minute, h.caller.Backoff(20, time.Second))

	h.caller.jitter = func() float64 { return 0 }
	assert.Equal(t, 2*time.Second, h.caller.Backoff(3, time.Second))
	h.caller.jitter = func() float64 { return 0.999 }
	assert.Less(t, h.caller.Backoff(3, time.Second), 6*time.Second)
}
