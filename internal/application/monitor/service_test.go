package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/application/ingest"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/cache"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testError string

func (e testError) Error() string { return string(e) }

type stubRegistry struct {
	ids   []integration.MarketplaceID
	users map[integration.MarketplaceID][]string
}

func (r stubRegistry) List() []integration.MarketplaceID { return r.ids }

func (r stubRegistry) ConnectedUsers(id integration.MarketplaceID) []string { return r.users[id] }

type stubUsage struct {
	failing map[integration.MarketplaceID]bool
}

func (u stubUsage) Usage(ctx context.Context, m integration.MarketplaceID, userID string) ([]integration.WindowUsage, error) {
	if u.failing[m] {
		return nil, testError("state store unavailable")
	}
	return []integration.WindowUsage{{Kind: integration.WindowMinute, Count: 3, Limit: 10, Utilization: 0.3}}, nil
}

type stubBreaker map[integration.MarketplaceID]integration.BreakerState

func (b stubBreaker) GetState(ctx context.Context, m integration.MarketplaceID) integration.BreakerState {
	if s, ok := b[m]; ok {
		return s
	}
	return integration.BreakerClosed
}

type stubDeadLetters int64

func (d stubDeadLetters) PendingCount(ctx context.Context) (int64, error) { return int64(d), nil }

// MockCaller is a mock implementation of Caller
type MockCaller struct {
	mock.Mock
}

func (m *MockCaller) Execute(ctx context.Context, req integration.Request, opts resilience.CallOptions) (*integration.Response, error) {
	args := m.Called(ctx, req, opts)
	resp, _ := args.Get(0).(*integration.Response)
	return resp, args.Error(1)
}

func TestService_Statuses(t *testing.T) {
	ctx := context.Background()
	clock := shared.NewManualClock(testEpoch)
	tracker := ingest.NewHealthTracker(cache.NewInMemoryStateStore(), 0, clock, zap.NewNop())
	tracker.Record(ctx, integration.MarketplaceEbay, true, 40*time.Millisecond)
	tracker.Record(ctx, integration.MarketplaceEbay, false, 20*time.Millisecond)

	svc := NewService(
		stubRegistry{ids: []integration.MarketplaceID{integration.MarketplaceEbay, integration.MarketplacePoshmark}},
		stubBreaker{integration.MarketplacePoshmark: integration.BreakerOpen},
		stubUsage{},
		zap.NewNop(),
		WithHealth(tracker),
		WithDisplayNames(map[integration.MarketplaceID]string{integration.MarketplaceEbay: "eBay"}),
		WithDeadLetters(stubDeadLetters(7)),
	)

	statuses, err := svc.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	ebay := statuses[0]
	assert.Equal(t, "eBay", ebay.DisplayName)
	assert.Equal(t, integration.BreakerClosed, ebay.BreakerState)
	assert.InDelta(t, 0.5, ebay.HealthScore, 1e-9)
	require.Len(t, ebay.Hourly, 1)
	require.Len(t, ebay.Windows, 1)
	assert.Equal(t, int64(30), ebay.AvgLatencyMS)

	posh := statuses[1]
	assert.Equal(t, "poshmark", posh.DisplayName)
	assert.Equal(t, integration.BreakerOpen, posh.BreakerState)
	assert.Equal(t, 1.0, posh.HealthScore)

	pending, err := svc.PendingDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pending)
}

func TestService_StatusesPartialFailure(t *testing.T) {
	svc := NewService(
		stubRegistry{ids: []integration.MarketplaceID{integration.MarketplaceEbay, integration.MarketplaceEtsy}},
		stubBreaker{},
		stubUsage{failing: map[integration.MarketplaceID]bool{integration.MarketplaceEtsy: true}},
		zap.NewNop(),
	)

	statuses, err := svc.Statuses(context.Background())
	assert.Error(t, err)
	require.Len(t, statuses, 2)
	assert.NotEmpty(t, statuses[0].Windows)
	assert.Empty(t, statuses[1].Windows)

	pending, err := svc.PendingDeadLetters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestService_HealthWithConnectionCheck(t *testing.T) {
	caller := new(MockCaller)
	caller.On("Execute", mock.Anything, mock.MatchedBy(func(req integration.Request) bool {
		return req.Marketplace == integration.MarketplaceEbay && req.Action == integration.ActionTestConnection && req.UserID == "seller-1"
	}), mock.MatchedBy(func(opts resilience.CallOptions) bool {
		return opts.MaxRetries == 1 && !opts.BypassRateLimit
	})).Return(&integration.Response{StatusCode: 200}, nil)
	caller.On("Execute", mock.Anything, mock.MatchedBy(func(req integration.Request) bool {
		return req.Marketplace == integration.MarketplaceMercari
	}), mock.Anything).Return(nil, &integration.CircuitBreakerError{Marketplace: integration.MarketplaceMercari, RetryAfter: time.Minute})

	svc := NewService(
		stubRegistry{
			ids:   []integration.MarketplaceID{integration.MarketplaceEbay, integration.MarketplaceMercari},
			users: map[integration.MarketplaceID][]string{integration.MarketplaceEbay: {"seller-1", "seller-2"}},
		},
		stubBreaker{integration.MarketplaceMercari: integration.BreakerOpen},
		stubUsage{},
		zap.NewNop(),
		WithCaller(caller),
	)

	t.Run("without connection check", func(t *testing.T) {
		health, err := svc.Health(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, health, 2)
		assert.Nil(t, health[0].Check)
		caller.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("with connection check", func(t *testing.T) {
		health, err := svc.Health(context.Background(), true)
		require.NoError(t, err)
		require.Len(t, health, 2)

		require.NotNil(t, health[0].Check)
		assert.True(t, health[0].Check.OK)
		assert.Equal(t, 200, health[0].Check.StatusCode)
		assert.Equal(t, "seller-1", health[0].Check.UserID)

		require.NotNil(t, health[1].Check)
		assert.False(t, health[1].Check.OK)
		assert.Equal(t, integration.CategoryCircuitOpen, health[1].Check.Category)
		assert.Empty(t, health[1].Check.UserID)
	})
}

func TestService_ConnectionCheckDisabled(t *testing.T) {
	svc := NewService(stubRegistry{}, stubBreaker{}, stubUsage{}, nil)

	result := svc.CheckConnection(context.Background(), integration.MarketplaceEbay)
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
}
