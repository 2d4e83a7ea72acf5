package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/application/monitor"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// MockHealthReporter is a mock implementation of HealthReporter
type MockHealthReporter struct {
	mock.Mock
}

func (m *MockHealthReporter) Health(ctx context.Context, check bool) ([]monitor.MarketplaceHealth, error) {
	args := m.Called(ctx, check)
	health, _ := args.Get(0).([]monitor.MarketplaceHealth)
	return health, args.Error(1)
}

func (m *MockHealthReporter) PendingDeadLetters(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func healthRoutes(h *HealthHandler) func(r *gin.Engine) {
	return func(r *gin.Engine) {
		r.GET("/health", h.Live)
		r.GET("/marketplaces/health", h.Get)
	}
}

func healthOf(m integration.MarketplaceID, state integration.BreakerState) monitor.MarketplaceHealth {
	return monitor.MarketplaceHealth{MarketplaceStatus: integration.MarketplaceStatus{
		Marketplace:  m,
		DisplayName:  string(m),
		BreakerState: state,
		HealthScore:  1,
	}}
}

func TestHealthHandler_Get(t *testing.T) {
	t.Run("all closed", func(t *testing.T) {
		reporter := new(MockHealthReporter)
		reporter.On("Health", mock.Anything, false).Return([]monitor.MarketplaceHealth{
			healthOf(integration.MarketplaceEbay, integration.BreakerClosed),
		}, nil)
		reporter.On("PendingDeadLetters", mock.Anything).Return(int64(2), nil)

		h := NewHealthHandler(reporter)
		h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
		w := performRequest(healthRoutes(h), http.MethodGet, "/marketplaces/health", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.HealthResponse
		decodeData(t, w, &resp)
		assert.Equal(t, dto.HealthOK, resp.Status)
		assert.Equal(t, int64(2), resp.PendingDeadLetters)
		assert.Equal(t, "2026-03-01T12:00:00Z", resp.CheckedAt)
		require.Len(t, resp.Marketplaces, 1)
		assert.Nil(t, resp.Marketplaces[0].Check)
	})

	t.Run("failed connection check degrades", func(t *testing.T) {
		ebay := healthOf(integration.MarketplaceEbay, integration.BreakerClosed)
		ebay.Check = &monitor.ConnectionCheck{OK: false, Category: integration.CategoryNetwork, Error: "dial tcp: timeout"}

		reporter := new(MockHealthReporter)
		reporter.On("Health", mock.Anything, true).Return([]monitor.MarketplaceHealth{ebay}, nil)
		reporter.On("PendingDeadLetters", mock.Anything).Return(int64(0), assert.AnError)

		w := performRequest(healthRoutes(NewHealthHandler(reporter)), http.MethodGet, "/marketplaces/health?check=true", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.HealthResponse
		decodeData(t, w, &resp)
		assert.Equal(t, dto.HealthDegraded, resp.Status)
		require.NotNil(t, resp.Marketplaces[0].Check)
		assert.Equal(t, integration.CategoryNetwork, resp.Marketplaces[0].Check.Category)
		reporter.AssertExpectations(t)
	})

	t.Run("open breaker degrades", func(t *testing.T) {
		reporter := new(MockHealthReporter)
		reporter.On("Health", mock.Anything, false).Return([]monitor.MarketplaceHealth{
			healthOf(integration.MarketplaceEbay, integration.BreakerClosed),
			healthOf(integration.MarketplaceMercari, integration.BreakerOpen),
		}, nil)
		reporter.On("PendingDeadLetters", mock.Anything).Return(int64(0), nil)

		w := performRequest(healthRoutes(NewHealthHandler(reporter)), http.MethodGet, "/marketplaces/health?check=no", nil)

		var resp dto.HealthResponse
		decodeData(t, w, &resp)
		assert.Equal(t, dto.HealthDegraded, resp.Status)
	})
}

func TestHealthHandler_Live(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		w := performRequest(healthRoutes(NewHealthHandler(new(MockHealthReporter))), http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.LivenessResponse
		decodeData(t, w, &resp)
		assert.Equal(t, dto.HealthOK, resp.Status)
	})

	t.Run("failing dependency", func(t *testing.T) {
		h := NewHealthHandler(new(MockHealthReporter)).
			WithDependency("database", PingFunc(func(ctx context.Context) error { return nil })).
			WithDependency("redis", PingFunc(func(ctx context.Context) error { return assert.AnError }))

		w := performRequest(healthRoutes(h), http.MethodGet, "/health", nil)

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp dto.LivenessResponse
		decodeData(t, w, &resp)
		assert.Equal(t, dto.HealthDegraded, resp.Status)
		assert.Equal(t, dto.HealthOK, resp.Checks["database"])
		assert.Equal(t, "unavailable", resp.Checks["redis"])
	})
}
