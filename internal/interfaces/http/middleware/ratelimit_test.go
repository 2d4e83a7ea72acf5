package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIngressLimiter(t *testing.T) {
	t.Run("allows the burst then rejects", func(t *testing.T) {
		limiter := NewIngressLimiter(1, 3, shared.NewManualClock(testEpoch))

		for i := 0; i < 3; i++ {
			ok, _ := limiter.Allow("client")
			assert.True(t, ok, "request %d should be allowed", i+1)
		}
		ok, wait := limiter.Allow("client")
		assert.False(t, ok)
		assert.Equal(t, time.Second, wait)
	})

	t.Run("separate budgets per key", func(t *testing.T) {
		limiter := NewIngressLimiter(1, 1, shared.NewManualClock(testEpoch))

		ok, _ := limiter.Allow("a")
		assert.True(t, ok)
		ok, _ = limiter.Allow("a")
		assert.False(t, ok)
		ok, _ = limiter.Allow("b")
		assert.True(t, ok)
	})

	t.Run("refills over time", func(t *testing.T) {
		clock := shared.NewManualClock(testEpoch)
		limiter := NewIngressLimiter(2, 1, clock)

		ok, _ := limiter.Allow("client")
		assert.True(t, ok)
		ok, _ = limiter.Allow("client")
		assert.False(t, ok)

		clock.Advance(500 * time.Millisecond)
		ok, _ = limiter.Allow("client")
		assert.True(t, ok)
	})

	t.Run("rejected requests do not consume tokens", func(t *testing.T) {
		clock := shared.NewManualClock(testEpoch)
		limiter := NewIngressLimiter(1, 1, clock)

		ok, _ := limiter.Allow("client")
		assert.True(t, ok)
		for i := 0; i < 5; i++ {
			ok, _ = limiter.Allow("client")
			assert.False(t, ok)
		}
		clock.Advance(time.Second)
		ok, _ = limiter.Allow("client")
		assert.True(t, ok)
	})

	t.Run("drops idle keys", func(t *testing.T) {
		clock := shared.NewManualClock(testEpoch)
		limiter := NewIngressLimiter(1, 1, clock)

		limiter.Allow("old")
		clock.Advance(DefaultIdleTTL + time.Second)
		limiter.Allow("new")
		assert.Equal(t, 1, limiter.Size())
	})
}

func TestRateLimit(t *testing.T) {
	limiter := NewIngressLimiter(1, 2, shared.NewManualClock(testEpoch))
	router := gin.New()
	router.Use(RequestID())
	router.POST("/webhooks/:marketplace", RateLimit(limiter, MarketplaceIPKey), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(marketplace string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+marketplace, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("ebay").Code)
	assert.Equal(t, http.StatusOK, send("ebay").Code)

	w := send("ebay")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), dto.ErrCodeRateLimited)

	assert.Equal(t, http.StatusOK, send("etsy").Code)
}
