package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

type staticMarketplaces []integration.MarketplaceID

func (s staticMarketplaces) List() []integration.MarketplaceID { return s }

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	started := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	clock := shared.NewManualClock(started)
	h := NewSystemHandler(staticMarketplaces{integration.MarketplaceEbay, integration.MarketplacePoshmark}, clock)
	clock.Advance(90 * time.Minute)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/system/info", nil)
	h.GetSystemInfo(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var info SystemInfoResponse
	decodeData(t, w, &info)
	assert.Equal(t, SystemName, info.Name)
	assert.Equal(t, telemetry.ServiceVersion, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Equal(t, "2026-05-04T09:00:00Z", info.StartedAt)
	assert.Equal(t, "1h30m0s", info.Uptime)
	assert.ElementsMatch(t, []string{"ebay", "poshmark"}, info.Marketplaces)
}

func TestSystemHandler_GetSystemInfo_NoMarketplaces(t *testing.T) {
	h := NewSystemHandler(nil, shared.NewManualClock(time.Now()))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/system/info", nil)
	h.GetSystemInfo(c)

	var info SystemInfoResponse
	decodeData(t, w, &info)
	assert.NotNil(t, info.Marketplaces)
	assert.Empty(t, info.Marketplaces)
}

func TestSystemHandler_Ping(t *testing.T) {
	clock := shared.NewManualClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	h := NewSystemHandler(nil, clock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/system/ping", nil)
	h.Ping(c)

	var pong PingResponse
	decodeData(t, w, &pong)
	assert.Equal(t, "pong", pong.Message)
	assert.Equal(t, "2026-05-04T09:00:00Z", pong.Timestamp)
}
