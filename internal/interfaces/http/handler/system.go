package handler

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

// SystemName is reported by /system/info
const SystemName = "Crosslist API"

// MarketplaceLister lists the configured marketplaces
type MarketplaceLister interface {
	List() []integration.MarketplaceID
}

// SystemHandler serves process information
type SystemHandler struct {
	BaseHandler
	marketplaces MarketplaceLister
	clock        shared.Clock
	startedAt    time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(marketplaces MarketplaceLister, clock shared.Clock) *SystemHandler {
	return &SystemHandler{
		marketplaces: marketplaces,
		clock:        clock,
		startedAt:    clock.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	GoVersion    string   `json:"go_version"`
	StartedAt    string   `json:"started_at"`
	Uptime       string   `json:"uptime"`
	Marketplaces []string `json:"marketplaces"`
}

// GetSystemInfo godoc
// @ID           getSystemInfo
// @Summary      Get system information
// @Description  Returns the service name, configured marketplaces and uptime
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=SystemInfoResponse}
// @Router       /api/v1/system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	names := []string{}
	if h.marketplaces != nil {
		for _, m := range h.marketplaces.List() {
			names = append(names, string(m))
		}
	}
	h.Success(c, SystemInfoResponse{
		Name:         SystemName,
		Version:      telemetry.ServiceVersion,
		GoVersion:    runtime.Version(),
		StartedAt:    h.startedAt.UTC().Format(time.RFC3339),
		Uptime:       h.clock.Now().Sub(h.startedAt).Round(time.Second).String(),
		Marketplaces: names,
	})
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping godoc
// @ID           pingSystem
// @Summary      Ping the API
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=PingResponse}
// @Router       /api/v1/system/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
	})
}
