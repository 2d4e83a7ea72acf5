package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/application/monitor"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

// HealthReporter reports per-marketplace health
type HealthReporter interface {
	Health(ctx context.Context, check bool) ([]monitor.MarketplaceHealth, error)
	PendingDeadLetters(ctx context.Context) (int64, error)
}

// Pinger checks a backing dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and the marketplace health endpoint
type HealthHandler struct {
	BaseHandler
	reporter HealthReporter
	deps     map[string]Pinger
	now      func() time.Time
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(reporter HealthReporter) *HealthHandler {
	return &HealthHandler{reporter: reporter, deps: make(map[string]Pinger), now: time.Now}
}

// WithDependency adds a dependency checked by Live
func (h *HealthHandler) WithDependency(name string, p Pinger) *HealthHandler {
	h.deps[name] = p
	return h
}

// Live godoc
// @ID           getHealth
// @Summary      Liveness check
// @Description  Pings the backing dependencies; answers 503 when one fails
// @Tags         health
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.LivenessResponse}
// @Failure      503 {object} dto.Response{data=dto.LivenessResponse}
// @Router       /health [get]
func (h *HealthHandler) Live(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			logger.L(ctx).Warn("Dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = dto.HealthOK
	}

	resp := dto.LivenessResponse{Status: dto.HealthOK, Checks: checks}
	if !healthy {
		resp.Status = dto.HealthDegraded
		c.JSON(http.StatusServiceUnavailable, dto.NewSuccessResponse(resp))
		return
	}
	h.Success(c, resp)
}

// Get godoc
// @ID           getMarketplaceHealth
// @Summary      Marketplace health
// @Description  Reports breaker state and limiter usage per marketplace. With check=true each
// @Description  marketplace also gets a live connection test.
// @Tags         health
// @Produce      json
// @Param        check query bool false "Run a live connection test"
// @Success      200 {object} dto.Response{data=dto.HealthResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      403 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /api/v1/marketplaces/health [get]
func (h *HealthHandler) Get(c *gin.Context) {
	check, _ := strconv.ParseBool(c.Query("check"))
	ctx := c.Request.Context()

	health, err := h.reporter.Health(ctx, check)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	pending, err := h.reporter.PendingDeadLetters(ctx)
	if err != nil {
		logger.L(ctx).Warn("Pending dead-letter count unavailable", zap.Error(err))
	}

	h.Success(c, dto.HealthResponse{
		Status:             overallStatus(health),
		Marketplaces:       health,
		PendingDeadLetters: pending,
		CheckedAt:          formatTime(h.now()),
	})
}

// overallStatus is degraded when any breaker is not closed or any connection check failed
func overallStatus(health []monitor.MarketplaceHealth) string {
	for _, m := range health {
		if m.BreakerState != integration.BreakerClosed {
			return dto.HealthDegraded
		}
		if m.Check != nil && !m.Check.OK {
			return dto.HealthDegraded
		}
	}
	return dto.HealthOK
}
