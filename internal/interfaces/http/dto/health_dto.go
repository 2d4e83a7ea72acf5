package dto

import "github.com/crosslist/backend/internal/application/monitor"

// Overall health states
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse is the per-marketplace health report
type HealthResponse struct {
	Status             string                      `json:"status" example:"ok" enums:"ok,degraded"`
	Marketplaces       []monitor.MarketplaceHealth `json:"marketplaces"`
	PendingDeadLetters int64                       `json:"pending_dead_letters"`
	CheckedAt          string                      `json:"checked_at"`
}

// LivenessResponse is the body of the liveness check
type LivenessResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}
