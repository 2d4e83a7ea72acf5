package dto

import "github.com/shopspring/decimal"

// SyncOperationResponse is the outcome of one target marketplace in a sync job
type SyncOperationResponse struct {
	Marketplace      string `json:"marketplace" example:"poshmark"`
	ExternalID       string `json:"external_id" example:"pm-123"`
	Status           string `json:"status" example:"success" enums:"pending,success,failed,skipped"`
	Error            string `json:"error,omitempty"`
	Category         string `json:"category,omitempty" example:"rate_limit"`
	RetryJobID       string `json:"retry_job_id,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms" example:"230"`
	UpdatedAt        string `json:"updated_at" example:"2026-03-01T12:00:00Z"`
}

// SyncJobResponse represents a sync job in API responses
type SyncJobResponse struct {
	ID              string                  `json:"id"`
	ListingID       string                  `json:"listing_id"`
	UserID          string                  `json:"user_id"`
	SoldMarketplace string                  `json:"sold_marketplace" example:"ebay"`
	SalePrice       decimal.Decimal         `json:"sale_price" example:"42.50"`
	Status          string                  `json:"status" example:"partial" enums:"processing,completed,partial,failed"`
	SuccessCount    int                     `json:"success_count"`
	FailedCount     int                     `json:"failed_count"`
	SkippedCount    int                     `json:"skipped_count"`
	Operations      []SyncOperationResponse `json:"operations"`
	StartedAt       string                  `json:"started_at"`
	CompletedAt     string                  `json:"completed_at,omitempty"`
}

// AuditRecordResponse is one status change of a sync operation
type AuditRecordResponse struct {
	ID                string `json:"id"`
	SourceMarketplace string `json:"source_marketplace" example:"ebay"`
	TargetMarketplace string `json:"target_marketplace" example:"poshmark"`
	Action            string `json:"action" example:"delist"`
	PriorStatus       string `json:"prior_status" example:"pending"`
	NewStatus         string `json:"new_status" example:"success"`
	Error             string `json:"error,omitempty"`
	CreatedAt         string `json:"created_at"`
}
