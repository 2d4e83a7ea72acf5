package dto

import "github.com/shopspring/decimal"

// RecordSaleRequest records a sale observed outside the webhook and polling paths
type RecordSaleRequest struct {
	ListingID   string          `json:"listing_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Marketplace string          `json:"marketplace" binding:"required" example:"ebay"`
	Price       decimal.Decimal `json:"price" binding:"decimal_gte0" example:"42.50"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// RecordSaleResponse acknowledges a recorded sale; the delist sync runs asynchronously
type RecordSaleResponse struct {
	EventID         string          `json:"event_id" example:"7d0f5c1e-2b7a-4f7b-9f3e-1a2b3c4d5e6f"`
	ListingID       string          `json:"listing_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	SoldMarketplace string          `json:"sold_marketplace" example:"ebay"`
	SalePrice       decimal.Decimal `json:"sale_price" example:"42.50"`
	RecordedAt      string          `json:"recorded_at" example:"2026-03-01T12:00:00Z"`
}
