package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/crosslist/backend/internal/domain/integration"
)

// ListingModel is the persistence model for a cross-listed item
type ListingModel struct {
	ID        uuid.UUID          `gorm:"type:uuid;primaryKey"`
	UserID    string             `gorm:"type:varchar(64);not null;index"`
	Title     string             `gorm:"type:varchar(255);not null"`
	Posts     []ListingPostModel `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time          `gorm:"not null"`
	UpdatedAt time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ListingModel) TableName() string {
	return "listings"
}

// ListingPostModel is one marketplace copy of a listing
type ListingPostModel struct {
	ListingID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Marketplace string    `gorm:"type:varchar(32);primaryKey;index:idx_listing_posts_external,priority:1"`
	ExternalID  string    `gorm:"type:varchar(128);not null;index:idx_listing_posts_external,priority:2"`
	Status      string    `gorm:"type:varchar(20);not null;default:'active'"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ListingPostModel) TableName() string {
	return "listing_posts"
}

// ToDomain converts the persistence model to a domain Listing
func (m *ListingModel) ToDomain() *integration.Listing {
	l := &integration.Listing{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Posts:     make([]integration.ListingPost, 0, len(m.Posts)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, p := range m.Posts {
		l.Posts = append(l.Posts, integration.ListingPost{
			Marketplace: integration.MarketplaceID(p.Marketplace),
			ExternalID:  p.ExternalID,
			Status:      integration.PostStatus(p.Status),
			UpdatedAt:   p.UpdatedAt,
		})
	}
	return l
}

// ListingModelFromDomain creates a persistence model from a domain Listing
func ListingModelFromDomain(l *integration.Listing) *ListingModel {
	m := &ListingModel{
		ID:        l.ID,
		UserID:    l.UserID,
		Title:     l.Title,
		Posts:     make([]ListingPostModel, 0, len(l.Posts)),
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
	for _, p := range l.Posts {
		m.Posts = append(m.Posts, ListingPostModel{
			ListingID:   l.ID,
			Marketplace: string(p.Marketplace),
			ExternalID:  p.ExternalID,
			Status:      string(p.Status),
			UpdatedAt:   p.UpdatedAt,
		})
	}
	return m
}
