package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrListingNotFound is returned when a listing does not exist
	ErrListingNotFound = errors.New("integration: listing not found")
	// ErrListingPostNotFound is returned when a listing is not posted to a marketplace
	ErrListingPostNotFound = errors.New("integration: listing post not found")
)

// PostStatus is the status of a listing on one marketplace
type PostStatus string

const (
	PostStatusActive   PostStatus = "active"
	PostStatusSold     PostStatus = "sold"
	PostStatusDelisted PostStatus = "delisted"
	PostStatusError    PostStatus = "error"
)

// ListingPost is one marketplace copy of a listing
type ListingPost struct {
	Marketplace MarketplaceID
	ExternalID  string
	Status      PostStatus
	UpdatedAt   time.Time
}

// Listing is an item a user cross-lists
type Listing struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	Posts     []ListingPost
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Post returns the listing's post on a marketplace
func (l *Listing) Post(m MarketplaceID) (*ListingPost, bool) {
	for i := range l.Posts {
		if l.Posts[i].Marketplace == m {
			return &l.Posts[i], true
		}
	}
	return nil, false
}

// DelistTargets returns the active posts other than the sold marketplace
func (l *Listing) DelistTargets(sold MarketplaceID) []ListingPost {
	var targets []ListingPost
	for _, p := range l.Posts {
		if p.Marketplace == sold || p.Status != PostStatusActive {
			continue
		}
		targets = append(targets, p)
	}
	return targets
}

// ListingRepository is the storage collaborator for listings
type ListingRepository interface {
	// FindByID returns a listing with its posts or ErrListingNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*Listing, error)
	// FindByExternalID resolves a marketplace listing id to the listing
	FindByExternalID(ctx context.Context, m MarketplaceID, externalID string) (*Listing, error)
	// UpdatePostStatus sets the status of one post
	UpdatePostStatus(ctx context.Context, listingID uuid.UUID, m MarketplaceID, status PostStatus) error
	// Save inserts or updates a listing and its posts
	Save(ctx context.Context, listing *Listing) error
}
