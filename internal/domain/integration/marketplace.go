package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrMarketplaceNotConfigured is returned when no client is registered for a marketplace
	ErrMarketplaceNotConfigured = errors.New("integration: marketplace not configured")
	// ErrMarketplaceNotConnected is returned when the seller has no live connection
	ErrMarketplaceNotConnected = errors.New("integration: marketplace not connected")
	// ErrInvalidSignature is returned when a webhook signature does not verify
	ErrInvalidSignature = errors.New("integration: invalid webhook signature")
	// ErrMissingSignature is returned when a webhook carries no signature
	ErrMissingSignature = errors.New("integration: missing webhook signature")
	// ErrUnrecognizedPayload is returned when a provider payload cannot be normalized
	ErrUnrecognizedPayload = errors.New("integration: unrecognized payload")
	// ErrUnsupportedAction is returned for an unknown call action
	ErrUnsupportedAction = errors.New("integration: unsupported call action")
	// ErrPollingNotSupported is returned when a client cannot be polled for sales
	ErrPollingNotSupported = errors.New("integration: polling not supported")
)

// ---------------------------------------------------------------------------
// MarketplaceID
// ---------------------------------------------------------------------------

// MarketplaceID identifies a third-party marketplace
type MarketplaceID string

const (
	MarketplaceEbay     MarketplaceID = "ebay"
	MarketplacePoshmark MarketplaceID = "poshmark"
	MarketplaceMercari  MarketplaceID = "mercari"
	MarketplaceDepop    MarketplaceID = "depop"
	MarketplaceEtsy     MarketplaceID = "etsy"
)

var marketplaceIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

var marketplaceDisplayNames = map[MarketplaceID]string{
	MarketplaceEbay:     "eBay",
	MarketplacePoshmark: "Poshmark",
	MarketplaceMercari:  "Mercari",
	MarketplaceDepop:    "Depop",
	MarketplaceEtsy:     "Etsy",
}

// IsValid returns true if the id is a well-formed marketplace key
func (m MarketplaceID) IsValid() bool {
	return marketplaceIDPattern.MatchString(string(m))
}

// String returns the string representation of MarketplaceID
func (m MarketplaceID) String() string {
	return string(m)
}

// DisplayName returns a human-readable name for the marketplace
func (m MarketplaceID) DisplayName() string {
	if name, ok := marketplaceDisplayNames[m]; ok {
		return name
	}
	return string(m)
}

// ScopeKey builds the state key for a marketplace, optionally narrowed to one user
func ScopeKey(m MarketplaceID, userID string) string {
	if userID == "" {
		return string(m)
	}
	return fmt.Sprintf("%s:%s", m, userID)
}

// ---------------------------------------------------------------------------
// Outbound calls
// ---------------------------------------------------------------------------

// CallAction names an outbound marketplace operation
type CallAction string

const (
	ActionCreateListing  CallAction = "create_listing"
	ActionUpdateListing  CallAction = "update_listing"
	ActionDeleteListing  CallAction = "delete_listing"
	ActionTestConnection CallAction = "test_connection"
)

// IsValid returns true if the action is known
func (a CallAction) IsValid() bool {
	switch a {
	case ActionCreateListing, ActionUpdateListing, ActionDeleteListing, ActionTestConnection:
		return true
	default:
		return false
	}
}

// Request is one outbound marketplace call
type Request struct {
	Marketplace MarketplaceID
	Action      CallAction
	// UserID scopes the call to one seller's connection and limits
	UserID     string
	ExternalID string
	Payload    map[string]any
}

// Response is a marketplace reply. Clients return a Response for every HTTP
// exchange that completed, whatever its status; transport failures are errors.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Latency    time.Duration
	// RateLimit is filled by the caller from provider headers
	RateLimit *LimitHeaders
}

// IsSuccess returns true for 2xx responses
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// MarketplaceClient is the capability interface every marketplace adapter implements.
// Payload mapping and OAuth live behind it.
type MarketplaceClient interface {
	// Marketplace returns the id this client serves
	Marketplace() MarketplaceID
	// CreateListing posts a new listing
	CreateListing(ctx context.Context, req Request) (*Response, error)
	// UpdateListing updates an existing listing
	UpdateListing(ctx context.Context, req Request) (*Response, error)
	// DeleteListing ends or removes a listing
	DeleteListing(ctx context.Context, req Request) (*Response, error)
	// TestConnection checks credentials and reachability
	TestConnection(ctx context.Context, req Request) (*Response, error)
}

// SalesPoller is implemented by clients that can be polled for recent sales
type SalesPoller interface {
	// PollSales returns notifications observed since the given time
	PollSales(ctx context.Context, userID string, since time.Time) ([]CanonicalEvent, error)
}

// Invoke dispatches req to the client method matching its action
func Invoke(ctx context.Context, client MarketplaceClient, req Request) (*Response, error) {
	switch req.Action {
	case ActionCreateListing:
		return client.CreateListing(ctx, req)
	case ActionUpdateListing:
		return client.UpdateListing(ctx, req)
	case ActionDeleteListing:
		return client.DeleteListing(ctx, req)
	case ActionTestConnection:
		return client.TestConnection(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, req.Action)
	}
}

// MarketplaceRegistry resolves clients and connection status by marketplace id
type MarketplaceRegistry interface {
	// Client returns the client for a marketplace or ErrMarketplaceNotConfigured
	Client(id MarketplaceID) (MarketplaceClient, error)
	// List returns every configured marketplace id in stable order
	List() []MarketplaceID
	// IsConnected reports whether the seller has a usable connection to the marketplace
	IsConnected(ctx context.Context, userID string, id MarketplaceID) (bool, error)
}
