package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testError string

func (e testError) Error() string { return string(e) }

const errStorage = testError("storage unavailable")

// memoryListings is an in-memory ListingRepository
type memoryListings struct {
	mu       sync.Mutex
	listings map[uuid.UUID]*integration.Listing
	saves    int
}

func newMemoryListings(listings ...*integration.Listing) *memoryListings {
	r := &memoryListings{listings: make(map[uuid.UUID]*integration.Listing)}
	for _, l := range listings {
		c := *l
		c.Posts = append([]integration.ListingPost(nil), l.Posts...)
		r.listings[l.ID] = &c
	}
	return r
}

func (r *memoryListings) FindByID(ctx context.Context, id uuid.UUID) (*integration.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, integration.ErrListingNotFound
	}
	c := *l
	return &c, nil
}

func (r *memoryListings) FindByExternalID(ctx context.Context, m integration.MarketplaceID, externalID string) (*integration.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listings {
		if p, ok := l.Post(m); ok && p.ExternalID == externalID {
			c := *l
			c.Posts = append([]integration.ListingPost(nil), l.Posts...)
			return &c, nil
		}
	}
	return nil, integration.ErrListingNotFound
}

func (r *memoryListings) UpdatePostStatus(ctx context.Context, listingID uuid.UUID, m integration.MarketplaceID, status integration.PostStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[listingID]
	if !ok {
		return integration.ErrListingNotFound
	}
	p, ok := l.Post(m)
	if !ok {
		return integration.ErrListingPostNotFound
	}
	p.Status = status
	return nil
}

func (r *memoryListings) Save(ctx context.Context, listing *integration.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	c := *listing
	c.Posts = append([]integration.ListingPost(nil), listing.Posts...)
	r.listings[listing.ID] = &c
	return nil
}

func (r *memoryListings) status(id uuid.UUID, m integration.MarketplaceID) integration.PostStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := r.listings[id].Post(m)
	return p.Status
}

// stubAdapter accepts deliveries whose signature header is "ok" and parses
// "<type>:<event id>:<external id>" bodies
type stubAdapter struct {
	marketplace integration.MarketplaceID
}

func (a stubAdapter) Verify(body []byte, header http.Header) error {
	switch header.Get("X-Signature") {
	case "":
		return integration.ErrMissingSignature
	case "ok":
		return nil
	default:
		return integration.ErrInvalidSignature
	}
}

func (a stubAdapter) Normalize(body []byte, receivedAt time.Time) (*integration.CanonicalEvent, error) {
	var typ, eventID, externalID string
	if _, err := fmt.Sscanf(string(body), "%s %s %s", &typ, &eventID, &externalID); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrUnrecognizedPayload, err)
	}
	evt := &integration.CanonicalEvent{
		Marketplace: a.marketplace,
		Type:        integration.EventType(typ),
		EventID:     eventID,
		ExternalID:  externalID,
		ReceivedAt:  receivedAt,
	}
	if !evt.Type.IsValid() {
		return nil, fmt.Errorf("%w: type %q", integration.ErrUnrecognizedPayload, typ)
	}
	if evt.IsSale() {
		evt.Sale = &integration.SaleData{TransactionID: "tx-" + eventID, Currency: "USD"}
	}
	return evt, nil
}

type stubWebhooks map[integration.MarketplaceID]integration.WebhookAdapter

func (w stubWebhooks) WebhookAdapter(id integration.MarketplaceID) (integration.WebhookAdapter, error) {
	a, ok := w[id]
	if !ok {
		return nil, integration.ErrMarketplaceNotConfigured
	}
	return a, nil
}

// MockSaleSink is a mock implementation of SaleSink
type MockSaleSink struct {
	mock.Mock
}

func (m *MockSaleSink) RecordSale(ctx context.Context, req orchestration.RecordSaleRequest) (*integration.SaleRecordedEvent, error) {
	args := m.Called(ctx, req)
	evt, _ := args.Get(0).(*integration.SaleRecordedEvent)
	return evt, args.Error(1)
}

// failingDedup fails every MarkProcessed
type failingDedup struct{}

func (failingDedup) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errStorage
}
func (failingDedup) IsProcessed(ctx context.Context, key string) (bool, error) { return false, nil }
func (failingDedup) Forget(ctx context.Context, key string) error               { return nil }
func (failingDedup) Close() error                                               { return nil }

// recordingObserver keeps inbound outcomes
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveInbound(m integration.MarketplaceID, source integration.EventSource, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, string(source)+":"+outcome)
}

// stubPoller returns fixed events or an error
type stubPoller struct {
	mu     sync.Mutex
	events []integration.CanonicalEvent
	err    error
	since  []time.Time
}

func (p *stubPoller) PollSales(ctx context.Context, userID string, since time.Time) ([]integration.CanonicalEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.since = append(p.since, since)
	if p.err != nil {
		return nil, p.err
	}
	return append([]integration.CanonicalEvent(nil), p.events...), nil
}

// stubPollers maps marketplaces to pollers; a nil poller means polling is unsupported
type stubPollers struct {
	pollers map[integration.MarketplaceID]*stubPoller
	users   map[integration.MarketplaceID][]string
}

func (r *stubPollers) List() []integration.MarketplaceID {
	ids := make([]integration.MarketplaceID, 0, len(r.pollers))
	for id := range r.pollers {
		ids = append(ids, id)
	}
	return ids
}

func (r *stubPollers) Poller(id integration.MarketplaceID) (integration.SalesPoller, error) {
	p, ok := r.pollers[id]
	if !ok {
		return nil, integration.ErrMarketplaceNotConfigured
	}
	if p == nil {
		return nil, integration.ErrPollingNotSupported
	}
	return p, nil
}

func (r *stubPollers) ConnectedUsers(id integration.MarketplaceID) []string {
	return r.users[id]
}

// memorySchedules is an in-memory PollScheduleRepository
type memorySchedules struct {
	mu        sync.Mutex
	schedules map[string]integration.PollSchedule
}

func newMemorySchedules() *memorySchedules {
	return &memorySchedules{schedules: make(map[string]integration.PollSchedule)}
}

func scheduleKey(m integration.MarketplaceID, userID string) string {
	return string(m) + "/" + userID
}

func (r *memorySchedules) Save(ctx context.Context, s *integration.PollSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[scheduleKey(s.Marketplace, s.UserID)] = *s
	return nil
}

func (r *memorySchedules) Find(ctx context.Context, m integration.MarketplaceID, userID string) (*integration.PollSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[scheduleKey(m, userID)]
	if !ok {
		return nil, integration.ErrPollScheduleNotFound
	}
	return &s, nil
}

func (r *memorySchedules) ListDue(ctx context.Context, now time.Time, limit int) ([]*integration.PollSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.PollSchedule
	for _, s := range r.schedules {
		if s.IsDue(now) {
			c := s
			out = append(out, &c)
		}
	}
	return out, nil
}

// stubGuard rejects calls while err is set and counts After calls
type stubGuard struct {
	mu     sync.Mutex
	err    error
	after  int
	failed int
}

func (g *stubGuard) Before(ctx context.Context, m integration.MarketplaceID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *stubGuard) After(ctx context.Context, m integration.MarketplaceID, userID string, callErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.after++
	if callErr != nil {
		g.failed++
	}
}
