package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/cache"
)

var testEpoch = time.Date(2026, 7, 1, 10, 0, 30, 0, time.UTC)

// fakeClient answers every action with respond
type fakeClient struct {
	id      integration.MarketplaceID
	respond func(ctx context.Context, call int, req integration.Request) (*integration.Response, error)

	mu       sync.Mutex
	calls    int
	inFlight int
	maxInFly int
}

func (f *fakeClient) do(ctx context.Context, req integration.Request) (*integration.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFly {
		f.maxInFly = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return f.respond(ctx, call, req)
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) Marketplace() integration.MarketplaceID { return f.id }

func (f *fakeClient) CreateListing(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return f.do(ctx, req)
}

func (f *fakeClient) UpdateListing(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return f.do(ctx, req)
}

func (f *fakeClient) DeleteListing(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return f.do(ctx, req)
}

func (f *fakeClient) TestConnection(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return f.do(ctx, req)
}

func status(code int, header http.Header) func(context.Context, int, integration.Request) (*integration.Response, error) {
	return func(context.Context, int, integration.Request) (*integration.Response, error) {
		return &integration.Response{StatusCode: code, Header: header}, nil
	}
}

type fakeRegistry map[integration.MarketplaceID]integration.MarketplaceClient

func (r fakeRegistry) Client(id integration.MarketplaceID) (integration.MarketplaceClient, error) {
	if c, ok := r[id]; ok {
		return c, nil
	}
	return nil, integration.ErrMarketplaceNotConfigured
}

func (r fakeRegistry) List() []integration.MarketplaceID {
	out := make([]integration.MarketplaceID, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	return out
}

func (r fakeRegistry) IsConnected(context.Context, string, integration.MarketplaceID) (bool, error) {
	return true, nil
}

// sleepRecorder records requested delays without waiting
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// failingStore fails every operation
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }

func (failingStore) Update(context.Context, string, func([]byte) ([]byte, error)) error {
	return errStoreDown
}

func (failingStore) Delete(context.Context, string) error { return errStoreDown }

type testHarness struct {
	clock   *shared.ManualClock
	store   *cache.InMemoryStateStore
	limiter *RateLimiter
	breaker *CircuitBreaker
	caller  *RetryingCaller
	sleeps  *sleepRecorder
}

func newHarness(registry fakeRegistry, limits ...integration.LimitConfig) *testHarness {
	h := &testHarness{
		clock:  shared.NewManualClock(testEpoch),
		store:  cache.NewInMemoryStateStore(),
		sleeps: &sleepRecorder{},
	}
	h.limiter = NewRateLimiter(h.store, NewLimitTable(limits...), DefaultRateLimiterConfig(), h.clock, nil)
	h.breaker = NewCircuitBreaker(h.store, integration.DefaultBreakerConfig(), h.clock, nil)
	h.caller = NewRetryingCaller(registry, h.limiter, h.breaker, DefaultCallerConfig(), nil,
		WithSleep(h.sleeps.Sleep),
		WithJitter(func() float64 { return 0.5 }),
		WithClock(h.clock),
	)
	return h
}
