package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/config"
)

// Dedup lookup outcomes reported to a DedupObserver
const (
	DedupOutcomeNew       = "new"
	DedupOutcomeDuplicate = "duplicate"
	DedupOutcomeError     = "error"
)

const (
	dedupBackendMemory = "memory"
	dedupBackendRedis  = "redis"

	defaultDedupTTL      = 72 * time.Hour
	defaultSweepInterval = 5 * time.Minute
)

// DedupObserver receives one call per MarkProcessed
type DedupObserver interface {
	ObserveDedup(backend, outcome string)
}

// DedupStats is a point-in-time view of an in-memory dedup store
type DedupStats struct {
	Keys       int
	New        int64
	Duplicates int64
	Swept      int64
}

// InMemoryDedupStore remembers delivery keys in process memory.
// Keys are not shared across instances, so it only fits single-node setups and tests.
type InMemoryDedupStore struct {
	ttl      time.Duration
	sweep    time.Duration
	clock    shared.Clock
	observer DedupObserver

	mu     sync.Mutex
	expiry map[string]time.Time

	newCount  atomic.Int64
	dupCount  atomic.Int64
	sweptKeys atomic.Int64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// InMemoryDedupOption configures an InMemoryDedupStore
type InMemoryDedupOption func(*InMemoryDedupStore)

// WithDedupClock replaces the wall clock
func WithDedupClock(clock shared.Clock) InMemoryDedupOption {
	return func(s *InMemoryDedupStore) { s.clock = clock }
}

// WithMemoryDedupObserver reports each MarkProcessed outcome
func WithMemoryDedupObserver(observer DedupObserver) InMemoryDedupOption {
	return func(s *InMemoryDedupStore) { s.observer = observer }
}

// NewInMemoryDedupStore starts a store whose keys default to cfg.TTL and are
// swept every cfg.SweepInterval.
func NewInMemoryDedupStore(cfg config.DedupConfig, opts ...InMemoryDedupOption) *InMemoryDedupStore {
	s := &InMemoryDedupStore{
		ttl:    cfg.TTL,
		sweep:  cfg.SweepInterval,
		clock:  shared.SystemClock{},
		expiry: make(map[string]time.Time),
		stop:   make(chan struct{}),
	}
	if s.ttl <= 0 {
		s.ttl = defaultDedupTTL
	}
	if s.sweep <= 0 {
		s.sweep = defaultSweepInterval
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// MarkProcessed claims key until now+ttl. A non-positive ttl uses the store default.
func (s *InMemoryDedupStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock.Now()

	s.mu.Lock()
	expiresAt, held := s.expiry[key]
	duplicate := held && now.Before(expiresAt)
	if !duplicate {
		s.expiry[key] = now.Add(ttl)
	}
	s.mu.Unlock()

	if duplicate {
		s.dupCount.Add(1)
		s.observe(DedupOutcomeDuplicate)
		return false, nil
	}
	s.newCount.Add(1)
	s.observe(DedupOutcomeNew)
	return true, nil
}

// IsProcessed reports whether key is held and unexpired
func (s *InMemoryDedupStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, held := s.expiry[key]
	return held && s.clock.Now().Before(expiresAt), nil
}

// Forget releases key so a failed delivery is accepted on redelivery
func (s *InMemoryDedupStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.expiry, key)
	s.mu.Unlock()
	return nil
}

// Stats returns counters since the store started
func (s *InMemoryDedupStore) Stats() DedupStats {
	s.mu.Lock()
	keys := len(s.expiry)
	s.mu.Unlock()
	return DedupStats{
		Keys:       keys,
		New:        s.newCount.Load(),
		Duplicates: s.dupCount.Load(),
		Swept:      s.sweptKeys.Load(),
	}
}

// Close stops the sweeper; safe to call more than once
func (s *InMemoryDedupStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryDedupStore) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired drops expired keys and returns how many went
func (s *InMemoryDedupStore) sweepExpired() int {
	now := s.clock.Now()
	s.mu.Lock()
	removed := 0
	for key, expiresAt := range s.expiry {
		if !now.Before(expiresAt) {
			delete(s.expiry, key)
			removed++
		}
	}
	s.mu.Unlock()
	s.sweptKeys.Add(int64(removed))
	return removed
}

func (s *InMemoryDedupStore) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveDedup(dedupBackendMemory, outcome)
	}
}

var _ shared.IdempotencyStore = (*InMemoryDedupStore)(nil)
