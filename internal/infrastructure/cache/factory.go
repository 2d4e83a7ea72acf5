package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/config"
)

// ErrRedisUnavailable is returned when a Redis-backed store is required but no client is configured
var ErrRedisUnavailable = errors.New("cache: redis client not configured")

// StoreFactory creates state and dedup stores based on configuration
type StoreFactory struct {
	state                 config.StateConfig
	dedup                 config.DedupConfig
	client                redis.UniversalClient
	logger                *zap.Logger
	dedupObserver         DedupObserver
	allowInMemoryFallback bool

	dedupOnce  sync.Once
	dedupStore shared.IdempotencyStore
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithDedupObserver reports dedup outcomes from whichever store is built
func WithDedupObserver(observer DedupObserver) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.dedupObserver = observer
	}
}

// NewStoreFactory creates a new factory. client may be nil when Redis is disabled.
func NewStoreFactory(state config.StateConfig, dedup config.DedupConfig, client redis.UniversalClient, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		state:                 state,
		dedup:                 dedup,
		client:                client,
		logger:                zap.NewNop(),
		allowInMemoryFallback: state.AllowInMemoryFallback,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StateStore returns the store shared by the rate limiter and circuit breaker
func (f *StoreFactory) StateStore() (integration.StateStore, error) {
	if f.state.Backend != "redis" {
		f.logger.Info("using in-memory resilience state store")
		return NewInMemoryStateStore(), nil
	}
	if f.client != nil {
		f.logger.Info("using Redis resilience state store", zap.String("prefix", f.state.KeyPrefix))
		return NewRedisStateStore(f.client, f.state.KeyPrefix, f.state.TTL), nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for resilience state: %w", ErrRedisUnavailable)
	}
	// Each instance will enforce limits on its own traffic only
	f.logger.Warn("Redis unavailable, falling back to in-memory resilience state store")
	return NewInMemoryStateStore(), nil
}

// IdempotencyStore returns the dedup store shared by webhook ingest and the
// sale event handler. Redis is used whenever a client is available; the
// in-memory fallback does not share keys across instances.
func (f *StoreFactory) IdempotencyStore() shared.IdempotencyStore {
	f.dedupOnce.Do(func() {
		if f.client != nil {
			f.logger.Info("using Redis idempotency store", zap.String("prefix", f.dedup.KeyPrefix))
			f.dedupStore = NewRedisIdempotencyStore(f.client, f.dedup.KeyPrefix).WithObserver(f.dedupObserver)
			return
		}
		f.logger.Warn("Redis unavailable, using in-memory idempotency store. " +
			"This may cause duplicate event processing in distributed deployments.")
		opts := []InMemoryDedupOption{}
		if f.dedupObserver != nil {
			opts = append(opts, WithMemoryDedupObserver(f.dedupObserver))
		}
		f.dedupStore = NewInMemoryDedupStore(f.dedup, opts...)
	})
	return f.dedupStore
}
