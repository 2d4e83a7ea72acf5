package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crosslist/backend/internal/domain/integration"
)

// ErrStateContention is returned when an optimistic update keeps losing the race
var ErrStateContention = errors.New("cache: state update contention, retries exhausted")

const (
	defaultStateKeyPrefix  = "crosslist:state:"
	defaultStateTTL        = 48 * time.Hour
	defaultStateMaxRetries = 25
)

// RedisStateStore implements integration.StateStore on Redis so every instance
// shares limiter and breaker state. Updates use WATCH/MULTI optimistic locking.
type RedisStateStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	ttl        time.Duration
	maxRetries int
}

// NewRedisStateStore creates a Redis state store.
// Values expire after ttl of inactivity so abandoned keys do not pile up.
func NewRedisStateStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = defaultStateKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStateStore{
		client:     client,
		keyPrefix:  keyPrefix,
		ttl:        ttl,
		maxRetries: defaultStateMaxRetries,
	}
}

// Get returns the value stored under key, or nil when absent
func (s *RedisStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return v, nil
}

// Update applies fn inside a WATCH transaction, retrying when another writer wins
func (s *RedisStateStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	fullKey := s.keyPrefix + key

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, next, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, fullKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to update state %s: %w", key, err)
	}
	return ErrStateContention
}

// Delete removes key
func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete state %s: %w", key, err)
	}
	return nil
}

// Ensure RedisStateStore implements StateStore
var _ integration.StateStore = (*RedisStateStore)(nil)
