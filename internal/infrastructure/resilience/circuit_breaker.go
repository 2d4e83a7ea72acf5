package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

const breakerKeyPrefix = "breaker:"

// StateChangeFunc is called after a breaker transition is stored
type StateChangeFunc func(m integration.MarketplaceID, from, to integration.BreakerState)

// CircuitBreaker isolates failing marketplaces. The open to half_open move is
// computed when state is read, so no background timer is needed.
type CircuitBreaker struct {
	store    integration.StateStore
	defaults integration.BreakerConfig
	clock    shared.Clock
	logger   *zap.Logger

	mu        sync.RWMutex
	configs   map[integration.MarketplaceID]integration.BreakerConfig
	listeners []StateChangeFunc
}

// NewCircuitBreaker creates a circuit breaker registry backed by store
func NewCircuitBreaker(store integration.StateStore, defaults integration.BreakerConfig, clock shared.Clock, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Validate() != nil {
		defaults = integration.DefaultBreakerConfig()
	}
	return &CircuitBreaker{
		store:    store,
		defaults: defaults,
		clock:    shared.ClockOrSystem(clock),
		logger:   logger,
		configs:  make(map[integration.MarketplaceID]integration.BreakerConfig),
	}
}

// SetConfig overrides the breaker configuration of one marketplace
func (cb *CircuitBreaker) SetConfig(m integration.MarketplaceID, cfg integration.BreakerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.configs[m] = cfg
	return nil
}

// Config returns the effective configuration for m
func (cb *CircuitBreaker) Config(m integration.MarketplaceID) integration.BreakerConfig {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cfg, ok := cb.configs[m]; ok {
		return cfg
	}
	return cb.defaults
}

// OnStateChange registers a transition listener
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, fn)
}

// GetState returns the current state, applying an elapsed cooldown.
// A store failure reports closed.
func (cb *CircuitBreaker) GetState(ctx context.Context, m integration.MarketplaceID) integration.BreakerState {
	snap, err := cb.Snapshot(ctx, m)
	if err != nil {
		cb.logger.Warn("circuit breaker state unavailable, assuming closed",
			zap.String("marketplace", m.String()),
			zap.Error(err),
		)
		return integration.BreakerClosed
	}
	return snap.State
}

// Snapshot returns the stored breaker with the lazy cooldown applied
func (cb *CircuitBreaker) Snapshot(ctx context.Context, m integration.MarketplaceID) (integration.BreakerSnapshot, error) {
	var out integration.BreakerSnapshot
	err := cb.mutate(ctx, m, func(b *integration.BreakerSnapshot, _ integration.BreakerConfig) {
		out = *b
	})
	return out, err
}

// Allow returns a CircuitBreakerError when m must not be called now.
// In half_open it reserves one of the trial slots; the slot is returned by
// RecordSuccess, RecordFailure or Release.
func (cb *CircuitBreaker) Allow(ctx context.Context, m integration.MarketplaceID) error {
	var denied *integration.CircuitBreakerError
	err := cb.mutate(ctx, m, func(b *integration.BreakerSnapshot, cfg integration.BreakerConfig) {
		denied = nil
		switch b.State {
		case integration.BreakerOpen:
			denied = &integration.CircuitBreakerError{Marketplace: m, RetryAfter: b.RetryAfter(cfg, cb.clock.Now())}
		case integration.BreakerHalfOpen:
			if b.HalfOpenInFlight >= cfg.HalfOpenMaxRequests {
				denied = &integration.CircuitBreakerError{Marketplace: m}
				return
			}
			b.HalfOpenInFlight++
		}
	})
	if err != nil {
		cb.logger.Warn("circuit breaker check failed, allowing call",
			zap.String("marketplace", m.String()),
			zap.Error(err),
		)
		return nil
	}
	if denied != nil {
		return denied
	}
	return nil
}

// CanMakeHalfOpenRequest reserves a trial slot while half open.
// It returns false in any other state or when every slot is taken.
func (cb *CircuitBreaker) CanMakeHalfOpenRequest(ctx context.Context, m integration.MarketplaceID) bool {
	reserved := false
	err := cb.mutate(ctx, m, func(b *integration.BreakerSnapshot, cfg integration.BreakerConfig) {
		reserved = false
		if b.State == integration.BreakerHalfOpen && b.HalfOpenInFlight < cfg.HalfOpenMaxRequests {
			b.HalfOpenInFlight++
			reserved = true
		}
	})
	return err == nil && reserved
}

// Release returns a trial slot without counting an outcome
func (cb *CircuitBreaker) Release(ctx context.Context, m integration.MarketplaceID) {
	err := cb.mutate(ctx, m, func(b *integration.BreakerSnapshot, _ integration.BreakerConfig) {
		if b.State == integration.BreakerHalfOpen && b.HalfOpenInFlight > 0 {
			b.HalfOpenInFlight--
		}
	})
	if err != nil {
		cb.logger.Warn("failed to release circuit breaker slot", zap.String("marketplace", m.String()), zap.Error(err))
	}
}

// RecordSuccess counts a successful call
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, m integration.MarketplaceID) {
	err := cb.mutate(ctx, m, func(b *integration.BreakerSnapshot, cfg integration.BreakerConfig) {
		switch b.State {
		case integration.BreakerClosed:
			b.ConsecutiveFailures = 0
		case integration.BreakerHalfOpen:
			if b.HalfOpenInFlight > 0 {
				b.HalfOpenInFlight--
			}
			b.ConsecutiveSuccesses++
			if b.ConsecutiveSuccesses >= cfg.SuccessThreshold {
				_ = b.TransitionTo(integration.BreakerClosed, cb.clock.Now())
			}
		}
	})
	if err != nil {
		cb.logger.Warn("failed to record circuit breaker success", zap.String("marketplace", m.String()), zap.Error(err))
	}
}

// RecordFailure counts a failed call. Any trial failure reopens the breaker.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, m integration.MarketplaceID) {
	err := cb.mutate(ctx, m, func(b *integration.BreakerSnapshot, cfg integration.BreakerConfig) {
		b.ConsecutiveFailures++
		switch b.State {
		case integration.BreakerClosed:
			if b.ConsecutiveFailures >= cfg.FailureThreshold {
				_ = b.TransitionTo(integration.BreakerOpen, cb.clock.Now())
			}
		case integration.BreakerHalfOpen:
			_ = b.TransitionTo(integration.BreakerOpen, cb.clock.Now())
		}
	})
	if err != nil {
		cb.logger.Warn("failed to record circuit breaker failure", zap.String("marketplace", m.String()), zap.Error(err))
	}
}

// Reset forgets the breaker state of m
func (cb *CircuitBreaker) Reset(ctx context.Context, m integration.MarketplaceID) error {
	return cb.store.Delete(ctx, breakerKeyPrefix+string(m))
}

// mutate loads the snapshot, applies the lazy cooldown and fn, stores the result
// and notifies listeners of any transition
func (cb *CircuitBreaker) mutate(ctx context.Context, m integration.MarketplaceID, fn func(*integration.BreakerSnapshot, integration.BreakerConfig)) error {
	cfg := cb.Config(m)
	key := breakerKeyPrefix + string(m)

	var from, to integration.BreakerState
	err := cb.store.Update(ctx, key, func(current []byte) ([]byte, error) {
		now := cb.clock.Now()
		b, err := decodeBreaker(current, key, now)
		if err != nil {
			return nil, err
		}
		from = b.State
		b.Effective(cfg, now)
		fn(b, cfg)
		to = b.State
		return json.Marshal(b)
	})
	if err != nil {
		return err
	}
	if from != to {
		cb.notify(m, from, to)
	}
	return nil
}

func (cb *CircuitBreaker) notify(m integration.MarketplaceID, from, to integration.BreakerState) {
	cb.logger.Info("circuit breaker state changed",
		zap.String("marketplace", m.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	cb.mu.RLock()
	listeners := append([]StateChangeFunc(nil), cb.listeners...)
	cb.mu.RUnlock()
	for _, fn := range listeners {
		fn(m, from, to)
	}
}

func decodeBreaker(raw []byte, key string, now time.Time) (*integration.BreakerSnapshot, error) {
	if raw == nil {
		return integration.NewBreakerSnapshot(key, now), nil
	}
	var b integration.BreakerSnapshot
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode breaker state %s: %w", key, err)
	}
	if !b.State.IsValid() {
		return integration.NewBreakerSnapshot(key, now), nil
	}
	return &b, nil
}
