package integration

import (
	"errors"
	"time"
)

// BreakerState is the state of a marketplace circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// IsValid returns true if the state is known
func (s BreakerState) IsValid() bool {
	switch s {
	case BreakerClosed, BreakerOpen, BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is reachable from s.
// The only transitions are closed->open, open->half_open,
// half_open->closed and half_open->open.
func (s BreakerState) CanTransitionTo(next BreakerState) bool {
	switch s {
	case BreakerClosed:
		return next == BreakerOpen
	case BreakerOpen:
		return next == BreakerHalfOpen
	case BreakerHalfOpen:
		return next == BreakerClosed || next == BreakerOpen
	default:
		return false
	}
}

// ErrInvalidBreakerTransition is returned for a transition outside the state machine
var ErrInvalidBreakerTransition = errors.New("integration: invalid circuit breaker transition")

// BreakerConfig tunes one marketplace's breaker
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`
	// SuccessThreshold is the number of consecutive trial successes that closes it
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold" validate:"gte=1"`
	// Cooldown is how long the breaker stays open before admitting trials
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" validate:"gt=0"`
	// HalfOpenMaxRequests is the number of concurrent trial calls admitted while half open
	HalfOpenMaxRequests int `json:"half_open_max_requests" yaml:"half_open_max_requests" validate:"gte=1"`
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate validates the breaker configuration
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 || c.SuccessThreshold < 1 || c.HalfOpenMaxRequests < 1 {
		return errors.New("integration: breaker thresholds must be at least 1")
	}
	if c.Cooldown <= 0 {
		return errors.New("integration: breaker cooldown must be positive")
	}
	return nil
}

// BreakerSnapshot is the persisted state of one marketplace breaker.
// It is an advisory liveness signal, never business data.
type BreakerSnapshot struct {
	Key                  string       `json:"key"`
	State                BreakerState `json:"state"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	LastTransitionAt     time.Time    `json:"last_transition_at"`
	HalfOpenInFlight     int          `json:"half_open_in_flight"`
}

// NewBreakerSnapshot returns a closed breaker
func NewBreakerSnapshot(key string, now time.Time) *BreakerSnapshot {
	return &BreakerSnapshot{Key: key, State: BreakerClosed, LastTransitionAt: now}
}

// TransitionTo moves the breaker to next, resetting the counters the new state owns
func (b *BreakerSnapshot) TransitionTo(next BreakerState, now time.Time) error {
	if !b.State.CanTransitionTo(next) {
		return ErrInvalidBreakerTransition
	}
	b.State = next
	b.LastTransitionAt = now
	b.ConsecutiveSuccesses = 0
	b.HalfOpenInFlight = 0
	if next == BreakerClosed {
		b.ConsecutiveFailures = 0
	}
	return nil
}

// Effective applies the lazy open->half_open transition once the cooldown elapsed
func (b *BreakerSnapshot) Effective(cfg BreakerConfig, now time.Time) {
	if b.State == BreakerOpen && !now.Before(b.LastTransitionAt.Add(cfg.Cooldown)) {
		_ = b.TransitionTo(BreakerHalfOpen, now)
	}
}

// RetryAfter returns the remaining cooldown for an open breaker
func (b *BreakerSnapshot) RetryAfter(cfg BreakerConfig, now time.Time) time.Duration {
	if b.State != BreakerOpen {
		return 0
	}
	d := b.LastTransitionAt.Add(cfg.Cooldown).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
