package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

// Priority orders outbound work when pacing calls
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// Priority multiplier bounds
const (
	minPriorityMultiplier = 0.25
	maxPriorityMultiplier = 2.0
)

// RateLimiterConfig tunes admission and pacing
type RateLimiterConfig struct {
	// ThrottleThreshold is the utilization above which admitted calls get an extra delay
	ThrottleThreshold float64
	// MaxThrottleDelay is the extra delay at 100% utilization
	MaxThrottleDelay time.Duration
	// PacingThreshold is the utilization above which OptimalDelay spreads calls over the window
	PacingThreshold float64
	// Base429Backoff is the first block after a 429 without Retry-After
	Base429Backoff time.Duration
	// Max429Backoff caps the block after repeated 429s
	Max429Backoff time.Duration
	// KeyPrefix namespaces limiter state in the store
	KeyPrefix string
}

// DefaultRateLimiterConfig returns the default limiter configuration
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		ThrottleThreshold: 0.8,
		MaxThrottleDelay:  30 * time.Second,
		PacingThreshold:   0.5,
		Base429Backoff:    5 * time.Second,
		Max429Backoff:     15 * time.Minute,
		KeyPrefix:         "ratelimit:",
	}
}

// RateLimiter admits outbound calls against per-marketplace minute, hour and day
// windows. State lives in a StateStore so it is shared by workers and instances.
// Store failures fail open.
type RateLimiter struct {
	store  integration.StateStore
	limits *LimitTable
	cfg    RateLimiterConfig
	clock  shared.Clock
	logger *zap.Logger
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(store integration.StateStore, limits *LimitTable, cfg RateLimiterConfig, clock shared.Clock, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = NewLimitTable()
	}
	defaults := DefaultRateLimiterConfig()
	if cfg.ThrottleThreshold <= 0 || cfg.ThrottleThreshold >= 1 {
		cfg.ThrottleThreshold = defaults.ThrottleThreshold
	}
	if cfg.MaxThrottleDelay <= 0 {
		cfg.MaxThrottleDelay = defaults.MaxThrottleDelay
	}
	if cfg.PacingThreshold <= 0 || cfg.PacingThreshold > 1 {
		cfg.PacingThreshold = defaults.PacingThreshold
	}
	if cfg.Base429Backoff <= 0 {
		cfg.Base429Backoff = defaults.Base429Backoff
	}
	if cfg.Max429Backoff < cfg.Base429Backoff {
		cfg.Max429Backoff = defaults.Max429Backoff
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	return &RateLimiter{
		store:  store,
		limits: limits,
		cfg:    cfg,
		clock:  shared.ClockOrSystem(clock),
		logger: logger,
	}
}

// Limits returns the limit table
func (l *RateLimiter) Limits() *LimitTable {
	return l.limits
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

// CheckAdmission decides whether a call to m may start now.
// It denies while any window is exhausted or a provider 429 block is active,
// waiting for the earliest reset among the exhausted windows, and adds a quadratic throttle delay once utilization passes the threshold.
func (l *RateLimiter) CheckAdmission(ctx context.Context, m integration.MarketplaceID, userID string) integration.Admission {
	now := l.clock.Now()
	cfg, key := l.limits.Resolve(m, userID)

	state, err := l.load(ctx, key, now)
	if err != nil {
		l.logger.Warn("rate limiter state unavailable, admitting call",
			zap.String("marketplace", m.String()),
			zap.String("key", key),
			zap.Error(err),
		)
		return integration.Admission{Allowed: true, Reasoning: "rate limiter unavailable, failing open"}
	}

	if state.Blocked {
		return integration.Admission{
			Allowed:     false,
			WaitTime:    state.BlockedUntil.Sub(now),
			Reasoning:   "blocked after provider rate limit response",
			Utilization: 1,
		}
	}

	var (
		maxUtil   float64
		wait      time.Duration
		exhausted []string
	)
	for _, u := range state.Usage(cfg, now) {
		if u.Utilization > maxUtil {
			maxUtil = u.Utilization
		}
		if u.Count >= u.Limit {
			exhausted = append(exhausted, fmt.Sprintf("%s window exhausted (%d/%d)", u.Kind, u.Count, u.Limit))
			if len(exhausted) == 1 || u.ResetIn < wait {
				wait = u.ResetIn
			}
		}
	}
	if len(exhausted) > 0 {
		return integration.Admission{
			Allowed:     false,
			WaitTime:    wait,
			Reasoning:   strings.Join(exhausted, "; "),
			Utilization: maxUtil,
		}
	}

	adm := integration.Admission{Allowed: true, Utilization: maxUtil, Reasoning: "within limits"}
	if delay := l.ThrottleDelay(maxUtil); delay > 0 {
		adm.WaitTime = delay
		adm.Reasoning = fmt.Sprintf("throttling at %.0f%% utilization", maxUtil*100)
	}
	return adm
}

// ThrottleDelay grows quadratically from zero at the threshold to MaxThrottleDelay at full utilization
func (l *RateLimiter) ThrottleDelay(utilization float64) time.Duration {
	th := l.cfg.ThrottleThreshold
	if utilization <= th {
		return 0
	}
	frac := (utilization - th) / (1 - th)
	if frac > 1 {
		frac = 1
	}
	return time.Duration(frac * frac * float64(l.cfg.MaxThrottleDelay))
}

// ---------------------------------------------------------------------------
// Recording
// ---------------------------------------------------------------------------

// RecordRequest counts a completed call. Authoritative provider headers replace
// the local count of the matching window.
func (l *RateLimiter) RecordRequest(ctx context.Context, m integration.MarketplaceID, userID string, success bool, headers *integration.LimitHeaders) {
	now := l.clock.Now()
	cfg, key := l.limits.Resolve(m, userID)

	err := l.mutate(ctx, key, now, func(s *integration.WindowState) {
		s.Increment(now)
		if headers != nil && !headers.IsEmpty() {
			s.Reconcile(cfg, *headers, now)
		}
		if success {
			s.Consecutive429 = 0
		}
	})
	if err != nil {
		l.logger.Warn("failed to record rate limited request",
			zap.String("marketplace", m.String()),
			zap.Error(err),
		)
	}
}

// HandleRateLimitHit blocks the key after a provider 429 and returns the backoff.
// Retry-After wins, then the reset header, then exponential backoff on the 429 streak.
func (l *RateLimiter) HandleRateLimitHit(ctx context.Context, m integration.MarketplaceID, userID string, headers integration.LimitHeaders) time.Duration {
	now := l.clock.Now()
	cfg, key := l.limits.Resolve(m, userID)

	var backoff time.Duration
	err := l.mutate(ctx, key, now, func(s *integration.WindowState) {
		s.Consecutive429++
		s.Last429At = now
		backoff = l.backoffFor429(headers, s.Consecutive429, now)
		if headers.Remaining != nil {
			s.Reconcile(cfg, headers, now)
		}
		s.Block(now.Add(backoff))
	})
	if err != nil {
		backoff = l.backoffFor429(headers, 1, now)
		l.logger.Warn("failed to record provider rate limit",
			zap.String("marketplace", m.String()),
			zap.Error(err),
		)
	}

	l.logger.Info("marketplace rate limit hit",
		zap.String("marketplace", m.String()),
		zap.String("key", key),
		zap.Duration("backoff", backoff),
	)
	return backoff
}

func (l *RateLimiter) backoffFor429(h integration.LimitHeaders, streak int, now time.Time) time.Duration {
	if h.RetryAfter != nil {
		return *h.RetryAfter
	}
	if h.Reset != nil && h.Reset.After(now) {
		return h.Reset.Sub(now)
	}
	if streak < 1 {
		streak = 1
	}
	d := float64(l.cfg.Base429Backoff) * math.Pow(2, float64(streak-1))
	if d > float64(l.cfg.Max429Backoff) {
		return l.cfg.Max429Backoff
	}
	return time.Duration(d)
}

// ---------------------------------------------------------------------------
// Pacing
// ---------------------------------------------------------------------------

// OptimalDelay returns how long to wait before a call so the remaining allowance
// of the tightest window lasts until it resets. Higher priority waits less.
func (l *RateLimiter) OptimalDelay(ctx context.Context, m integration.MarketplaceID, userID string, p Priority) time.Duration {
	now := l.clock.Now()
	cfg, key := l.limits.Resolve(m, userID)

	state, err := l.load(ctx, key, now)
	if err != nil {
		return 0
	}
	if state.Blocked {
		return state.BlockedUntil.Sub(now)
	}

	var tightest *integration.WindowUsage
	usage := state.Usage(cfg, now)
	for i := range usage {
		if tightest == nil || usage[i].Utilization > tightest.Utilization {
			tightest = &usage[i]
		}
	}
	if tightest == nil {
		return 0
	}
	if tightest.Count >= tightest.Limit {
		return tightest.ResetIn
	}

	throttle := l.ThrottleDelay(tightest.Utilization)
	if tightest.Utilization < l.cfg.PacingThreshold || (state.Minute.Count < cfg.Burst && throttle == 0) {
		return throttle
	}

	remaining := tightest.Limit - tightest.Count
	spacing := float64(tightest.ResetIn) / float64(remaining)
	delay := time.Duration(spacing*priorityMultiplier(p, cfg.PriorityWeight)) + throttle
	if delay > tightest.ResetIn {
		delay = tightest.ResetIn
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func priorityMultiplier(p Priority, weight float64) float64 {
	if p <= 0 {
		p = PriorityNormal
	}
	if weight <= 0 {
		weight = 1
	}
	m := float64(PriorityNormal) / (float64(p) * weight)
	return math.Max(minPriorityMultiplier, math.Min(maxPriorityMultiplier, m))
}

// Usage reports current utilization per window
func (l *RateLimiter) Usage(ctx context.Context, m integration.MarketplaceID, userID string) ([]integration.WindowUsage, error) {
	now := l.clock.Now()
	cfg, key := l.limits.Resolve(m, userID)
	state, err := l.load(ctx, key, now)
	if err != nil {
		return nil, err
	}
	return state.Usage(cfg, now), nil
}

// ---------------------------------------------------------------------------
// State access
// ---------------------------------------------------------------------------

func (l *RateLimiter) load(ctx context.Context, key string, now time.Time) (*integration.WindowState, error) {
	raw, err := l.store.Get(ctx, l.cfg.KeyPrefix+key)
	if err != nil {
		return nil, err
	}
	state, err := decodeWindowState(raw, key, now)
	if err != nil {
		return nil, err
	}
	state.Roll(now)
	return state, nil
}

func (l *RateLimiter) mutate(ctx context.Context, key string, now time.Time, fn func(*integration.WindowState)) error {
	return l.store.Update(ctx, l.cfg.KeyPrefix+key, func(current []byte) ([]byte, error) {
		state, err := decodeWindowState(current, key, now)
		if err != nil {
			return nil, err
		}
		state.Roll(now)
		fn(state)
		return json.Marshal(state)
	})
}

func decodeWindowState(raw []byte, key string, now time.Time) (*integration.WindowState, error) {
	if raw == nil {
		return integration.NewWindowState(key, now), nil
	}
	var state integration.WindowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode limiter state %s: %w", key, err)
	}
	return &state, nil
}
