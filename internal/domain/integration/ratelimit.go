package integration

import (
	"context"
	"errors"
	"time"
)

// ---------------------------------------------------------------------------
// Limit configuration
// ---------------------------------------------------------------------------

// LimitConfig holds the published request limits for one marketplace
type LimitConfig struct {
	Marketplace    MarketplaceID `json:"marketplace" yaml:"marketplace" validate:"required"`
	PerMinute      int           `json:"per_minute" yaml:"per_minute" validate:"gte=0"`
	PerHour        int           `json:"per_hour" yaml:"per_hour" validate:"gte=0"`
	PerDay         int           `json:"per_day" yaml:"per_day" validate:"gte=0"`
	Burst          int           `json:"burst" yaml:"burst" validate:"gte=0"`
	PriorityWeight float64       `json:"priority_weight" yaml:"priority_weight" validate:"gte=0"`
}

// DefaultLimitConfig returns the conservative limits used for unconfigured marketplaces
func DefaultLimitConfig(m MarketplaceID) LimitConfig {
	return LimitConfig{
		Marketplace:    m,
		PerMinute:      10,
		PerHour:        200,
		PerDay:         2000,
		Burst:          3,
		PriorityWeight: 1.0,
	}
}

// Validate validates the limit configuration
func (c LimitConfig) Validate() error {
	if !c.Marketplace.IsValid() {
		return errors.New("integration: limit config requires a valid marketplace")
	}
	if c.PerMinute < 0 || c.PerHour < 0 || c.PerDay < 0 || c.Burst < 0 {
		return errors.New("integration: limits cannot be negative")
	}
	if c.PerMinute == 0 && c.PerHour == 0 && c.PerDay == 0 {
		return errors.New("integration: at least one window limit is required")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Window state
// ---------------------------------------------------------------------------

// WindowKind names one admission window
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowHour   WindowKind = "hour"
	WindowDay    WindowKind = "day"
)

// Duration returns the window length
func (k WindowKind) Duration() time.Duration {
	switch k {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// NextBoundary returns the first window boundary strictly after now (UTC aligned)
func (k WindowKind) NextBoundary(now time.Time) time.Time {
	d := k.Duration()
	return now.UTC().Truncate(d).Add(d)
}

// WindowCounter counts requests in one fixed window
type WindowCounter struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
	// Authoritative is set when Count came from provider headers
	Authoritative bool `json:"authoritative,omitempty"`
}

// WindowState is the per-marketplace usage record shared by all workers
type WindowState struct {
	Key            string        `json:"key"`
	Minute         WindowCounter `json:"minute"`
	Hour           WindowCounter `json:"hour"`
	Day            WindowCounter `json:"day"`
	Blocked        bool          `json:"blocked"`
	BlockedUntil   time.Time     `json:"blocked_until,omitempty"`
	LastRequestAt  time.Time     `json:"last_request_at,omitempty"`
	Last429At      time.Time     `json:"last_429_at,omitempty"`
	Consecutive429 int           `json:"consecutive_429,omitempty"`
}

// NewWindowState creates an empty state whose windows reset at the next boundaries
func NewWindowState(key string, now time.Time) *WindowState {
	s := &WindowState{Key: key}
	s.Roll(now)
	return s
}

// Counter returns the counter for a window kind
func (s *WindowState) Counter(k WindowKind) *WindowCounter {
	switch k {
	case WindowMinute:
		return &s.Minute
	case WindowHour:
		return &s.Hour
	default:
		return &s.Day
	}
}

// Roll resets every window whose boundary has passed and clears an expired block
func (s *WindowState) Roll(now time.Time) {
	for _, k := range []WindowKind{WindowMinute, WindowHour, WindowDay} {
		c := s.Counter(k)
		if c.ResetAt.IsZero() || !now.Before(c.ResetAt) {
			c.Count = 0
			c.Authoritative = false
			c.ResetAt = k.NextBoundary(now)
		}
	}
	if s.Blocked && !now.Before(s.BlockedUntil) {
		s.Blocked = false
		s.BlockedUntil = time.Time{}
	}
}

// Increment counts one request in every window
func (s *WindowState) Increment(now time.Time) {
	s.Roll(now)
	s.Minute.Count++
	s.Hour.Count++
	s.Day.Count++
	s.LastRequestAt = now
}

// Reconcile replaces the local count of the window that best matches the provider's
// reported limit with the provider's used count. Counts never go negative.
func (s *WindowState) Reconcile(cfg LimitConfig, h LimitHeaders, now time.Time) {
	if h.Remaining == nil {
		return
	}
	s.Roll(now)

	kind := WindowHour
	limit := cfg.PerHour
	if h.Limit != nil {
		kind, limit = matchWindow(cfg, *h.Limit)
	}
	used := limit - *h.Remaining
	if used < 0 {
		used = 0
	}
	c := s.Counter(kind)
	c.Count = used
	c.Authoritative = true
	if h.Reset != nil && h.Reset.After(now) {
		c.ResetAt = *h.Reset
	}
}

// matchWindow picks the window whose configured limit is closest to the reported one
func matchWindow(cfg LimitConfig, reported int) (WindowKind, int) {
	best := WindowHour
	bestDiff := -1
	for _, w := range []struct {
		kind  WindowKind
		limit int
	}{{WindowMinute, cfg.PerMinute}, {WindowHour, cfg.PerHour}, {WindowDay, cfg.PerDay}} {
		if w.limit <= 0 {
			continue
		}
		diff := w.limit - reported
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = w.kind, diff
		}
	}
	return best, reported
}

// Block denies admission until the given time
func (s *WindowState) Block(until time.Time) {
	if until.After(s.BlockedUntil) {
		s.BlockedUntil = until
	}
	s.Blocked = true
}

// WindowUsage describes utilization of one window
type WindowUsage struct {
	Kind        WindowKind    `json:"kind"`
	Count       int           `json:"count"`
	Limit       int           `json:"limit"`
	Utilization float64       `json:"utilization"`
	ResetIn     time.Duration `json:"reset_in"`
}

// Usage returns per-window utilization; windows with no limit are omitted
func (s *WindowState) Usage(cfg LimitConfig, now time.Time) []WindowUsage {
	limits := map[WindowKind]int{
		WindowMinute: cfg.PerMinute,
		WindowHour:   cfg.PerHour,
		WindowDay:    cfg.PerDay,
	}
	out := make([]WindowUsage, 0, 3)
	for _, k := range []WindowKind{WindowMinute, WindowHour, WindowDay} {
		limit := limits[k]
		if limit <= 0 {
			continue
		}
		c := s.Counter(k)
		u := WindowUsage{
			Kind:    k,
			Count:   c.Count,
			Limit:   limit,
			ResetIn: c.ResetAt.Sub(now),
		}
		u.Utilization = float64(c.Count) / float64(limit)
		out = append(out, u)
	}
	return out
}

// ---------------------------------------------------------------------------
// Admission and headers
// ---------------------------------------------------------------------------

// Admission is the outcome of an admission check
type Admission struct {
	Allowed bool
	// WaitTime is how long to wait before the call: the earliest reset when
	// denied, or the proactive throttle delay when admitted near the limit
	WaitTime    time.Duration
	Reasoning   string
	Utilization float64
}

// LimitHeaders is the provider-neutral shape of rate-limit response headers
type LimitHeaders struct {
	Remaining  *int
	Limit      *int
	Reset      *time.Time
	RetryAfter *time.Duration
}

// IsEmpty returns true if no header was recognized
func (h LimitHeaders) IsEmpty() bool {
	return h.Remaining == nil && h.Limit == nil && h.Reset == nil && h.RetryAfter == nil
}

// ---------------------------------------------------------------------------
// State store port
// ---------------------------------------------------------------------------

// StateStore holds per-key resilience state shared by every worker and, with an
// external backend, every instance.
type StateStore interface {
	// Get returns the stored value for key, or nil when absent
	Get(ctx context.Context, key string) ([]byte, error)
	// Update atomically replaces the value of key with fn(current).
	// current is nil when the key is absent. Returning an error aborts the update.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	// Delete removes key
	Delete(ctx context.Context, key string) error
}
