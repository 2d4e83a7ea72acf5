package integration

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrPollScheduleNotFound is returned when a schedule does not exist
var ErrPollScheduleNotFound = errors.New("integration: poll schedule not found")

// Adaptive interval factors
const (
	PollShrinkFactor  = 0.8
	PollGrowFactor    = 1.2
	PollFailureFactor = 1.5
)

// PollingConfig bounds the adaptive polling interval
type PollingConfig struct {
	MinInterval     time.Duration `json:"min_interval" yaml:"min_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
	DefaultInterval time.Duration `json:"default_interval" yaml:"default_interval"`
}

// DefaultPollingConfig returns 1 minute to 1 hour bounds starting at 5 minutes
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		MinInterval:     time.Minute,
		MaxInterval:     time.Hour,
		DefaultInterval: 5 * time.Minute,
	}
}

// Validate checks the bounds
func (c PollingConfig) Validate() error {
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		return errors.New("integration: polling interval bounds are invalid")
	}
	if c.DefaultInterval < c.MinInterval || c.DefaultInterval > c.MaxInterval {
		return errors.New("integration: default polling interval out of bounds")
	}
	return nil
}

func (c PollingConfig) clamp(d time.Duration) time.Duration {
	if d < c.MinInterval {
		return c.MinInterval
	}
	if d > c.MaxInterval {
		return c.MaxInterval
	}
	return d
}

// PollSchedule is the adaptive polling state for one user and marketplace
type PollSchedule struct {
	Marketplace         MarketplaceID
	UserID              string
	CurrentInterval     time.Duration
	ConsecutiveFailures int
	// LastPolledAt is the last successful poll; the next poll asks for sales since then
	LastPolledAt        *time.Time
	LastSaleAt          *time.Time
	NextRunAt           time.Time
	Enabled             bool
}

// NewPollSchedule creates a schedule at the default interval, due immediately
func NewPollSchedule(m MarketplaceID, userID string, cfg PollingConfig, now time.Time) *PollSchedule {
	return &PollSchedule{
		Marketplace:     m,
		UserID:          userID,
		CurrentInterval: cfg.clamp(cfg.DefaultInterval),
		NextRunAt:       now,
		Enabled:         true,
	}
}

// IsDue returns true if the schedule should poll at now
func (s *PollSchedule) IsDue(now time.Time) bool {
	return s.Enabled && !now.Before(s.NextRunAt)
}

// RecordSuccess adapts the interval after a successful poll
func (s *PollSchedule) RecordSuccess(cfg PollingConfig, salesFound int, now time.Time) {
	factor := PollGrowFactor
	if salesFound > 0 {
		factor = PollShrinkFactor
		s.LastSaleAt = &now
	}
	s.ConsecutiveFailures = 0
	s.CurrentInterval = cfg.clamp(scale(s.CurrentInterval, factor))
	s.LastPolledAt = &now
	s.NextRunAt = now.Add(s.CurrentInterval)
}

// RecordFailure grows the interval by PollFailureFactor raised to the failure streak
func (s *PollSchedule) RecordFailure(cfg PollingConfig, now time.Time) {
	s.ConsecutiveFailures++
	factor := math.Pow(PollFailureFactor, float64(s.ConsecutiveFailures))
	s.CurrentInterval = cfg.clamp(scale(s.CurrentInterval, factor))
	s.NextRunAt = now.Add(s.CurrentInterval)
}

func scale(d time.Duration, factor float64) time.Duration {
	v := float64(d) * factor
	if v > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Round(v))
}

// PollScheduleRepository persists poll schedules
type PollScheduleRepository interface {
	// Save inserts or updates a schedule keyed by marketplace and user
	Save(ctx context.Context, s *PollSchedule) error
	// Find returns a schedule or ErrPollScheduleNotFound
	Find(ctx context.Context, m MarketplaceID, userID string) (*PollSchedule, error)
	// ListDue returns enabled schedules due at now
	ListDue(ctx context.Context, now time.Time, limit int) ([]*PollSchedule, error)
}
