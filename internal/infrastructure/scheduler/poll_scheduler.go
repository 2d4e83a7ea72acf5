package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

// Poller runs one poll cycle for a schedule and persists the adjusted schedule
type Poller interface {
	Poll(ctx context.Context, schedule *integration.PollSchedule) error
}

// PollSchedulerConfig holds configuration for the polling loop
type PollSchedulerConfig struct {
	// TickInterval is how often due schedules are looked up
	TickInterval time.Duration
	// BatchSize caps schedules polled per tick
	BatchSize int
}

// DefaultPollSchedulerConfig returns a 15s tick and 50 schedules per tick
func DefaultPollSchedulerConfig() PollSchedulerConfig {
	return PollSchedulerConfig{
		TickInterval: 15 * time.Second,
		BatchSize:    50,
	}
}

// PollScheduler drives adaptive polling for marketplaces without webhooks.
// Each due schedule is handed to the Poller, which owns the interval math.
type PollScheduler struct {
	config    PollSchedulerConfig
	schedules integration.PollScheduleRepository
	poller    Poller
	clock     shared.Clock
	logger    *zap.Logger
	trigger   *IntervalTrigger
}

// NewPollScheduler creates a polling scheduler
func NewPollScheduler(config PollSchedulerConfig, schedules integration.PollScheduleRepository, poller Poller, clock shared.Clock, logger *zap.Logger) (*PollScheduler, error) {
	if config.BatchSize <= 0 {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &PollScheduler{
		config:    config,
		schedules: schedules,
		poller:    poller,
		clock:     shared.ClockOrSystem(clock),
		logger:    logger,
	}
	trigger, err := NewIntervalTrigger("poll_scheduler", config.TickInterval, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	}, logger)
	if err != nil {
		return nil, err
	}
	s.trigger = trigger
	return s, nil
}

// Start starts the polling loop
func (s *PollScheduler) Start(ctx context.Context) error {
	return s.trigger.Start(ctx)
}

// Stop stops the polling loop
func (s *PollScheduler) Stop(ctx context.Context) error {
	return s.trigger.Stop(ctx)
}

// RunOnce polls every due schedule and returns how many were polled.
// A failed poll is logged and does not stop the others.
func (s *PollScheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.schedules.ListDue(ctx, s.clock.Now(), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list due poll schedules: %w", err)
	}

	for i, schedule := range due {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if err := s.poller.Poll(ctx, schedule); err != nil {
			s.logger.Warn("Poll cycle failed",
				zap.String("marketplace", string(schedule.Marketplace)),
				zap.String("user_id", schedule.UserID),
				zap.Duration("interval", schedule.CurrentInterval),
				zap.Int("consecutive_failures", schedule.ConsecutiveFailures),
				zap.Error(err),
			)
		}
	}
	return len(due), nil
}
