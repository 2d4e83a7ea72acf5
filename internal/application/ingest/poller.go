package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

// PollerRegistry resolves sales pollers and the sellers to poll
type PollerRegistry interface {
	List() []integration.MarketplaceID
	Poller(id integration.MarketplaceID) (integration.SalesPoller, error)
	ConnectedUsers(id integration.MarketplaceID) []string
}

// CallGuard applies rate limiting and circuit breaking to poll calls
type CallGuard interface {
	Before(ctx context.Context, m integration.MarketplaceID, userID string) error
	After(ctx context.Context, m integration.MarketplaceID, userID string, callErr error)
}

// SalesPolling runs poll cycles for marketplaces without webhooks. Detected
// sales go through the ingestor exactly like webhook deliveries; the schedule
// interval adapts to the outcome.
type SalesPolling struct {
	ingestor  *Ingestor
	registry  PollerRegistry
	schedules integration.PollScheduleRepository
	guard     CallGuard
	config    integration.PollingConfig
	clock     shared.Clock
	logger    *zap.Logger
}

// NewSalesPolling creates the polling service. guard may be nil.
func NewSalesPolling(
	ingestor *Ingestor,
	registry PollerRegistry,
	schedules integration.PollScheduleRepository,
	guard CallGuard,
	config integration.PollingConfig,
	clock shared.Clock,
	logger *zap.Logger,
) (*SalesPolling, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SalesPolling{
		ingestor:  ingestor,
		registry:  registry,
		schedules: schedules,
		guard:     guard,
		config:    config,
		clock:     shared.ClockOrSystem(clock),
		logger:    logger,
	}, nil
}

// EnsureSchedules creates a schedule for every connected seller of every
// pollable marketplace that has none yet, and returns how many were created
func (p *SalesPolling) EnsureSchedules(ctx context.Context) (int, error) {
	created := 0
	for _, m := range p.registry.List() {
		if _, err := p.registry.Poller(m); err != nil {
			continue
		}
		for _, userID := range p.registry.ConnectedUsers(m) {
			_, err := p.schedules.Find(ctx, m, userID)
			if err == nil {
				continue
			}
			if !errors.Is(err, integration.ErrPollScheduleNotFound) {
				return created, fmt.Errorf("ingest: find poll schedule: %w", err)
			}
			if err := p.schedules.Save(ctx, integration.NewPollSchedule(m, userID, p.config, p.clock.Now())); err != nil {
				return created, fmt.Errorf("ingest: create poll schedule: %w", err)
			}
			created++
		}
	}
	if created > 0 {
		p.logger.Info("Poll schedules created", zap.Int("count", created))
	}
	return created, nil
}

// Poll implements scheduler.Poller
func (p *SalesPolling) Poll(ctx context.Context, schedule *integration.PollSchedule) error {
	m := schedule.Marketplace

	poller, err := p.registry.Poller(m)
	if err != nil {
		if errors.Is(err, integration.ErrPollingNotSupported) || errors.Is(err, integration.ErrMarketplaceNotConfigured) {
			schedule.Enabled = false
			p.logger.Info("Polling disabled for marketplace",
				zap.String("marketplace", string(m)),
				zap.String("user_id", schedule.UserID),
				zap.Error(err),
			)
			return p.save(ctx, schedule)
		}
		return err
	}

	now := p.clock.Now()
	since := now.Add(-schedule.CurrentInterval)
	if schedule.LastPolledAt != nil {
		since = *schedule.LastPolledAt
	}

	events, pollErr := p.fetch(ctx, poller, schedule, since)
	if pollErr != nil {
		schedule.RecordFailure(p.config, p.clock.Now())
		if err := p.save(ctx, schedule); err != nil {
			return errors.Join(pollErr, err)
		}
		return pollErr
	}

	sales := 0
	var processErr error
	for _, evt := range events {
		evt.Marketplace = m
		evt.Source = integration.SourcePolling
		if evt.ReceivedAt.IsZero() {
			evt.ReceivedAt = now
		}
		dup, err := p.ingestor.Process(ctx, evt)
		if err != nil {
			processErr = errors.Join(processErr, err)
			continue
		}
		if evt.IsSale() && !dup {
			sales++
		}
	}

	// A failed dispatch leaves LastPolledAt alone so the next poll covers it again.
	if processErr != nil {
		schedule.RecordFailure(p.config, p.clock.Now())
	} else {
		schedule.RecordSuccess(p.config, sales, p.clock.Now())
	}
	if err := p.save(ctx, schedule); err != nil {
		return errors.Join(processErr, err)
	}

	p.logger.Debug("Poll cycle finished",
		zap.String("marketplace", string(m)),
		zap.String("user_id", schedule.UserID),
		zap.Int("events", len(events)),
		zap.Int("sales", sales),
		zap.Duration("next_interval", schedule.CurrentInterval),
	)
	return processErr
}

func (p *SalesPolling) fetch(ctx context.Context, poller integration.SalesPoller, schedule *integration.PollSchedule, since time.Time) ([]integration.CanonicalEvent, error) {
	if p.guard != nil {
		if err := p.guard.Before(ctx, schedule.Marketplace, schedule.UserID); err != nil {
			return nil, err
		}
	}
	events, err := poller.PollSales(ctx, schedule.UserID, since)
	if p.guard != nil {
		p.guard.After(ctx, schedule.Marketplace, schedule.UserID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: poll %s: %w", schedule.Marketplace, err)
	}
	return events, nil
}

func (p *SalesPolling) save(ctx context.Context, schedule *integration.PollSchedule) error {
	if err := p.schedules.Save(context.WithoutCancel(ctx), schedule); err != nil {
		return fmt.Errorf("ingest: save poll schedule: %w", err)
	}
	return nil
}
