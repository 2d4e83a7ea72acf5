// Package monitor assembles the operator view of every marketplace: breaker
// state, limiter usage, ingest health and optional live connection checks.
package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

// DefaultCheckTimeout bounds one TestConnection call
const DefaultCheckTimeout = 10 * time.Second

// Registry lists marketplaces and their connected sellers
type Registry interface {
	List() []integration.MarketplaceID
	ConnectedUsers(id integration.MarketplaceID) []string
}

// BreakerReader reads breaker state
type BreakerReader interface {
	GetState(ctx context.Context, m integration.MarketplaceID) integration.BreakerState
}

// UsageReader reads limiter window usage
type UsageReader interface {
	Usage(ctx context.Context, m integration.MarketplaceID, userID string) ([]integration.WindowUsage, error)
}

// HealthReader reads ingest health buckets and score
type HealthReader interface {
	Buckets(ctx context.Context, m integration.MarketplaceID) ([]integration.HealthBucket, error)
	Score(ctx context.Context, m integration.MarketplaceID) (float64, error)
}

// DeadLetterCounter counts entries awaiting an operator
type DeadLetterCounter interface {
	PendingCount(ctx context.Context) (int64, error)
}

// Caller executes a connection check through the resilience pipeline
type Caller interface {
	Execute(ctx context.Context, req integration.Request, opts resilience.CallOptions) (*integration.Response, error)
}

// ConnectionCheck is the outcome of one TestConnection call
type ConnectionCheck struct {
	UserID     string                      `json:"user_id,omitempty"`
	OK         bool                        `json:"ok"`
	StatusCode int                         `json:"status_code,omitempty"`
	Latency    time.Duration               `json:"latency"`
	Category   integration.FailureCategory `json:"category,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

// MarketplaceHealth is a status plus an optional connection check
type MarketplaceHealth struct {
	integration.MarketplaceStatus
	Check *ConnectionCheck `json:"connection_check,omitempty"`
}

// Service implements telemetry.StatusSource and backs the health endpoint
type Service struct {
	registry     Registry
	breaker      BreakerReader
	usage        UsageReader
	health       HealthReader
	deadLetters  DeadLetterCounter
	caller       Caller
	displayNames map[integration.MarketplaceID]string
	checkTimeout time.Duration
	logger       *zap.Logger
}

var _ telemetry.StatusSource = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithHealth adds ingest health to each status
func WithHealth(h HealthReader) Option {
	return func(s *Service) { s.health = h }
}

// WithDeadLetters enables PendingDeadLetters
func WithDeadLetters(d DeadLetterCounter) Option {
	return func(s *Service) { s.deadLetters = d }
}

// WithCaller enables connection checks
func WithCaller(c Caller) Option {
	return func(s *Service) { s.caller = c }
}

// WithDisplayNames sets human readable marketplace names
func WithDisplayNames(names map[integration.MarketplaceID]string) Option {
	return func(s *Service) { s.displayNames = names }
}

// WithCheckTimeout bounds each connection check
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

// NewService creates a status service
func NewService(registry Registry, breaker BreakerReader, usage UsageReader, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		registry:     registry,
		breaker:      breaker,
		usage:        usage,
		checkTimeout: DefaultCheckTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Statuses implements telemetry.StatusSource. A marketplace whose limiter or
// health state cannot be read is still reported; the first error is returned
// alongside the partial result.
func (s *Service) Statuses(ctx context.Context) ([]integration.MarketplaceStatus, error) {
	ids := s.registry.List()
	out := make([]integration.MarketplaceStatus, 0, len(ids))
	var errs []error
	for _, m := range ids {
		status, err := s.status(ctx, m)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, status)
	}
	return out, errors.Join(errs...)
}

// Status returns one marketplace's status
func (s *Service) Status(ctx context.Context, m integration.MarketplaceID) (integration.MarketplaceStatus, error) {
	return s.status(ctx, m)
}

func (s *Service) status(ctx context.Context, m integration.MarketplaceID) (integration.MarketplaceStatus, error) {
	status := integration.MarketplaceStatus{
		Marketplace:  m,
		DisplayName:  s.displayName(m),
		BreakerState: s.breaker.GetState(ctx, m),
		HealthScore:  1,
	}

	var errs []error
	windows, err := s.usage.Usage(ctx, m, "")
	if err != nil {
		errs = append(errs, err)
	}
	status.Windows = windows

	if s.health != nil {
		buckets, err := s.health.Buckets(ctx, m)
		if err != nil {
			errs = append(errs, err)
		}
		status.Hourly = buckets
		if len(buckets) > 0 {
			status.AvgLatencyMS = buckets[len(buckets)-1].AvgLatency().Milliseconds()
		}
		if score, err := s.health.Score(ctx, m); err == nil {
			status.HealthScore = score
		}
	}
	return status, errors.Join(errs...)
}

// PendingDeadLetters implements telemetry.StatusSource
func (s *Service) PendingDeadLetters(ctx context.Context) (int64, error) {
	if s.deadLetters == nil {
		return 0, nil
	}
	return s.deadLetters.PendingCount(ctx)
}

// Health returns every marketplace's status; with check set, each
// marketplace is also tested with TestConnection on behalf of its first
// connected seller.
func (s *Service) Health(ctx context.Context, check bool) ([]MarketplaceHealth, error) {
	statuses, err := s.Statuses(ctx)
	if err != nil {
		s.logger.Warn("Marketplace status incomplete", zap.Error(err))
	}
	out := make([]MarketplaceHealth, len(statuses))
	for i, status := range statuses {
		out[i] = MarketplaceHealth{MarketplaceStatus: status}
		if check && s.caller != nil {
			out[i].Check = s.CheckConnection(ctx, status.Marketplace)
		}
	}
	return out, nil
}

// CheckConnection runs TestConnection through the caller. Admission control and the
// breaker apply; a marketplace without connected sellers is tested anonymously.
func (s *Service) CheckConnection(ctx context.Context, m integration.MarketplaceID) *ConnectionCheck {
	result := &ConnectionCheck{}
	if s.caller == nil {
		result.Error = "connection checks are not enabled"
		return result
	}
	if users := s.registry.ConnectedUsers(m); len(users) > 0 {
		result.UserID = users[0]
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "monitor", "connection_check", telemetry.SpanAttrMarketplace, string(m))
	defer span.End()

	start := time.Now()
	resp, err := s.caller.Execute(ctx, integration.Request{
		Marketplace: m,
		Action:      integration.ActionTestConnection,
		UserID:      result.UserID,
	}, resilience.CallOptions{MaxRetries: 1, Timeout: s.checkTimeout})
	result.Latency = time.Since(start)

	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	if err != nil {
		result.Category = integration.CategorizeError(err)
		result.Error = err.Error()
		telemetry.RecordError(span, err)
		s.logger.Info("Marketplace connection check failed",
			zap.String("marketplace", string(m)),
			zap.String("category", string(result.Category)),
			zap.Error(err),
		)
		return result
	}
	result.OK = true
	return result
}

func (s *Service) displayName(m integration.MarketplaceID) string {
	if name, ok := s.displayNames[m]; ok && name != "" {
		return name
	}
	return string(m)
}
