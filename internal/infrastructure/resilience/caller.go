package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

// CallerConfig holds the default retry policy
type CallerConfig struct {
	// MaxRetries is the total number of attempts per call
	MaxRetries int
	// BaseDelay is the first retry delay before jitter
	BaseDelay time.Duration
	// MaxDelay caps the computed retry delay
	MaxDelay time.Duration
	// CallTimeout bounds each outbound exchange
	CallTimeout time.Duration
}

// DefaultCallerConfig returns 3 attempts, 1s base delay, 5m cap and 30s timeout
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		MaxRetries:  3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		CallTimeout: 30 * time.Second,
	}
}

// CallOptions override the retry policy for one call
type CallOptions struct {
	MaxRetries      int
	BaseDelay       time.Duration
	Timeout         time.Duration
	BypassRateLimit bool
	Priority        Priority
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default SleepFunc
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryingCaller wraps marketplace calls with admission control, circuit
// breaking and exponential backoff with jitter
type RetryingCaller struct {
	registry integration.MarketplaceRegistry
	limiter  *RateLimiter
	breaker  *CircuitBreaker
	cfg      CallerConfig
	sleep    SleepFunc
	jitter   func() float64
	clock    shared.Clock
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// CallerOption configures a RetryingCaller
type CallerOption func(*RetryingCaller)

// WithSleep replaces the backoff sleep
func WithSleep(fn SleepFunc) CallerOption {
	return func(c *RetryingCaller) {
		c.sleep = fn
	}
}

// WithJitter replaces the uniform [0,1) source used for jitter
func WithJitter(fn func() float64) CallerOption {
	return func(c *RetryingCaller) {
		c.jitter = fn
	}
}

// WithObserver sets the telemetry observer
func WithObserver(o Observer) CallerOption {
	return func(c *RetryingCaller) {
		c.observer = o
	}
}

// WithClock sets the clock used for header parsing
func WithClock(clock shared.Clock) CallerOption {
	return func(c *RetryingCaller) {
		c.clock = clock
	}
}

// NewRetryingCaller creates a RetryingCaller
func NewRetryingCaller(registry integration.MarketplaceRegistry, limiter *RateLimiter, breaker *CircuitBreaker, cfg CallerConfig, logger *zap.Logger, opts ...CallerOption) *RetryingCaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultCallerConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}

	c := &RetryingCaller{
		registry: registry,
		limiter:  limiter,
		breaker:  breaker,
		cfg:      cfg,
		sleep:    SleepContext,
		jitter:   rand.Float64,
		clock:    shared.SystemClock{},
		observer: nopObserver{},
		tracer:   otel.Tracer("github.com/crosslist/backend/resilience"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limiter returns the rate limiter
func (c *RetryingCaller) Limiter() *RateLimiter {
	return c.limiter
}

// Breaker returns the circuit breaker
func (c *RetryingCaller) Breaker() *CircuitBreaker {
	return c.breaker
}

func (c *RetryingCaller) withDefaults(opts CallOptions) CallOptions {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = c.cfg.MaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = c.cfg.BaseDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.cfg.CallTimeout
	}
	if opts.Priority <= 0 {
		opts.Priority = PriorityNormal
	}
	return opts
}

// Execute performs req with up to opts.MaxRetries attempts.
// Admission denial and an open breaker fail fast. 429, 5xx and network
// failures are retried; any other 4xx returns immediately.
func (c *RetryingCaller) Execute(ctx context.Context, req integration.Request, opts CallOptions) (*integration.Response, error) {
	opts = c.withDefaults(opts)
	m := req.Marketplace

	client, err := c.registry.Client(m)
	if err != nil {
		return nil, &integration.PermanentError{Err: err}
	}

	ctx, span := c.tracer.Start(ctx, "marketplace."+string(req.Action),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("marketplace", m.String()),
			attribute.String("action", string(req.Action)),
		),
	)
	defer span.End()

	resp, attempts, err := c.execute(ctx, client, req, opts)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(integration.CategorizeError(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (c *RetryingCaller) execute(ctx context.Context, client integration.MarketplaceClient, req integration.Request, opts CallOptions) (*integration.Response, int, error) {
	m := req.Marketplace

	var floor time.Duration
	if !opts.BypassRateLimit {
		adm := c.limiter.CheckAdmission(ctx, m, req.UserID)
		if !adm.Allowed {
			c.observer.ObserveRejection(m, integration.CategoryRateLimit)
			return nil, 0, &integration.RateLimitError{Marketplace: m, WaitTime: adm.WaitTime, Reason: adm.Reasoning}
		}
		floor = adm.WaitTime
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := c.breaker.Allow(ctx, m); err != nil {
			c.observer.ObserveRejection(m, integration.CategoryCircuitOpen)
			return nil, attempt - 1, err
		}

		delay := c.delayFor(ctx, attempt, req, opts, floor)
		if attempt > 1 {
			c.observer.ObserveRetry(m, integration.CategorizeError(lastErr), delay)
			c.logger.Warn("retrying marketplace call",
				zap.String("marketplace", m.String()),
				zap.String("action", string(req.Action)),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
		}
		if err := c.sleep(ctx, delay); err != nil {
			c.breaker.Release(context.WithoutCancel(ctx), m)
			return nil, attempt - 1, fmt.Errorf("marketplace call cancelled: %w", err)
		}

		resp, err := c.attempt(ctx, client, req, opts.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				c.breaker.Release(context.WithoutCancel(ctx), m)
				return nil, attempt, fmt.Errorf("marketplace call cancelled: %w", ctx.Err())
			}
			if errors.Is(err, integration.ErrUnsupportedAction) {
				c.breaker.Release(ctx, m)
				return nil, attempt, &integration.PermanentError{Err: err}
			}
			c.observer.ObserveAttempt(m, req.Action, OutcomeNetwork, 0)
			c.recordFailure(ctx, req, nil)
			lastErr = &integration.NetworkError{Marketplace: m, Err: err}
			floor = 0
			continue
		}

		headers := ParseLimitHeaders(resp.Header, c.clock.Now())
		resp.RateLimit = &headers

		switch {
		case resp.IsSuccess():
			c.observer.ObserveAttempt(m, req.Action, OutcomeSuccess, resp.Latency)
			c.limiter.RecordRequest(ctx, m, req.UserID, true, &headers)
			c.breaker.RecordSuccess(ctx, m)
			return resp, attempt, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			c.observer.ObserveAttempt(m, req.Action, OutcomeRateLimited, resp.Latency)
			wait := c.limiter.HandleRateLimitHit(ctx, m, req.UserID, headers)
			c.recordFailure(ctx, req, &headers)
			lastErr = &integration.RateLimitError{Marketplace: m, WaitTime: wait, FromResponse: true, Reason: "provider returned 429"}
			floor = wait

		case resp.StatusCode >= http.StatusInternalServerError:
			c.observer.ObserveAttempt(m, req.Action, OutcomeServerError, resp.Latency)
			c.recordFailure(ctx, req, &headers)
			lastErr = integration.ErrorFromStatus(m, resp.StatusCode, resp.Body)
			floor = 0

		default:
			c.observer.ObserveAttempt(m, req.Action, OutcomeClientError, resp.Latency)
			c.recordFailure(ctx, req, &headers)
			err := integration.ErrorFromStatus(m, resp.StatusCode, resp.Body)
			if err == nil {
				err = &integration.PermanentError{Err: fmt.Errorf("unexpected status %d from %s", resp.StatusCode, m)}
			}
			return nil, attempt, err
		}
	}
	return nil, opts.MaxRetries, lastErr
}

// attempt performs one exchange under the per-call timeout
func (c *RetryingCaller) attempt(ctx context.Context, client integration.MarketplaceClient, req integration.Request, timeout time.Duration) (*integration.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := integration.Invoke(callCtx, client, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("marketplace client returned no response")
	}
	if resp.Latency == 0 {
		resp.Latency = time.Since(start)
	}
	return resp, nil
}

func (c *RetryingCaller) recordFailure(ctx context.Context, req integration.Request, headers *integration.LimitHeaders) {
	c.limiter.RecordRequest(ctx, req.Marketplace, req.UserID, false, headers)
	c.breaker.RecordFailure(ctx, req.Marketplace)
}

// delayFor returns the wait before an attempt: the limiter's pacing delay for the
// first attempt, jittered exponential backoff for retries, never below floor
func (c *RetryingCaller) delayFor(ctx context.Context, attempt int, req integration.Request, opts CallOptions, floor time.Duration) time.Duration {
	var d time.Duration
	if attempt == 1 {
		if !opts.BypassRateLimit {
			d = c.limiter.OptimalDelay(ctx, req.Marketplace, req.UserID, opts.Priority)
		}
	} else {
		d = c.Backoff(attempt, opts.BaseDelay)
	}
	if d < floor {
		d = floor
	}
	return d
}

// Backoff returns baseDelay * 2^(attempt-1) * uniform(0.5, 1.5), capped at MaxDelay
func (c *RetryingCaller) Backoff(attempt int, baseDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	d := exp * (0.5 + c.jitter())
	if d > float64(c.cfg.MaxDelay) {
		return c.cfg.MaxDelay
	}
	return time.Duration(d)
}
