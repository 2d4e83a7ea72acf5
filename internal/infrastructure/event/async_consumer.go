package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/shared"
)

var (
	// ErrNotDelivered marks a handler that refused to accept an event. The bus
	// returns these errors to the publisher instead of only logging them.
	ErrNotDelivered = errors.New("event: not delivered")
	// ErrConsumerNotRunning is returned when an event reaches a stopped consumer
	ErrConsumerNotRunning = fmt.Errorf("event: consumer not running: %w", ErrNotDelivered)
	// ErrConsumerAlreadyRunning is returned by Start on a running consumer
	ErrConsumerAlreadyRunning = errors.New("event: consumer already running")
	// ErrInvalidConsumerConfig is returned for a non-positive worker count or buffer size
	ErrInvalidConsumerConfig = errors.New("event: invalid consumer config")
)

// AsyncConsumerConfig sizes the consumer's worker pool
type AsyncConsumerConfig struct {
	Workers        int
	BufferSize     int
	HandlerTimeout time.Duration
}

// DefaultAsyncConsumerConfig returns the default consumer sizing
func DefaultAsyncConsumerConfig() AsyncConsumerConfig {
	return AsyncConsumerConfig{
		Workers:        4,
		BufferSize:     256,
		HandlerTimeout: 2 * time.Minute,
	}
}

// Validate checks the configuration
func (c AsyncConsumerConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConsumerConfig)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidConsumerConfig)
	}
	if c.HandlerTimeout < 0 {
		return fmt.Errorf("%w: handler timeout must not be negative", ErrInvalidConsumerConfig)
	}
	return nil
}

type envelope struct {
	ctx   context.Context
	event shared.DomainEvent
}

// AsyncConsumer decouples a handler from the publisher. Handle enqueues the event on a
// buffered channel and returns; a pool of workers runs the wrapped handler and logs its
// errors. A full buffer applies backpressure bounded by the publisher's context.
type AsyncConsumer struct {
	name    string
	handler shared.EventHandler
	config  AsyncConsumerConfig
	logger  *zap.Logger

	stateMu   sync.Mutex
	isRunning bool

	sendMu sync.RWMutex
	queue  chan envelope
	done   chan struct{}

	wg sync.WaitGroup

	handled atomic.Int64
	failed  atomic.Int64
}

// NewAsyncConsumer wraps handler in a worker pool
func NewAsyncConsumer(name string, handler shared.EventHandler, config AsyncConsumerConfig, logger *zap.Logger) (*AsyncConsumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncConsumer{
		name:    name,
		handler: handler,
		config:  config,
		logger:  logger.With(zap.String("consumer", name)),
	}, nil
}

// EventTypes returns the wrapped handler's event types
func (c *AsyncConsumer) EventTypes() []string {
	return c.handler.EventTypes()
}

// Handle enqueues the event. The worker keeps the context's values but not its cancellation.
func (c *AsyncConsumer) Handle(ctx context.Context, event shared.DomainEvent) error {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	if c.done == nil {
		return ErrConsumerNotRunning
	}
	select {
	case <-c.done:
		return ErrConsumerNotRunning
	default:
	}

	env := envelope{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case c.queue <- env:
		return nil
	case <-c.done:
		return ErrConsumerNotRunning
	case <-ctx.Done():
		return fmt.Errorf("event: enqueue %s: %w: %w", event.EventType(), ErrNotDelivered, ctx.Err())
	}
}

// Start launches the workers
func (c *AsyncConsumer) Start(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.isRunning {
		return ErrConsumerAlreadyRunning
	}

	c.sendMu.Lock()
	c.queue = make(chan envelope, c.config.BufferSize)
	c.done = make(chan struct{})
	queue := c.queue
	c.sendMu.Unlock()

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(queue)
	}
	c.isRunning = true
	c.logger.Info("async consumer started",
		zap.Int("workers", c.config.Workers),
		zap.Int("buffer_size", c.config.BufferSize),
	)
	return nil
}

// Stop refuses new events, lets the workers drain the buffer and waits for them
// until ctx expires.
func (c *AsyncConsumer) Stop(ctx context.Context) error {
	c.stateMu.Lock()
	if !c.isRunning {
		c.stateMu.Unlock()
		return nil
	}
	c.isRunning = false
	close(c.done)
	c.stateMu.Unlock()

	c.sendMu.Lock()
	close(c.queue)
	c.sendMu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.logger.Info("async consumer stopped",
			zap.Int64("handled", c.handled.Load()),
			zap.Int64("failed", c.failed.Load()),
		)
		return nil
	case <-ctx.Done():
		c.logger.Warn("async consumer stop timed out", zap.Int("pending", c.Pending()))
		return ctx.Err()
	}
}

// IsRunning reports whether the workers are running
func (c *AsyncConsumer) IsRunning() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.isRunning
}

// Pending returns the number of buffered events
func (c *AsyncConsumer) Pending() int {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.queue == nil {
		return 0
	}
	return len(c.queue)
}

// Handled returns the number of events the handler processed without error
func (c *AsyncConsumer) Handled() int64 {
	return c.handled.Load()
}

// Failed returns the number of events whose handler returned an error or panicked
func (c *AsyncConsumer) Failed() int64 {
	return c.failed.Load()
}

func (c *AsyncConsumer) worker(queue <-chan envelope) {
	defer c.wg.Done()
	for env := range queue {
		c.process(env)
	}
}

func (c *AsyncConsumer) process(env envelope) {
	ctx := env.ctx
	if c.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandlerTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.safeHandle(ctx, env.event); err != nil {
		c.failed.Add(1)
		c.logger.Error("async event handler failed",
			zap.String("event_type", env.event.EventType()),
			zap.String("event_id", env.event.EventID().String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	c.handled.Add(1)
}

func (c *AsyncConsumer) safeHandle(ctx context.Context, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event: handler panicked: %v", r)
		}
	}()
	return c.handler.Handle(ctx, event)
}

var _ shared.EventHandler = (*AsyncConsumer)(nil)
