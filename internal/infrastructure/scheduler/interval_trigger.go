package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is periodic work run by an IntervalTrigger
type Task func(ctx context.Context) error

// IntervalTrigger runs a task at a fixed interval until stopped
type IntervalTrigger struct {
	name     string
	interval time.Duration
	task     Task
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRunAt time.Time
	lastErr   error
}

// NewIntervalTrigger creates a trigger; name is used in logs only
func NewIntervalTrigger(name string, interval time.Duration, task Task, logger *zap.Logger) (*IntervalTrigger, error) {
	if interval <= 0 || task == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntervalTrigger{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With(zap.String("trigger", name)),
	}, nil
}

// Start starts the trigger loop
func (t *IntervalTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Interval trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop stops the trigger and waits for a running task to return
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs the task once on the calling goroutine
func (t *IntervalTrigger) RunNow(ctx context.Context) error {
	err := t.task(ctx)

	t.mu.Lock()
	t.lastRunAt = time.Now()
	t.lastErr = err
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		t.logger.Error("Interval task failed", zap.Error(err))
	}
	return err
}

// LastRun returns when the task last ran and its error
func (t *IntervalTrigger) LastRun() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRunAt, t.lastErr
}

func (t *IntervalTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = t.RunNow(ctx)
		}
	}
}
