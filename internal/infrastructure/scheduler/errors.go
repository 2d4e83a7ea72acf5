package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when an operation needs a started scheduler
	ErrSchedulerNotRunning = errors.New("scheduler: not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")

	// ErrNoExecutor is returned when a job type has no registered executor
	ErrNoExecutor = errors.New("scheduler: no executor registered for job type")
)
