package event

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

// ErrUnexpectedEvent is returned when a handler receives an event of the wrong concrete type
var ErrUnexpectedEvent = errors.New("event: unexpected event payload")

// HandlerFunc adapts a function to shared.EventHandler
type HandlerFunc struct {
	types []string
	fn    func(ctx context.Context, event shared.DomainEvent) error
}

// NewHandlerFunc creates a handler for the given event types
func NewHandlerFunc(fn func(ctx context.Context, event shared.DomainEvent) error, eventTypes ...string) *HandlerFunc {
	return &HandlerFunc{types: eventTypes, fn: fn}
}

// Handle calls the wrapped function
func (h *HandlerFunc) Handle(ctx context.Context, event shared.DomainEvent) error {
	return h.fn(ctx, event)
}

// EventTypes returns the configured event types
func (h *HandlerFunc) EventTypes() []string {
	return h.types
}

// EscalationLogger is the out-of-band notifier for escalated dead-letter entries.
// It logs each escalation at Error level so log-based alerting picks it up.
type EscalationLogger struct {
	logger *zap.Logger
}

// NewEscalationLogger creates an EscalationLogger
func NewEscalationLogger(logger *zap.Logger) *EscalationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationLogger{logger: logger}
}

// EventTypes returns the escalation event type
func (h *EscalationLogger) EventTypes() []string {
	return []string{integration.EventTypeDeadLetterEscalated}
}

// Handle logs the escalation
func (h *EscalationLogger) Handle(ctx context.Context, event shared.DomainEvent) error {
	e, ok := event.(*integration.DeadLetterEscalatedEvent)
	if !ok {
		return ErrUnexpectedEvent
	}
	h.logger.Error("dead letter entry escalated",
		zap.String("entry_id", e.EntryID.String()),
		zap.String("original_job_id", e.OriginalJobID.String()),
		zap.String("marketplace", string(e.Marketplace)),
		zap.String("category", string(e.Category)),
		zap.String("notes", e.Notes),
		zap.Time("escalated_at", e.OccurredAt()),
	)
	return nil
}

var (
	_ shared.EventHandler = (*HandlerFunc)(nil)
	_ shared.EventHandler = (*EscalationLogger)(nil)
)
