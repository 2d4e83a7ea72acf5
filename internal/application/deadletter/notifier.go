package deadletter

import (
	"context"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

// EventNotifier raises escalations as DeadLetterEscalated domain events.
// Whoever subscribes to the event delivers the out-of-band notification.
type EventNotifier struct {
	publisher shared.EventPublisher
	clock     shared.Clock
}

// NewEventNotifier creates an EventNotifier
func NewEventNotifier(publisher shared.EventPublisher, clock shared.Clock) *EventNotifier {
	return &EventNotifier{publisher: publisher, clock: shared.ClockOrSystem(clock)}
}

// NotifyEscalation publishes the escalation event
func (n *EventNotifier) NotifyEscalation(ctx context.Context, entry *integration.DeadLetterEntry) error {
	return n.publisher.Publish(ctx, integration.NewDeadLetterEscalatedEvent(entry, n.clock.Now()))
}

var _ integration.EscalationNotifier = (*EventNotifier)(nil)
