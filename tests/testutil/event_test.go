package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/domain/shared"
)

func listingEvent(eventType string) *shared.BaseDomainEvent {
	e := shared.NewBaseDomainEvent(eventType, "Listing", uuid.New(), time.Now())
	return &e
}

func TestMockEventHandler_EventsOfType(t *testing.T) {
	handler := NewMockEventHandler()
	ctx := context.Background()

	first := listingEvent("SaleRecorded")
	require.NoError(t, handler.Handle(ctx, first))
	require.NoError(t, handler.Handle(ctx, listingEvent("DeadLetterEscalated")))
	require.NoError(t, handler.Handle(ctx, listingEvent("SaleRecorded")))

	assert.Equal(t, 3, handler.HandledCount())
	sales := handler.EventsOfType("SaleRecorded")
	require.Len(t, sales, 2)
	assert.Equal(t, first.EventID(), sales[0].EventID())
	assert.Empty(t, handler.EventsOfType("Unknown"))
}

func TestWaitForCondition(t *testing.T) {
	t.Run("condition met", func(t *testing.T) {
		var done atomic.Bool
		go func() {
			time.Sleep(20 * time.Millisecond)
			done.Store(true)
		}()

		assert.True(t, WaitForCondition(t, done.Load, 500*time.Millisecond, 5*time.Millisecond))
	})

	t.Run("condition not met within timeout", func(t *testing.T) {
		assert.False(t, WaitForCondition(t, func() bool { return false }, 50*time.Millisecond, 10*time.Millisecond))
	})
}

func TestWaitForEventCount(t *testing.T) {
	handler := NewMockEventHandler("SaleRecorded")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = handler.Handle(context.Background(), listingEvent("SaleRecorded"))
		_ = handler.Handle(context.Background(), listingEvent("SaleRecorded"))
	}()

	assert.True(t, WaitForEventCount(t, handler, 2, 500*time.Millisecond))
}
