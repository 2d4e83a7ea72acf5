package shared

import (
	"context"
	"time"
)

// IdempotencyStore records dedup keys of deliveries that were already handled
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been processed
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget removes a key so a failed delivery can be accepted again
	Forget(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for dedup handling
type IdempotencyConfig struct {
	// TTL is how long a processed key is remembered.
	// Default: 72 hours, longer than any marketplace redelivery window.
	TTL time.Duration

	// Enabled determines whether dedup checking is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default dedup configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     72 * time.Hour,
		Enabled: true,
	}
}
