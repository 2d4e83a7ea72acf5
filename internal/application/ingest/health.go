package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
)

const healthKeyPrefix = "ingest:health:"

// DefaultHealthRetention is how many hourly buckets are kept per marketplace
const DefaultHealthRetention = 48

// HealthTracker keeps rolling per-marketplace hourly ingest counters in the
// shared state store so every instance contributes to one score
type HealthTracker struct {
	store     integration.StateStore
	retention int
	clock     shared.Clock
	logger    *zap.Logger
}

// NewHealthTracker creates a tracker keeping retention hourly buckets
func NewHealthTracker(store integration.StateStore, retention int, clock shared.Clock, logger *zap.Logger) *HealthTracker {
	if retention <= 0 {
		retention = DefaultHealthRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthTracker{
		store:     store,
		retention: retention,
		clock:     shared.ClockOrSystem(clock),
		logger:    logger,
	}
}

// Record counts one ingested event in the current hour
func (h *HealthTracker) Record(ctx context.Context, m integration.MarketplaceID, success bool, latency time.Duration) {
	now := h.clock.Now()
	err := h.store.Update(ctx, healthKeyPrefix+string(m), func(current []byte) ([]byte, error) {
		buckets, err := decodeBuckets(current)
		if err != nil {
			return nil, err
		}
		bucket := integration.NewHealthBucket(m, now)
		if n := len(buckets); n > 0 && buckets[n-1].Hour.Equal(bucket.Hour) {
			buckets[n-1].Record(success, latency)
		} else {
			bucket.Record(success, latency)
			buckets = append(buckets, bucket)
		}
		return json.Marshal(h.prune(buckets, now))
	})
	if err != nil {
		h.logger.Warn("Failed to record ingest health",
			zap.String("marketplace", string(m)),
			zap.Error(err),
		)
	}
}

// Buckets returns the retained buckets of m, oldest first
func (h *HealthTracker) Buckets(ctx context.Context, m integration.MarketplaceID) ([]integration.HealthBucket, error) {
	raw, err := h.store.Get(ctx, healthKeyPrefix+string(m))
	if err != nil {
		return nil, err
	}
	buckets, err := decodeBuckets(raw)
	if err != nil {
		return nil, err
	}
	return h.prune(buckets, h.clock.Now()), nil
}

// Score returns the decaying health score of m; no data scores 1
func (h *HealthTracker) Score(ctx context.Context, m integration.MarketplaceID) (float64, error) {
	buckets, err := h.Buckets(ctx, m)
	if err != nil {
		return 0, err
	}
	return integration.HealthScore(buckets, h.clock.Now()), nil
}

func (h *HealthTracker) prune(buckets []integration.HealthBucket, now time.Time) []integration.HealthBucket {
	cutoff := now.UTC().Truncate(time.Hour).Add(-time.Duration(h.retention-1) * time.Hour)
	kept := buckets[:0]
	for _, b := range buckets {
		if !b.Hour.Before(cutoff) {
			kept = append(kept, b)
		}
	}
	return kept
}

func decodeBuckets(raw []byte) ([]integration.HealthBucket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var buckets []integration.HealthBucket
	if err := json.Unmarshal(raw, &buckets); err != nil {
		return nil, fmt.Errorf("ingest: decode health buckets: %w", err)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Hour.Before(buckets[j].Hour) })
	return buckets, nil
}
