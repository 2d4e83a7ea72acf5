package integration

import (
	"math"
	"time"
)

// HealthHalfLife is how fast old hourly buckets lose weight in the score
const HealthHalfLife = 6 * time.Hour

// HealthBucket holds ingest counters for one marketplace hour
type HealthBucket struct {
	Marketplace  MarketplaceID `json:"marketplace"`
	Hour         time.Time     `json:"hour"`
	Total        int           `json:"total"`
	Success      int           `json:"success"`
	Failed       int           `json:"failed"`
	TotalLatency time.Duration `json:"total_latency"`
}

// NewHealthBucket creates a bucket for the hour containing at
func NewHealthBucket(m MarketplaceID, at time.Time) HealthBucket {
	return HealthBucket{Marketplace: m, Hour: at.UTC().Truncate(time.Hour)}
}

// Record counts one processed event
func (b *HealthBucket) Record(success bool, latency time.Duration) {
	b.Total++
	if success {
		b.Success++
	} else {
		b.Failed++
	}
	b.TotalLatency += latency
}

// AvgLatency returns the mean processing latency
func (b HealthBucket) AvgLatency() time.Duration {
	if b.Total == 0 {
		return 0
	}
	return b.TotalLatency / time.Duration(b.Total)
}

// HealthScore is a success rate in [0,1] where each bucket is weighted by
// volume and halves in influence every HealthHalfLife. No data scores 1.
func HealthScore(buckets []HealthBucket, now time.Time) float64 {
	var weighted, weight float64
	for _, b := range buckets {
		if b.Total == 0 {
			continue
		}
		age := now.Sub(b.Hour)
		if age < 0 {
			age = 0
		}
		decay := math.Pow(0.5, float64(age)/float64(HealthHalfLife))
		w := decay * float64(b.Total)
		weighted += w * float64(b.Success) / float64(b.Total)
		weight += w
	}
	if weight == 0 {
		return 1
	}
	return weighted / weight
}

// MarketplaceStatus is the operator view of one marketplace's resilience state
type MarketplaceStatus struct {
	Marketplace  MarketplaceID `json:"marketplace"`
	DisplayName  string        `json:"display_name"`
	BreakerState BreakerState  `json:"breaker_state"`
	Windows      []WindowUsage `json:"windows"`
	HealthScore  float64       `json:"health_score"`
	// Hourly holds the recent ingest buckets, oldest first
	Hourly []HealthBucket `json:"hourly,omitempty"`
	// AvgLatencyMS is the mean ingest latency of the newest bucket
	AvgLatencyMS int64 `json:"avg_latency_ms"`
}
