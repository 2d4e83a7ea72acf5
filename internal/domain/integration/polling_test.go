package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollSchedule_Adapts(t *testing.T) {
	cfg := DefaultPollingConfig()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("sales shrink the interval down to min", func(t *testing.T) {
		s := NewPollSchedule(MarketplaceMercari, "u1", cfg, now)
		prev := s.CurrentInterval
		s.RecordSuccess(cfg, 2, now)
		assert.Less(t, s.CurrentInterval, prev)
		assert.Equal(t, 4*time.Minute, s.CurrentInterval)
		assert.Equal(t, now.Add(4*time.Minute), s.NextRunAt)
		assert.NotNil(t, s.LastSaleAt)

		for i := 0; i < 50; i++ {
			s.RecordSuccess(cfg, 1, now)
		}
		assert.Equal(t, cfg.MinInterval, s.CurrentInterval)
	})

	t.Run("quiet polls grow the interval up to max", func(t *testing.T) {
		s := NewPollSchedule(MarketplaceMercari, "u1", cfg, now)
		s.RecordSuccess(cfg, 0, now)
		assert.Equal(t, 6*time.Minute, s.CurrentInterval)

		for i := 0; i < 50; i++ {
			s.RecordSuccess(cfg, 0, now)
		}
		assert.Equal(t, cfg.MaxInterval, s.CurrentInterval)
	})

	t.Run("failures grow faster with each consecutive failure", func(t *testing.T) {
		s := NewPollSchedule(MarketplaceMercari, "u1", cfg, now)
		var growth []float64
		prev := s.CurrentInterval
		for i := 0; i < 3; i++ {
			s.RecordFailure(cfg, now)
			assert.Greater(t, s.CurrentInterval, prev)
			growth = append(growth, float64(s.CurrentInterval)/float64(prev))
			prev = s.CurrentInterval
		}
		assert.Equal(t, 3, s.ConsecutiveFailures)
		assert.Less(t, growth[0], growth[1])
		assert.Less(t, growth[1], growth[2])

		for i := 0; i < 10; i++ {
			s.RecordFailure(cfg, now)
		}
		assert.Equal(t, cfg.MaxInterval, s.CurrentInterval)

		s.RecordSuccess(cfg, 0, now)
		assert.Zero(t, s.ConsecutiveFailures)
	})

	t.Run("due only when enabled and past next run", func(t *testing.T) {
		s := NewPollSchedule(MarketplaceMercari, "u1", cfg, now)
		assert.True(t, s.IsDue(now))
		s.RecordSuccess(cfg, 0, now)
		assert.False(t, s.IsDue(now.Add(time.Minute)))
		assert.True(t, s.IsDue(s.NextRunAt))
		s.Enabled = false
		assert.False(t, s.IsDue(s.NextRunAt))
	})
}

func TestPollingConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultPollingConfig().Validate())
	assert.Error(t, PollingConfig{MinInterval: time.Minute, MaxInterval: time.Second}.Validate())
	assert.Error(t, PollingConfig{MinInterval: time.Minute, MaxInterval: time.Hour, DefaultInterval: 2 * time.Hour}.Validate())
}
