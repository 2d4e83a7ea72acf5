package resilience

import (
	"sort"
	"sync"

	"github.com/crosslist/backend/internal/domain/integration"
)

// LimitTable resolves the limit configuration for a marketplace and seller.
// Sellers with an override get their own limiter key.
type LimitTable struct {
	mu        sync.RWMutex
	limits    map[integration.MarketplaceID]integration.LimitConfig
	overrides map[string]integration.LimitConfig
}

// NewLimitTable creates a table from static marketplace limits
func NewLimitTable(limits ...integration.LimitConfig) *LimitTable {
	t := &LimitTable{
		limits:    make(map[integration.MarketplaceID]integration.LimitConfig, len(limits)),
		overrides: make(map[string]integration.LimitConfig),
	}
	for _, l := range limits {
		t.limits[l.Marketplace] = l
	}
	return t
}

// Set replaces the limits of one marketplace
func (t *LimitTable) Set(cfg integration.LimitConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[cfg.Marketplace] = cfg
}

// SetUserOverride installs seller-specific limits
func (t *LimitTable) SetUserOverride(userID string, cfg integration.LimitConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[integration.ScopeKey(cfg.Marketplace, userID)] = cfg
}

// Resolve returns the effective limits and the state key they are tracked under.
// Unknown marketplaces get the conservative default.
func (t *LimitTable) Resolve(m integration.MarketplaceID, userID string) (integration.LimitConfig, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if userID != "" {
		scoped := integration.ScopeKey(m, userID)
		if cfg, ok := t.overrides[scoped]; ok {
			return cfg, scoped
		}
	}
	if cfg, ok := t.limits[m]; ok {
		return cfg, string(m)
	}
	return integration.DefaultLimitConfig(m), string(m)
}

// Marketplaces returns every configured marketplace id, sorted
func (t *LimitTable) Marketplaces() []integration.MarketplaceID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]integration.MarketplaceID, 0, len(t.limits))
	for m := range t.limits {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
