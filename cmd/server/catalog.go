package main

import (
	"fmt"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/config"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
)

// applyCatalog installs catalog limits, seller overrides and breaker settings,
// and returns the display names it declares
func applyCatalog(catalog *config.Catalog, limits *resilience.LimitTable, breaker *resilience.CircuitBreaker, defaults integration.BreakerConfig) (map[integration.MarketplaceID]string, error) {
	names := make(map[integration.MarketplaceID]string, len(catalog.Marketplaces))
	for _, entry := range catalog.Marketplaces {
		id := entry.MarketplaceID()
		limits.Set(entry.LimitConfig())
		for userID, cfg := range entry.UserLimitConfigs() {
			limits.SetUserOverride(userID, cfg)
		}
		if entry.Breaker != nil {
			if err := breaker.SetConfig(id, entry.BreakerConfig(defaults)); err != nil {
				return nil, fmt.Errorf("breaker config for %s: %w", id, err)
			}
		}
		if entry.DisplayName != "" {
			names[id] = entry.DisplayName
		}
	}
	return names, nil
}

func breakerDefaults(cfg config.ResilienceConfig) integration.BreakerConfig {
	defaults := integration.DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		defaults.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.SuccessThreshold > 0 {
		defaults.SuccessThreshold = cfg.SuccessThreshold
	}
	if cfg.Cooldown > 0 {
		defaults.Cooldown = cfg.Cooldown
	}
	if cfg.HalfOpenMaxRequests > 0 {
		defaults.HalfOpenMaxRequests = cfg.HalfOpenMaxRequests
	}
	return defaults
}
