package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/crosslist/backend/internal/domain/integration"
)

// Errors returned while loading the marketplace catalog
var (
	// ErrCatalogNotFound is returned when the catalog file does not exist
	ErrCatalogNotFound = errors.New("config: marketplace catalog not found")
	// ErrInvalidCatalog is returned when the catalog fails validation
	ErrInvalidCatalog = errors.New("config: invalid marketplace catalog")
)

// Catalog is the per-marketplace configuration file.
//
//	marketplaces:
//	  - id: ebay
//	    base_url: https://api.ebay.example
//	    webhook_secret_env: EBAY_WEBHOOK_SECRET
//	    limits: {per_minute: 60, per_hour: 1000, per_day: 5000, burst: 5}
type Catalog struct {
	Marketplaces []MarketplaceEntry `yaml:"marketplaces" validate:"required,min=1,unique=ID,dive"`
}

// MarketplaceEntry configures one marketplace
type MarketplaceEntry struct {
	ID          string `yaml:"id" validate:"required,lowercase,min=2,max=32"`
	DisplayName string `yaml:"display_name"`
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	// Normalizer selects the webhook payload shape: ebay, etsy or generic
	Normalizer        string `yaml:"normalizer" validate:"omitempty,oneof=ebay etsy generic"`
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookSecretEnv  string `yaml:"webhook_secret_env"`
	SignatureHeader   string `yaml:"signature_header"`
	SignatureEncoding string `yaml:"signature_encoding" validate:"omitempty,oneof=hex base64"`
	PollingEnabled    bool   `yaml:"polling_enabled"`

	Limits        LimitsEntry      `yaml:"limits"`
	Breaker       *BreakerEntry    `yaml:"breaker"`
	UserOverrides []UserOverride   `yaml:"user_overrides" validate:"dive"`
	Connections   []ConnectionInfo `yaml:"connections" validate:"dive"`
}

// LimitsEntry holds published request limits
type LimitsEntry struct {
	PerMinute      int     `yaml:"per_minute" validate:"gte=0"`
	PerHour        int     `yaml:"per_hour" validate:"gte=0"`
	PerDay         int     `yaml:"per_day" validate:"gte=0"`
	Burst          int     `yaml:"burst" validate:"gte=0"`
	PriorityWeight float64 `yaml:"priority_weight" validate:"gte=0"`
}

// BreakerEntry overrides breaker defaults for one marketplace
type BreakerEntry struct {
	FailureThreshold    int           `yaml:"failure_threshold" validate:"gte=0"`
	SuccessThreshold    int           `yaml:"success_threshold" validate:"gte=0"`
	Cooldown            time.Duration `yaml:"cooldown" validate:"gte=0"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests" validate:"gte=0,lte=3"`
}

// UserOverride replaces the marketplace limits for one seller
type UserOverride struct {
	UserID string      `yaml:"user_id" validate:"required"`
	Limits LimitsEntry `yaml:"limits"`
}

// ConnectionInfo is a seller's connection to a marketplace
type ConnectionInfo struct {
	UserID   string `yaml:"user_id" validate:"required"`
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
}

// LoadCatalog reads and validates the catalog at path
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("config: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks struct tags and per-entry limit rules
func (c *Catalog) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	for _, m := range c.Marketplaces {
		if err := m.LimitConfig().Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, m.ID, err)
		}
		for _, o := range m.UserOverrides {
			if err := m.overrideConfig(o).Validate(); err != nil {
				return fmt.Errorf("%w: %s user %s: %v", ErrInvalidCatalog, m.ID, o.UserID, err)
			}
		}
	}
	return nil
}

// Marketplace returns the entry for id
func (c *Catalog) Marketplace(id integration.MarketplaceID) (MarketplaceEntry, bool) {
	for _, m := range c.Marketplaces {
		if integration.MarketplaceID(m.ID) == id {
			return m, true
		}
	}
	return MarketplaceEntry{}, false
}

// MarketplaceID returns the typed id
func (m MarketplaceEntry) MarketplaceID() integration.MarketplaceID {
	return integration.MarketplaceID(m.ID)
}

// Secret resolves the webhook secret, preferring the environment reference
func (m MarketplaceEntry) Secret() string {
	if m.WebhookSecretEnv != "" {
		if v := os.Getenv(m.WebhookSecretEnv); v != "" {
			return v
		}
	}
	return m.WebhookSecret
}

// LimitConfig converts the entry limits to the domain shape
func (m MarketplaceEntry) LimitConfig() integration.LimitConfig {
	return m.Limits.toDomain(m.MarketplaceID())
}

// UserLimitConfigs returns the per-user overrides keyed by user id
func (m MarketplaceEntry) UserLimitConfigs() map[string]integration.LimitConfig {
	out := make(map[string]integration.LimitConfig, len(m.UserOverrides))
	for _, o := range m.UserOverrides {
		out[o.UserID] = m.overrideConfig(o)
	}
	return out
}

func (m MarketplaceEntry) overrideConfig(o UserOverride) integration.LimitConfig {
	return o.Limits.toDomain(m.MarketplaceID())
}

// BreakerConfig merges the entry's breaker overrides onto defaults
func (m MarketplaceEntry) BreakerConfig(defaults integration.BreakerConfig) integration.BreakerConfig {
	cfg := defaults
	if m.Breaker == nil {
		return cfg
	}
	if m.Breaker.FailureThreshold > 0 {
		cfg.FailureThreshold = m.Breaker.FailureThreshold
	}
	if m.Breaker.SuccessThreshold > 0 {
		cfg.SuccessThreshold = m.Breaker.SuccessThreshold
	}
	if m.Breaker.Cooldown > 0 {
		cfg.Cooldown = m.Breaker.Cooldown
	}
	if m.Breaker.HalfOpenMaxRequests > 0 {
		cfg.HalfOpenMaxRequests = m.Breaker.HalfOpenMaxRequests
	}
	return cfg
}

// ResolveToken returns the access token, preferring the environment reference
func (c ConnectionInfo) ResolveToken() string {
	if c.TokenEnv != "" {
		if v := os.Getenv(c.TokenEnv); v != "" {
			return v
		}
	}
	return c.Token
}

func (l LimitsEntry) toDomain(m integration.MarketplaceID) integration.LimitConfig {
	weight := l.PriorityWeight
	if weight == 0 {
		weight = 1
	}
	return integration.LimitConfig{
		Marketplace:    m,
		PerMinute:      l.PerMinute,
		PerHour:        l.PerHour,
		PerDay:         l.PerDay,
		Burst:          l.Burst,
		PriorityWeight: weight,
	}
}
