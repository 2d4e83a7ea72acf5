package marketplace

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/config"
)

// Registry holds the marketplace clients, webhook adapters and seller
// connections keyed by marketplace id
type Registry struct {
	mu          sync.RWMutex
	clients     map[integration.MarketplaceID]integration.MarketplaceClient
	webhooks    map[integration.MarketplaceID]integration.WebhookAdapter
	connections map[integration.MarketplaceID]map[string]string
	logger      *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clients:     make(map[integration.MarketplaceID]integration.MarketplaceClient),
		webhooks:    make(map[integration.MarketplaceID]integration.WebhookAdapter),
		connections: make(map[integration.MarketplaceID]map[string]string),
		logger:      logger,
	}
}

// NewRegistryFromCatalog builds HTTP clients and webhook adapters for every
// catalog entry. Entries without a base URL get a webhook adapter only.
func NewRegistryFromCatalog(catalog *config.Catalog, httpClient *http.Client, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	for _, entry := range catalog.Marketplaces {
		id := entry.MarketplaceID()
		cfg := ClientConfig{
			Marketplace:       id,
			BaseURL:           entry.BaseURL,
			WebhookSecret:     entry.Secret(),
			SignatureHeader:   entry.SignatureHeader,
			SignatureEncoding: entry.SignatureEncoding,
			Normalizer:        entry.Normalizer,
			PollingEnabled:    entry.PollingEnabled,
		}
		if cfg.Normalizer == "" && (id == integration.MarketplaceEbay || id == integration.MarketplaceEtsy) {
			cfg.Normalizer = string(id)
		}

		adapter, err := NewWebhookAdapter(cfg)
		if err != nil {
			return nil, err
		}

		var client integration.MarketplaceClient
		if cfg.BaseURL != "" {
			c, err := NewHTTPClient(cfg, r.tokenSource(id), httpClient)
			if err != nil {
				return nil, err
			}
			client = c
		}
		r.Register(id, client, adapter)

		for _, conn := range entry.Connections {
			r.SetConnection(id, conn.UserID, conn.ResolveToken())
		}

		r.logger.Info("Marketplace registered",
			zap.String("marketplace", string(id)),
			zap.Bool("http_client", client != nil),
			zap.Bool("polling", cfg.PollingEnabled),
			zap.Int("connections", len(entry.Connections)),
		)
	}
	return r, nil
}

// Register adds or replaces a marketplace's client and webhook adapter. Either may be nil.
func (r *Registry) Register(id integration.MarketplaceID, client integration.MarketplaceClient, webhook integration.WebhookAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client != nil {
		r.clients[id] = client
	}
	if webhook != nil {
		r.webhooks[id] = webhook
	}
	if _, ok := r.connections[id]; !ok {
		r.connections[id] = make(map[string]string)
	}
}

// SetConnection records a seller's access token; an empty token disconnects
func (r *Registry) SetConnection(id integration.MarketplaceID, userID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.connections[id]
	if !ok {
		conns = make(map[string]string)
		r.connections[id] = conns
	}
	if token == "" {
		delete(conns, userID)
		return
	}
	conns[userID] = token
}

// Client implements integration.MarketplaceRegistry
func (r *Registry) Client(id integration.MarketplaceID) (integration.MarketplaceClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	if !ok {
		return nil, integration.ErrMarketplaceNotConfigured
	}
	return client, nil
}

// List implements integration.MarketplaceRegistry
func (r *Registry) List() []integration.MarketplaceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[integration.MarketplaceID]bool, len(r.clients)+len(r.webhooks))
	for id := range r.clients {
		seen[id] = true
	}
	for id := range r.webhooks {
		seen[id] = true
	}
	ids := make([]integration.MarketplaceID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsConnected implements integration.MarketplaceRegistry
func (r *Registry) IsConnected(_ context.Context, userID string, id integration.MarketplaceID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[id]; !ok {
		return false, nil
	}
	_, ok := r.connections[id][userID]
	return ok, nil
}

// WebhookAdapter implements integration.WebhookRegistry
func (r *Registry) WebhookAdapter(id integration.MarketplaceID) (integration.WebhookAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.webhooks[id]
	if !ok {
		return nil, integration.ErrMarketplaceNotConfigured
	}
	return adapter, nil
}

// Poller returns the marketplace's sales poller or ErrPollingNotSupported
func (r *Registry) Poller(id integration.MarketplaceID) (integration.SalesPoller, error) {
	client, err := r.Client(id)
	if err != nil {
		return nil, err
	}
	poller, ok := client.(integration.SalesPoller)
	if !ok {
		return nil, integration.ErrPollingNotSupported
	}
	if p, ok := client.(interface{ PollingEnabled() bool }); ok && !p.PollingEnabled() {
		return nil, integration.ErrPollingNotSupported
	}
	return poller, nil
}

// ConnectedUsers returns the sellers connected to a marketplace, sorted
func (r *Registry) ConnectedUsers(id integration.MarketplaceID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.connections[id]))
	for userID := range r.connections[id] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) tokenSource(id integration.MarketplaceID) TokenSource {
	return func(userID string) string {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.connections[id][userID]
	}
}
