package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
)

// maxResponseSize caps how much of a marketplace response is read (10MB)
const maxResponseSize = 10 * 1024 * 1024

// defaultPollBackoff is used when a throttled poll carries no Retry-After
const defaultPollBackoff = time.Minute

// TokenSource returns a seller's access token, or "" when not connected
type TokenSource func(userID string) string

// HTTPClient is a REST MarketplaceClient:
//
//	POST   {base}/listings
//	PUT    {base}/listings/{external_id}
//	DELETE {base}/listings/{external_id}
//	GET    {base}/me
//	GET    {base}/sales?since=RFC3339
//
// Every completed exchange is returned as a Response regardless of status.
type HTTPClient struct {
	config     ClientConfig
	tokens     TokenSource
	httpClient *http.Client
}

// NewHTTPClient creates a REST client
func NewHTTPClient(config ClientConfig, tokens TokenSource, httpClient *http.Client) (*HTTPClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BaseURL == "" {
		return nil, ErrConfigInvalidBaseURL
	}
	if tokens == nil {
		tokens = func(string) string { return "" }
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPClient{
		config:     config,
		tokens:     tokens,
		httpClient: httpClient,
	}, nil
}

// Marketplace implements integration.MarketplaceClient
func (c *HTTPClient) Marketplace() integration.MarketplaceID {
	return c.config.Marketplace
}

// CreateListing implements integration.MarketplaceClient
func (c *HTTPClient) CreateListing(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return c.do(ctx, http.MethodPost, "/listings", req.UserID, req.Payload)
}

// UpdateListing implements integration.MarketplaceClient
func (c *HTTPClient) UpdateListing(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return c.do(ctx, http.MethodPut, "/listings/"+url.PathEscape(req.ExternalID), req.UserID, req.Payload)
}

// DeleteListing implements integration.MarketplaceClient
func (c *HTTPClient) DeleteListing(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return c.do(ctx, http.MethodDelete, "/listings/"+url.PathEscape(req.ExternalID), req.UserID, nil)
}

// PollingEnabled reports whether PollSales is available
func (c *HTTPClient) PollingEnabled() bool {
	return c.config.PollingEnabled
}

// TestConnection implements integration.MarketplaceClient
func (c *HTTPClient) TestConnection(ctx context.Context, req integration.Request) (*integration.Response, error) {
	return c.do(ctx, http.MethodGet, "/me", req.UserID, nil)
}

// salesPage is the poll response: a list of generic notifications
type salesPage struct {
	Events []GenericNotification `json:"events"`
}

// PollSales implements integration.SalesPoller
func (c *HTTPClient) PollSales(ctx context.Context, userID string, since time.Time) ([]integration.CanonicalEvent, error) {
	if !c.config.PollingEnabled {
		return nil, integration.ErrPollingNotSupported
	}

	path := "/sales?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	resp, err := c.do(ctx, http.MethodGet, path, userID, nil)
	if err != nil {
		return nil, &integration.NetworkError{Marketplace: c.config.Marketplace, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		wait := defaultPollBackoff
		if h := resilience.ParseLimitHeaders(resp.Header, time.Now()); h.RetryAfter != nil {
			wait = *h.RetryAfter
		}
		return nil, &integration.RateLimitError{Marketplace: c.config.Marketplace, WaitTime: wait, FromResponse: true, Reason: "poll returned 429"}
	}
	if !resp.IsSuccess() {
		if err := integration.ErrorFromStatus(c.config.Marketplace, resp.StatusCode, resp.Body); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("marketplace: %s poll returned %d", c.config.Marketplace, resp.StatusCode)
	}

	var page salesPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrUnrecognizedPayload, err)
	}

	now := time.Now()
	events := make([]integration.CanonicalEvent, 0, len(page.Events))
	for _, n := range page.Events {
		ev, err := n.toCanonical(c.config.Marketplace, now)
		if err != nil {
			continue
		}
		ev.Source = integration.SourcePolling
		events = append(events, *ev)
	}
	return events, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, userID string, payload map[string]any) (*integration.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marketplace: encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("marketplace: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens(userID); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("marketplace: read response: %w", err)
	}

	return &integration.Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		Header:     resp.Header,
		Latency:    time.Since(start),
	}, nil
}
