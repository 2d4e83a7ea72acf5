package resilience

import (
	"context"
	"sync"

	"github.com/crosslist/backend/internal/domain/integration"
)

// DefaultBatchConcurrency is the per-marketplace concurrency of ExecuteBatch
const DefaultBatchConcurrency = 2

// BatchResult is the outcome of one request in a batch
type BatchResult struct {
	Request  integration.Request
	Response *integration.Response
	Err      error
	// Dispatched is false when the batch stopped before the request started
	Dispatched bool
}

// ExecuteBatch runs reqs grouped by marketplace. Each marketplace group runs at
// most perMarketplace calls at once; groups proceed independently. Once ctx is
// done no new request is dispatched and already started ones finish.
// Results are returned in request order.
func (c *RetryingCaller) ExecuteBatch(ctx context.Context, reqs []integration.Request, opts CallOptions, perMarketplace int) []BatchResult {
	if perMarketplace <= 0 {
		perMarketplace = DefaultBatchConcurrency
	}

	results := make([]BatchResult, len(reqs))
	groups := make(map[integration.MarketplaceID][]int)
	var order []integration.MarketplaceID
	for i, r := range reqs {
		results[i].Request = r
		if _, ok := groups[r.Marketplace]; !ok {
			order = append(order, r.Marketplace)
		}
		groups[r.Marketplace] = append(groups[r.Marketplace], i)
	}

	var wg sync.WaitGroup
	for _, m := range order {
		wg.Add(1)
		go func(indexes []int) {
			defer wg.Done()
			c.runGroup(ctx, reqs, indexes, results, opts, perMarketplace)
		}(groups[m])
	}
	wg.Wait()
	return results
}

func (c *RetryingCaller) runGroup(ctx context.Context, reqs []integration.Request, indexes []int, results []BatchResult, opts CallOptions, limit int) {
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, idx := range indexes {
		if ctx.Err() != nil {
			results[idx].Err = ctx.Err()
			continue
		}
		select {
		case <-ctx.Done():
			results[idx].Err = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		results[idx].Dispatched = true
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			resp, err := c.Execute(ctx, reqs[i], opts)
			results[i].Response = resp
			results[i].Err = err
		}(idx)
	}
	wg.Wait()
}
