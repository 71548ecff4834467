package search

import (
	"context"
	"fmt"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/cache"
)

// FallbackExecutor serves trending listings when nothing better is
// available: image analysis failed, or every other path errored.
type FallbackExecutor struct {
	db    Relational
	store cache.Store
	ttl   time.Duration
}

// NewFallbackExecutor creates the trending-listings executor.
func NewFallbackExecutor(db Relational, store cache.Store, ttl time.Duration) *FallbackExecutor {
	return &FallbackExecutor{db: db, store: store, ttl: ttl}
}

// Execute returns a page of trending listings.
func (e *FallbackExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	limit := req.Page.Limit
	if limit <= 0 {
		limit = 20
	}

	key := cache.Key("search_fallback", limit)

	var cached Result
	if cache.GetJSON(ctx, e.store, key, &cached) {
		cached.Performance = Performance{Strategy: StrategyFallback, CacheHit: true}
		return &cached, nil
	}

	items, err := e.db.TrendingListings(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("trending listings: %w", err)
	}

	result := &Result{
		Items:       items,
		Pagination:  pageInfo(req.Page, len(items)),
		Performance: Performance{Strategy: StrategyFallback},
	}

	cache.SetJSON(ctx, e.store, key, result, e.ttl)
	return result, nil
}
