package search

import (
	"context"
	"fmt"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/cache"
)

// TraditionalExecutor serves queries straight from the relational
// full-text engine. It is the cheapest path and the landing zone for
// every AI fallback.
type TraditionalExecutor struct {
	db    Relational
	store cache.Store
	ttl   time.Duration
}

// NewTraditionalExecutor creates the relational executor.
func NewTraditionalExecutor(db Relational, store cache.Store, ttl time.Duration) *TraditionalExecutor {
	return &TraditionalExecutor{db: db, store: store, ttl: ttl}
}

func (e *TraditionalExecutor) cacheKey(req Request) string {
	return cache.Key("search_traditional",
		normalizeQuery(req.Query),
		req.Filters, req.Page.Page, req.Page.Limit, req.Page.SortBy, req.Page.SortOrder)
}

// Execute consults the cache, then the relational engine on miss.
func (e *TraditionalExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	key := e.cacheKey(req)

	var cached Result
	if cache.GetJSON(ctx, e.store, key, &cached) {
		cached.Performance = Performance{Strategy: StrategyTraditional, CacheHit: true}
		return &cached, nil
	}

	items, total, err := e.db.SearchListings(ctx, normalizeQuery(req.Query), req.Filters, req.Page)
	if err != nil {
		return nil, fmt.Errorf("relational search: %w", err)
	}

	result := &Result{
		Items:       items,
		Pagination:  pageInfo(req.Page, total),
		Performance: Performance{Strategy: StrategyTraditional},
	}

	cache.SetJSON(ctx, e.store, key, result, e.ttl)
	return result, nil
}
