// Package search implements strategy selection and the per-strategy
// executors that sit between callers and the relational/AI collaborators.
package search

import (
	"context"
	"regexp"
	"strings"

	"github.com/fleamart/search-gateway/internal/shared/models"
)

// Strategy is the closed set of execution paths.
type Strategy string

const (
	StrategyTraditional Strategy = "traditional"
	StrategyAIEnhanced  Strategy = "ai_enhanced"
	StrategyImage       Strategy = "image"
	StrategyFallback    Strategy = "fallback_popular"

	// StrategyFallbackTraditional tags results produced by re-entering
	// the traditional path after an AI failure. It is a performance
	// annotation, never a selector decision.
	StrategyFallbackTraditional Strategy = "fallback_traditional"
)

// Selection reasons surfaced in StrategyDecision.Reason.
const (
	ReasonQueryTooShort = "query_too_short"
	ReasonImageSearch   = "image_search_required"
	ReasonComplexQuery  = "complex_query_benefits_from_ai"
	ReasonAIPreference  = "ai_preference_enabled"
	ReasonDefault       = "default_traditional"
	ReasonAIRateLimited = "ai_rate_limited"
)

// Request is a normalized search request entering the core.
type Request struct {
	Query   string               `json:"query,omitempty"`
	Image   []byte               `json:"imagePayload,omitempty"`
	Filters models.SearchFilters `json:"filters"`
	Page    models.Pagination    `json:"pagination"`
	Context models.SearchContext `json:"context"`
}

// Decision is the outcome of strategy selection. Produced fresh per
// request and never persisted.
type Decision struct {
	UseAI            bool     `json:"useAI"`
	Path             Strategy `json:"chosenPath"`
	Reason           string   `json:"reason"`
	Confidence       float64  `json:"confidence"`
	EstimatedCostUSD float64  `json:"estimatedCost"`
}

// Performance describes how a result was produced.
type Performance struct {
	Strategy       Strategy `json:"strategy"`
	ResponseTimeMs int      `json:"responseTimeMs"`
	CacheHit       bool     `json:"cacheHit"`
	FallbackReason string   `json:"fallbackReason,omitempty"`
}

// PageInfo is the pagination envelope of a result.
type PageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Result is the uniform output of every executor.
type Result struct {
	Items       []models.ListingSummary `json:"results"`
	Pagination  PageInfo                `json:"pagination"`
	Performance Performance             `json:"performance"`
}

// Executor is the shape every strategy implements.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Relational is the full-text search collaborator boundary. The
// backing engine is assumed to support ranked full-text matching,
// arbitrary filter predicates and stable pagination.
type Relational interface {
	SearchListings(ctx context.Context, query string, filters models.SearchFilters, page models.Pagination) ([]models.ListingSummary, int, error)
	TrendingListings(ctx context.Context, limit int) ([]models.ListingSummary, error)
	ListingsByIDs(ctx context.Context, ids []string) ([]models.ListingSummary, error)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeQuery lowercases and collapses whitespace so equal queries
// share cache keys.
func normalizeQuery(q string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(q)), " ")
}

// pageInfo derives the pagination envelope from a total row count.
func pageInfo(page models.Pagination, total int) PageInfo {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	p := page.Page
	if p <= 0 {
		p = 1
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return PageInfo{Page: p, Limit: limit, Total: total, TotalPages: totalPages}
}
