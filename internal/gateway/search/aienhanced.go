package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/cache"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/gateway/vector"
	"github.com/fleamart/search-gateway/internal/shared/models"
	"golang.org/x/sync/errgroup"
)

// AIServiceName is the metered service label for text analysis spend.
const AIServiceName = "openai"

// AIEnhancedExecutor runs the hybrid path: AI query analysis, then a
// relational branch and a vector branch issued concurrently, fused and
// reranked by the analysis hints. Any AI failure re-enters the
// traditional path; raw provider errors never reach the caller.
type AIEnhancedExecutor struct {
	db          Relational
	store       cache.Store
	analyzer    ai.Analyzer
	embedder    ai.Embedder
	index       *vector.Index
	admission   AdmissionChecker
	costs       *ratelimit.CostTracker
	traditional *TraditionalExecutor
	weights     FusionWeights
	limit       int
	costPerCall float64
	ttl         time.Duration
	logger      *slog.Logger
}

// AIEnhancedConfig wires the hybrid executor.
type AIEnhancedConfig struct {
	AILimitPerWindow int
	CostPerCallUSD   float64
	CacheTTL         time.Duration
	Weights          FusionWeights
}

// NewAIEnhancedExecutor creates the hybrid executor.
func NewAIEnhancedExecutor(
	cfg AIEnhancedConfig,
	db Relational,
	store cache.Store,
	analyzer ai.Analyzer,
	embedder ai.Embedder,
	index *vector.Index,
	admission AdmissionChecker,
	costs *ratelimit.CostTracker,
	traditional *TraditionalExecutor,
	logger *slog.Logger,
) *AIEnhancedExecutor {
	weights := cfg.Weights
	if weights.Text == 0 && weights.Vector == 0 {
		weights = DefaultFusionWeights()
	}
	return &AIEnhancedExecutor{
		db:          db,
		store:       store,
		analyzer:    analyzer,
		embedder:    embedder,
		index:       index,
		admission:   admission,
		costs:       costs,
		traditional: traditional,
		weights:     weights,
		limit:       cfg.AILimitPerWindow,
		costPerCall: cfg.CostPerCallUSD,
		ttl:         cfg.CacheTTL,
		logger:      logger,
	}
}

func (e *AIEnhancedExecutor) cacheKey(req Request) string {
	return cache.Key("search_ai",
		normalizeQuery(req.Query),
		req.Filters, req.Page.Page, req.Page.Limit, req.Page.SortBy, req.Page.SortOrder)
}

// Execute serves from cache when possible; otherwise consumes AI quota,
// analyzes the query and runs the hybrid branches.
func (e *AIEnhancedExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	key := e.cacheKey(req)

	var cached Result
	if cache.GetJSON(ctx, e.store, key, &cached) {
		cached.Performance = Performance{Strategy: StrategyAIEnhanced, CacheHit: true}
		return &cached, nil
	}

	// Consume quota here, not in the selector: the selector only peeked
	// and another caller may have taken the last slot since.
	if res := e.admission.Check(AIQuotaKey, e.limit, true); !res.Allowed {
		return e.fallback(ctx, req, ReasonAIRateLimited)
	}

	analysis, err := e.analyzer.AnalyzeQuery(ctx, req.Query)
	if err != nil {
		e.logAIFailure("query analysis", err)
		return e.fallback(ctx, req, failureReason(err))
	}
	e.costs.Track(AIServiceName, e.costPerCall, req.Context.UserID)

	limit := req.Page.Limit
	if limit <= 0 {
		limit = 20
	}

	// The two candidate branches run concurrently; a failure in one
	// leaves the other's results standing.
	var textItems, vecItems []models.ListingSummary
	var textTotal int
	var textErr, vecErr error

	enhanced := req
	enhanced.Query = enhanceQuery(req.Query, analysis)

	var g errgroup.Group
	g.Go(func() error {
		textItems, textTotal, textErr = e.db.SearchListings(ctx, normalizeQuery(enhanced.Query), req.Filters, req.Page)
		return nil
	})
	g.Go(func() error {
		vecItems, vecErr = e.vectorCandidates(ctx, req.Query, limit)
		return nil
	})
	_ = g.Wait()

	if textErr != nil && vecErr != nil {
		// Both branches failed; nothing to fuse.
		return e.fallback(ctx, req, "hybrid_branches_failed")
	}
	if textErr != nil {
		e.logger.Warn("relational branch failed, using vector candidates only", "error", textErr)
		textItems = nil
	}
	if vecErr != nil {
		e.logger.Debug("vector branch failed, using relational candidates only", "error", vecErr)
		vecItems = nil
	}

	items := Fuse(textItems, vecItems, e.weights, limit)

	if len(items) < limit {
		if filler, err := e.db.TrendingListings(ctx, limit); err == nil {
			items = Pad(items, filler, limit)
		}
	}

	Rerank(items, analysis.RankingFactors)

	total := textTotal
	if len(items) > total {
		total = len(items)
	}

	result := &Result{
		Items:       items,
		Pagination:  pageInfo(req.Page, total),
		Performance: Performance{Strategy: StrategyAIEnhanced},
	}

	cache.SetJSON(ctx, e.store, key, result, e.ttl)
	return result, nil
}

// vectorCandidates embeds the query and pulls nearest listings from the
// index, hydrated in neighbor order.
func (e *AIEnhancedExecutor) vectorCandidates(ctx context.Context, query string, limit int) ([]models.ListingSummary, error) {
	if e.index.Len() == 0 {
		return nil, nil
	}

	vec, err := e.embedder.Embed(ctx, normalizeQuery(query))
	if err != nil {
		return nil, err
	}

	neighbors, err := e.index.Search(vec, limit)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]string, len(neighbors))
	scores := make(map[string]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
		scores[n.ID] = n.Score
	}

	items, err := e.db.ListingsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Score = scores[items[i].ID]
	}
	return items, nil
}

// fallback re-enters the traditional path, annotating the result so
// observability can see both the downgrade and its cause.
func (e *AIEnhancedExecutor) fallback(ctx context.Context, req Request, reason string) (*Result, error) {
	result, err := e.traditional.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Performance.Strategy = StrategyFallbackTraditional
	result.Performance.FallbackReason = reason
	return result, nil
}

func (e *AIEnhancedExecutor) logAIFailure(op string, err error) {
	var analysisErr *ai.AnalysisError
	if errors.As(err, &analysisErr) && analysisErr.Kind == ai.KindMalformed {
		// Keep the offending payload for diagnosis.
		e.logger.Warn("ai returned malformed output", "op", op, "raw", analysisErr.Raw, "error", err)
		return
	}
	e.logger.Warn("ai call failed", "op", op, "error", err)
}

// failureReason maps an AI error to a stable fallback reason string.
func failureReason(err error) string {
	var analysisErr *ai.AnalysisError
	if errors.As(err, &analysisErr) {
		return "ai_" + string(analysisErr.Kind)
	}
	return "ai_error"
}

// enhanceQuery folds analysis keywords into the relational query while
// keeping the user's original terms first.
func enhanceQuery(query string, analysis *ai.QueryAnalysis) string {
	terms := []string{strings.TrimSpace(query)}
	seen := map[string]bool{normalizeQuery(query): true}
	for _, kw := range analysis.Keywords {
		norm := normalizeQuery(kw)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		terms = append(terms, kw)
	}
	return strings.Join(terms, " ")
}
