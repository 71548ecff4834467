package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/cache"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/gateway/vector"
	"github.com/fleamart/search-gateway/internal/shared/models"
)

// VisionServiceName is the metered service label for image analysis.
const VisionServiceName = "openai-vision"

// ImageExecutor serves image queries: vision analysis extracts a
// caption and keywords, the caption is embedded and matched against the
// listing index, and keyword search pads thin results. There is no
// meaningful text downgrade for an image, so analysis failure falls
// back to trending listings.
type ImageExecutor struct {
	db          Relational
	store       cache.Store
	analyzer    ai.Analyzer
	embedder    ai.Embedder
	index       *vector.Index
	admission   AdmissionChecker
	costs       *ratelimit.CostTracker
	fallback    *FallbackExecutor
	limit       int
	costPerCall float64
	ttl         time.Duration
	logger      *slog.Logger
}

// ImageConfig wires the image executor.
type ImageConfig struct {
	AILimitPerWindow int
	CostPerCallUSD   float64
	CacheTTL         time.Duration
}

// NewImageExecutor creates the image search executor.
func NewImageExecutor(
	cfg ImageConfig,
	db Relational,
	store cache.Store,
	analyzer ai.Analyzer,
	embedder ai.Embedder,
	index *vector.Index,
	admission AdmissionChecker,
	costs *ratelimit.CostTracker,
	fallback *FallbackExecutor,
	logger *slog.Logger,
) *ImageExecutor {
	return &ImageExecutor{
		db:          db,
		store:       store,
		analyzer:    analyzer,
		embedder:    embedder,
		index:       index,
		admission:   admission,
		costs:       costs,
		fallback:    fallback,
		limit:       cfg.AILimitPerWindow,
		costPerCall: cfg.CostPerCallUSD,
		ttl:         cfg.CacheTTL,
		logger:      logger,
	}
}

func (e *ImageExecutor) cacheKey(req Request) string {
	sum := sha256.Sum256(req.Image)
	return cache.Key("search_image",
		hex.EncodeToString(sum[:]),
		req.Filters, req.Page.Page, req.Page.Limit)
}

// Execute consults the cache, then runs vision analysis and vector
// matching on miss.
func (e *ImageExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	key := e.cacheKey(req)

	var cached Result
	if cache.GetJSON(ctx, e.store, key, &cached) {
		cached.Performance = Performance{Strategy: StrategyImage, CacheHit: true}
		return &cached, nil
	}

	if res := e.admission.Check(AIQuotaKey, e.limit, true); !res.Allowed {
		return e.degrade(ctx, req, ReasonAIRateLimited)
	}

	analysis, err := e.analyzer.AnalyzeImage(ctx, req.Image)
	if err != nil {
		e.logger.Warn("image analysis failed", "error", err)
		return e.degrade(ctx, req, failureReason(err))
	}
	e.costs.Track(VisionServiceName, e.costPerCall, req.Context.UserID)

	limit := req.Page.Limit
	if limit <= 0 {
		limit = 20
	}

	items := e.vectorMatches(ctx, analysis, limit)

	// Thin vector results are padded through the extracted keywords,
	// the only meaningful relational degrade for an image query.
	if len(items) < limit && len(analysis.Keywords) > 0 {
		keywordReq := req
		keywordReq.Query = strings.Join(analysis.Keywords, " ")
		if extra, _, err := e.db.SearchListings(ctx, normalizeQuery(keywordReq.Query), req.Filters, req.Page); err == nil {
			items = Pad(items, extra, limit)
		}
	}

	if len(items) == 0 {
		return e.degrade(ctx, req, "no_visual_matches")
	}

	result := &Result{
		Items:       items,
		Pagination:  pageInfo(req.Page, len(items)),
		Performance: Performance{Strategy: StrategyImage},
	}

	cache.SetJSON(ctx, e.store, key, result, e.ttl)
	return result, nil
}

// vectorMatches embeds the vision caption and pulls nearest listings.
// Failures yield an empty set; the keyword pad picks up the slack.
func (e *ImageExecutor) vectorMatches(ctx context.Context, analysis *ai.ImageAnalysis, limit int) []models.ListingSummary {
	if e.index.Len() == 0 {
		return nil
	}

	text := analysis.Caption
	if text == "" {
		text = strings.Join(analysis.Keywords, " ")
	}

	vec, err := e.embedder.Embed(ctx, normalizeQuery(text))
	if err != nil {
		e.logger.Debug("caption embedding failed", "error", err)
		return nil
	}

	neighbors, err := e.index.Search(vec, limit)
	if err != nil || len(neighbors) == 0 {
		return nil
	}

	ids := make([]string, len(neighbors))
	scores := make(map[string]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
		scores[n.ID] = n.Score
	}

	items, err := e.db.ListingsByIDs(ctx, ids)
	if err != nil {
		e.logger.Debug("hydrating vector matches failed", "error", err)
		return nil
	}
	for i := range items {
		items[i].Score = scores[items[i].ID]
	}
	return items
}

// degrade serves trending listings, annotated with the failure cause.
func (e *ImageExecutor) degrade(ctx context.Context, req Request, reason string) (*Result, error) {
	result, err := e.fallback.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Performance.FallbackReason = reason
	return result, nil
}
