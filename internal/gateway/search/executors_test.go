package search

import (
	"context"
	"testing"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(limit int) models.Pagination {
	return models.Pagination{Page: 1, Limit: limit}
}

func TestTraditional_CacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	req := Request{Query: "wooden chair", Page: page(10)}

	first, err := env.trad.Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Performance.CacheHit)
	assert.Equal(t, StrategyTraditional, first.Performance.Strategy)
	assert.Equal(t, 1, env.db.searchCalls)

	second, err := env.trad.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Performance.CacheHit)
	assert.Equal(t, ids(first.Items), ids(second.Items))
	assert.Equal(t, 1, env.db.searchCalls)
}

func TestTraditional_NormalizesQueryForCaching(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, err := env.trad.Execute(ctx, Request{Query: "Wooden  Chair", Page: page(10)})
	require.NoError(t, err)
	res, err := env.trad.Execute(ctx, Request{Query: "wooden chair", Page: page(10)})
	require.NoError(t, err)

	assert.True(t, res.Performance.CacheHit)
}

func TestTraditional_PropagatesEngineFailure(t *testing.T) {
	env := newTestEnv()
	env.db.failSearch = true

	_, err := env.trad.Execute(context.Background(), Request{Query: "chair", Page: page(10)})
	assert.Error(t, err)
}

func TestAIEnhanced_FallbackIdempotence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.analyzer.err = &ai.AnalysisError{Kind: ai.KindProvider}
	req := Request{Query: "recommend a similar phone", Page: page(10)}

	viaFallback, err := env.aiExec.Execute(ctx, req)
	require.NoError(t, err)

	direct, err := env.trad.Execute(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, StrategyFallbackTraditional, viaFallback.Performance.Strategy)
	assert.Equal(t, "ai_provider_error", viaFallback.Performance.FallbackReason)
	assert.Equal(t, ids(direct.Items), ids(viaFallback.Items))
}

func TestAIEnhanced_TimeoutAndMalformedHandledIdentically(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []ai.ErrorKind{ai.KindTimeout, ai.KindMalformed, ai.KindProvider} {
		env := newTestEnv()
		env.analyzer.err = &ai.AnalysisError{Kind: kind, Raw: "{oops"}

		res, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(10)})
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, StrategyFallbackTraditional, res.Performance.Strategy)
		assert.Equal(t, "ai_"+string(kind), res.Performance.FallbackReason)
	}
}

func TestAIEnhanced_ConsumesQuotaAndTracksCost(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(10), Context: models.SearchContext{UserID: "u1"}})
	require.NoError(t, err)

	res := env.limiter.Check(AIQuotaKey, 10, false)
	assert.Equal(t, 9, res.Remaining)

	rec := env.costs.Today(AIServiceName)
	assert.InDelta(t, 0.002, rec.TotalUSD, 1e-9)
	assert.Equal(t, 1, rec.DistinctUsers)
}

func TestAIEnhanced_AdmissionDeniedAtExecutor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	for i := 0; i < 10; i++ {
		env.limiter.Check(AIQuotaKey, 10, true)
	}

	res, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(10)})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallbackTraditional, res.Performance.Strategy)
	assert.Equal(t, ReasonAIRateLimited, res.Performance.FallbackReason)
	assert.Zero(t, env.analyzer.queryCalls)
}

func TestAIEnhanced_FusesVectorBranch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.index.Add("v1", []float32{1, 0, 0}))
	require.NoError(t, env.index.Add("v2", []float32{0, 1, 0}))

	res, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(4)})
	require.NoError(t, err)
	assert.Equal(t, StrategyAIEnhanced, res.Performance.Strategy)
	// Vector neighbor v1 (exact match on the stub embedding) made it in.
	assert.Contains(t, ids(res.Items), "v1")
}

func TestAIEnhanced_RelationalBranchFailureUsesVectorOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.db.failSearch = true
	env.db.failTrending = true
	require.NoError(t, env.index.Add("v1", []float32{1, 0, 0}))

	res, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(4)})
	require.NoError(t, err)
	assert.Equal(t, StrategyAIEnhanced, res.Performance.Strategy)
	assert.Equal(t, []string{"v1"}, ids(res.Items))
}

func TestAIEnhanced_VectorBranchFailureUsesRelationalOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.index.Add("v1", []float32{1, 0, 0}))
	env.embedder.err = &ai.AnalysisError{Kind: ai.KindProvider}

	res, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(2)})
	require.NoError(t, err)
	assert.Equal(t, StrategyAIEnhanced, res.Performance.Strategy)
	assert.Equal(t, []string{"t1", "t2"}, ids(res.Items))
}

func TestAIEnhanced_BothBranchesFailedFallsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.db.failSearch = true
	env.embedder.err = &ai.AnalysisError{Kind: ai.KindProvider}
	require.NoError(t, env.index.Add("v1", []float32{1, 0, 0}))

	// Traditional fallback also hits the failing engine, so the error
	// finally surfaces.
	_, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(2)})
	assert.Error(t, err)
}

func TestAIEnhanced_PadsWithTrending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	res, err := env.aiExec.Execute(ctx, Request{Query: "recommend a phone", Page: page(5)})
	require.NoError(t, err)
	// Two relational hits padded with trending listings, no duplicates.
	assert.Len(t, res.Items, 5)
	seen := map[string]bool{}
	for _, id := range ids(res.Items) {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestAIEnhanced_AppliesRankingFactors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.db.items = []models.ListingSummary{listing("expensive", 900, 0), listing("cheap", 100, 0)}
	env.analyzer.query = &ai.QueryAnalysis{
		Keywords:       []string{"phone"},
		RankingFactors: []ai.RankingFactor{ai.RankPriceAsc},
		Confidence:     0.9,
	}

	res, err := env.aiExec.Execute(ctx, Request{Query: "cheapest phone", Page: page(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"cheap", "expensive"}, ids(res.Items))
}

func TestAIEnhanced_CacheHitSkipsAI(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	req := Request{Query: "recommend a phone", Page: page(10)}

	_, err := env.aiExec.Execute(ctx, req)
	require.NoError(t, err)

	res, err := env.aiExec.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Performance.CacheHit)
	assert.Equal(t, 1, env.analyzer.queryCalls)
	// The second request consumed no quota.
	assert.Equal(t, 9, env.limiter.Check(AIQuotaKey, 10, false).Remaining)
}

func TestImage_SuccessServesVectorMatches(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.index.Add("v1", []float32{1, 0, 0}))

	res, err := env.imageExec.Execute(ctx, Request{Image: []byte{1, 2, 3}, Page: page(3)})
	require.NoError(t, err)
	assert.Equal(t, StrategyImage, res.Performance.Strategy)
	assert.Contains(t, ids(res.Items), "v1")
	assert.Equal(t, 1, env.analyzer.imageCalls)

	rec := env.costs.Today(VisionServiceName)
	assert.InDelta(t, 0.01, rec.TotalUSD, 1e-9)
}

func TestImage_AnalysisFailureFallsBackToTrending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.analyzer.err = &ai.AnalysisError{Kind: ai.KindTimeout}

	res, err := env.imageExec.Execute(ctx, Request{Image: []byte{1, 2, 3}, Page: page(3)})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, res.Performance.Strategy)
	assert.Equal(t, "ai_timeout", res.Performance.FallbackReason)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids(res.Items))
}

func TestImage_AdmissionDeniedFallsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	for i := 0; i < 10; i++ {
		env.limiter.Check(AIQuotaKey, 10, true)
	}

	res, err := env.imageExec.Execute(ctx, Request{Image: []byte{1, 2, 3}, Page: page(3)})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, res.Performance.Strategy)
	assert.Equal(t, ReasonAIRateLimited, res.Performance.FallbackReason)
	assert.Zero(t, env.analyzer.imageCalls)
}

func TestImage_EmptyIndexPadsViaExtractedKeywords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	res, err := env.imageExec.Execute(ctx, Request{Image: []byte{1, 2, 3}, Page: page(2)})
	require.NoError(t, err)
	assert.Equal(t, StrategyImage, res.Performance.Strategy)
	assert.Equal(t, []string{"t1", "t2"}, ids(res.Items))
	// The relational pad used the vision keywords.
	assert.Equal(t, "red bicycle", env.db.lastQuery)
}

func TestImage_CacheHit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.index.Add("v1", []float32{1, 0, 0}))
	req := Request{Image: []byte{1, 2, 3}, Page: page(3)}

	_, err := env.imageExec.Execute(ctx, req)
	require.NoError(t, err)

	res, err := env.imageExec.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Performance.CacheHit)
	assert.Equal(t, 1, env.analyzer.imageCalls)
}

func TestFallback_ServesTrending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	res, err := env.fb.Execute(ctx, Request{Page: page(2)})
	require.NoError(t, err)
	assert.Equal(t, StrategyFallback, res.Performance.Strategy)
	assert.Equal(t, []string{"p1", "p2"}, ids(res.Items))
}

func TestMeteredEmbedder_TracksSpend(t *testing.T) {
	ctx := context.Background()
	costs := ratelimit.NewCostTracker(100, nil)
	inner := &stubEmbedder{}
	metered := NewMeteredEmbedder(inner, costs, 0.0001)

	_, err := metered.Embed(ctx, "red bicycle")
	require.NoError(t, err)
	assert.InDelta(t, 0.0001, costs.Today(EmbeddingServiceName).TotalUSD, 1e-9)

	inner.err = &ai.AnalysisError{Kind: ai.KindProvider}
	_, err = metered.Embed(ctx, "broken")
	require.Error(t, err)
	// Failed calls are not charged.
	assert.InDelta(t, 0.0001, costs.Today(EmbeddingServiceName).TotalUSD, 1e-9)
}
