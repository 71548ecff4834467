package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/cache"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/gateway/vector"
	"github.com/fleamart/search-gateway/internal/shared/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listing(id string, price int64, views int64) models.ListingSummary {
	return models.ListingSummary{
		ID:         id,
		Title:      "listing " + id,
		PriceCents: price,
		Currency:   "USD",
		ViewCount:  views,
		CreatedAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func scored(id string, score float64) models.ListingSummary {
	l := listing(id, 1000, 10)
	l.Score = score
	return l
}

// fakeRelational is an in-memory stand-in for the Postgres collaborator.
type fakeRelational struct {
	mu           sync.Mutex
	items        []models.ListingSummary
	total        int
	trendingSet  []models.ListingSummary
	failSearch   bool
	failTrending bool

	searchCalls int
	lastQuery   string
	lastFilters models.SearchFilters
}

func (f *fakeRelational) SearchListings(ctx context.Context, query string, filters models.SearchFilters, page models.Pagination) ([]models.ListingSummary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastQuery = query
	f.lastFilters = filters
	if f.failSearch {
		return nil, 0, fmt.Errorf("relational engine unreachable")
	}
	total := f.total
	if total == 0 {
		total = len(f.items)
	}
	return append([]models.ListingSummary(nil), f.items...), total, nil
}

func (f *fakeRelational) TrendingListings(ctx context.Context, limit int) ([]models.ListingSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTrending {
		return nil, fmt.Errorf("relational engine unreachable")
	}
	if limit < len(f.trendingSet) {
		return append([]models.ListingSummary(nil), f.trendingSet[:limit]...), nil
	}
	return append([]models.ListingSummary(nil), f.trendingSet...), nil
}

func (f *fakeRelational) ListingsByIDs(ctx context.Context, ids []string) ([]models.ListingSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	catalog := map[string]models.ListingSummary{}
	for _, l := range append(append([]models.ListingSummary(nil), f.items...), f.trendingSet...) {
		catalog[l.ID] = l
	}
	out := []models.ListingSummary{}
	for _, id := range ids {
		if l, ok := catalog[id]; ok {
			out = append(out, l)
		} else {
			out = append(out, listing(id, 1000, 1))
		}
	}
	return out, nil
}

// fakeAnalyzer returns canned analyses or a forced failure.
type fakeAnalyzer struct {
	query *ai.QueryAnalysis
	image *ai.ImageAnalysis
	err   error

	queryCalls int
	imageCalls int
}

func (f *fakeAnalyzer) AnalyzeQuery(ctx context.Context, query string) (*ai.QueryAnalysis, error) {
	f.queryCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.query != nil {
		return f.query, nil
	}
	return &ai.QueryAnalysis{Keywords: []string{query}, Confidence: 0.9}, nil
}

func (f *fakeAnalyzer) AnalyzeImage(ctx context.Context, image []byte) (*ai.ImageAnalysis, error) {
	f.imageCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.image != nil {
		return f.image, nil
	}
	return &ai.ImageAnalysis{Caption: "a red bicycle", Keywords: []string{"red", "bicycle"}, Confidence: 0.9}, nil
}

// stubEmbedder returns a fixed vector for any text.
type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.vec != nil {
		return s.vec, nil
	}
	return []float32{1, 0, 0}, nil
}

// captureLogs records search log writes.
type captureLogs struct {
	mu      sync.Mutex
	entries []*models.SearchLog
}

func (c *captureLogs) LogSearch(ctx context.Context, log *models.SearchLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, log)
	return nil
}

func (c *captureLogs) wait(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.entries)
		c.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// testEnv bundles a fully wired executor set over fakes.
type testEnv struct {
	db        *fakeRelational
	store     *cache.Memory
	analyzer  *fakeAnalyzer
	embedder  *stubEmbedder
	index     *vector.Index
	limiter   *ratelimit.Limiter
	costs     *ratelimit.CostTracker
	trad      *TraditionalExecutor
	aiExec    *AIEnhancedExecutor
	imageExec *ImageExecutor
	fb        *FallbackExecutor
}

func newTestEnv() *testEnv {
	db := &fakeRelational{
		items:       []models.ListingSummary{scored("t1", 0.9), scored("t2", 0.5)},
		trendingSet: []models.ListingSummary{listing("p1", 500, 900), listing("p2", 700, 800), listing("p3", 900, 700)},
	}
	store := cache.NewMemory(1000)
	analyzer := &fakeAnalyzer{}
	embedder := &stubEmbedder{}
	index := vector.NewIndex(3)
	limiter := ratelimit.NewLimiter(time.Minute)
	costs := ratelimit.NewCostTracker(1000, nil)

	trad := NewTraditionalExecutor(db, store, time.Minute)
	fb := NewFallbackExecutor(db, store, time.Minute)
	aiExec := NewAIEnhancedExecutor(
		AIEnhancedConfig{AILimitPerWindow: 10, CostPerCallUSD: 0.002, CacheTTL: time.Minute},
		db, store, analyzer, embedder, index, limiter, costs, trad, testLogger(),
	)
	imageExec := NewImageExecutor(
		ImageConfig{AILimitPerWindow: 10, CostPerCallUSD: 0.01, CacheTTL: time.Minute},
		db, store, analyzer, embedder, index, limiter, costs, fb, testLogger(),
	)

	return &testEnv{
		db: db, store: store, analyzer: analyzer, embedder: embedder,
		index: index, limiter: limiter, costs: costs,
		trad: trad, aiExec: aiExec, imageExec: imageExec, fb: fb,
	}
}
