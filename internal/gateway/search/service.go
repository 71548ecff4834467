package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fleamart/search-gateway/internal/shared/models"
)

// collaboratorBudget bounds how long a detached execution may keep
// running after the caller is gone.
const collaboratorBudget = 30 * time.Second

// popularQueryCapacity bounds the popular-query counter LRU.
const popularQueryCapacity = 500

// SearchLogger persists per-request analytics.
type SearchLogger interface {
	LogSearch(ctx context.Context, log *models.SearchLog) error
}

// Service composes the selector and the executors into the single
// entry point request handling and cache warming share.
type Service struct {
	selector    *Selector
	traditional Executor
	aiEnhanced  Executor
	image       Executor
	fallback    Executor
	logs        SearchLogger
	logger      *slog.Logger
	popular     *popularQueries
}

// NewService wires the orchestrator. logs may be nil to disable
// analytics persistence.
func NewService(selector *Selector, traditional, aiEnhanced, image, fallback Executor, logs SearchLogger, logger *slog.Logger) *Service {
	return &Service{
		selector:    selector,
		traditional: traditional,
		aiEnhanced:  aiEnhanced,
		image:       image,
		fallback:    fallback,
		logs:        logs,
		logger:      logger,
		popular:     newPopularQueries(popularQueryCapacity),
	}
}

// Search selects a strategy and executes it. Execution is detached from
// the caller's context: a disconnected caller gets control back
// immediately, while the in-flight collaborator call completes and its
// result still lands in the cache for the next caller. Execution itself
// is time-bounded, so nothing hangs indefinitely.
func (s *Service) Search(ctx context.Context, req Request) (*Result, Decision, error) {
	start := time.Now()
	decision := s.selector.Select(req)

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), collaboratorBudget)

	type outcome struct {
		result *Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer cancel()

		result, err := s.executor(decision.Path).Execute(detached, req)
		if err != nil && decision.Path != StrategyFallback {
			// Last line of defense before surfacing failure.
			s.logger.Warn("strategy failed, serving trending fallback", "strategy", decision.Path, "error", err)
			if fb, fbErr := s.fallback.Execute(detached, req); fbErr == nil {
				fb.Performance.FallbackReason = "strategy_failed"
				result, err = fb, nil
			}
		}

		if err == nil && req.Query != "" {
			s.popular.Record(normalizeQuery(req.Query))
		}
		s.record(req, decision, result, err, time.Since(start))

		ch <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, decision, ctx.Err()
	case o := <-ch:
		if o.err != nil {
			return nil, decision, fmt.Errorf("all search strategies failed: %w", o.err)
		}
		o.result.Performance.ResponseTimeMs = int(time.Since(start).Milliseconds())
		return o.result, decision, nil
	}
}

// Warm re-executes a query through the normal path to refresh its cache
// entry. Warming consumes admission quota like any other caller.
func (s *Service) Warm(ctx context.Context, query string) error {
	req := Request{
		Query: query,
		Page:  models.Pagination{Page: 1, Limit: 20},
	}
	_, _, err := s.Search(ctx, req)
	return err
}

// PopularQueries returns up to limit of the most requested queries.
func (s *Service) PopularQueries(limit int) []string {
	return s.popular.Top(limit)
}

func (s *Service) executor(path Strategy) Executor {
	switch path {
	case StrategyAIEnhanced:
		return s.aiEnhanced
	case StrategyImage:
		return s.image
	case StrategyFallback:
		return s.fallback
	default:
		return s.traditional
	}
}

// record persists the search log off the request path so analytics
// never block a response.
func (s *Service) record(req Request, decision Decision, result *Result, execErr error, elapsed time.Duration) {
	if s.logs == nil {
		return
	}

	entry := &models.SearchLog{
		Query:     normalizeQuery(req.Query),
		Strategy:  string(decision.Path),
		LatencyMs: int(elapsed.Milliseconds()),
	}
	if req.Context.APIKeyID != "" {
		entry.APIKeyID = &req.Context.APIKeyID
	}
	if req.Context.UserID != "" {
		entry.UserID = &req.Context.UserID
	}
	if decision.UseAI {
		entry.CostUSD = decision.EstimatedCostUSD
	}
	if result != nil {
		entry.Strategy = string(result.Performance.Strategy)
		entry.ResultCount = len(result.Items)
		entry.CacheHit = result.Performance.CacheHit
		if result.Performance.FallbackReason != "" {
			entry.FallbackUsed = true
			reason := result.Performance.FallbackReason
			entry.FallbackReason = &reason
		}
	}
	if execErr != nil {
		reason := execErr.Error()
		entry.FallbackUsed = true
		entry.FallbackReason = &reason
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.logs.LogSearch(ctx, entry); err != nil {
			s.logger.Debug("search log write failed", "error", err)
		}
	}()
}

// popularQueries counts query frequency in a bounded LRU so the warmer
// has a sample of what to refresh.
type popularQueries struct {
	mu     sync.Mutex
	counts *lru.Cache[string, int]
}

func newPopularQueries(capacity int) *popularQueries {
	counts, _ := lru.New[string, int](capacity)
	return &popularQueries{counts: counts}
}

func (p *popularQueries) Record(query string) {
	if query == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	count, _ := p.counts.Get(query)
	p.counts.Add(query, count+1)
}

// Top returns up to n queries ordered by descending count.
func (p *popularQueries) Top(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	type qc struct {
		query string
		count int
	}
	all := make([]qc, 0, p.counts.Len())
	for _, key := range p.counts.Keys() {
		if count, ok := p.counts.Peek(key); ok {
			all = append(all, qc{key, count})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].query < all[j].query
	})

	if n > len(all) {
		n = len(all)
	}
	top := make([]string, n)
	for i := 0; i < n; i++ {
		top[i] = all[i].query
	}
	return top
}
