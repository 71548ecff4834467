package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/cache"
	"github.com/fleamart/search-gateway/internal/shared/models"
)

// interBatchPause is the cooperative yield between candidate batches so
// precompute never starves request serving.
const interBatchPause = 250 * time.Millisecond

// CandidateSource supplies listings worth precomputing.
type CandidateSource interface {
	CandidateListings(ctx context.Context, limit int) ([]models.ListingSummary, error)
}

// QuerySource supplies previously popular queries for cache warming.
type QuerySource interface {
	PopularQueries(limit int) []string
}

// WarmFunc re-executes one query through the normal search path.
type WarmFunc func(ctx context.Context, query string) error

// PrecomputerConfig tunes the two background schedules.
type PrecomputerConfig struct {
	SimilarityInterval time.Duration
	BatchSize          int
	TopN               int
	CandidateLimit     int
	CacheTTL           time.Duration

	WarmingInterval time.Duration
	WarmingSample   int
}

// Precomputer runs two independent background jobs: a similarity batch
// build that fills the cache with per-listing neighbor lists, and a
// warming pass that replays popular queries through the executor path.
// Failures in either job are logged and contained.
type Precomputer struct {
	cfg      PrecomputerConfig
	index    *Index
	store    cache.Store
	source   CandidateSource
	embedder ai.Embedder
	queries  QuerySource
	warm     WarmFunc
	logger   *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPrecomputer wires the precomputer. queries and warm may be nil to
// disable the warming schedule.
func NewPrecomputer(cfg PrecomputerConfig, index *Index, store cache.Store, source CandidateSource, embedder ai.Embedder, queries QuerySource, warm WarmFunc, logger *slog.Logger) *Precomputer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 200
	}
	return &Precomputer{
		cfg:      cfg,
		index:    index,
		store:    store,
		source:   source,
		embedder: embedder,
		queries:  queries,
		warm:     warm,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// SimilarityKey is the cache key holding the neighbor list for a listing.
func SimilarityKey(listingID string) string {
	return cache.Key("similar", listingID)
}

// Start launches the background schedules. They run until Stop.
func (p *Precomputer) Start(ctx context.Context) {
	if p.cfg.SimilarityInterval > 0 {
		p.wg.Add(1)
		go p.loop(ctx, p.cfg.SimilarityInterval, "similarity", p.RunSimilarityPass)
	}
	if p.cfg.WarmingInterval > 0 && p.warm != nil && p.queries != nil {
		p.wg.Add(1)
		go p.loop(ctx, p.cfg.WarmingInterval, "warming", p.RunWarmingPass)
	}
}

// Stop halts both schedules and waits for in-flight passes to finish.
func (p *Precomputer) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Precomputer) loop(ctx context.Context, interval time.Duration, name string, pass func(context.Context) error) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := pass(ctx); err != nil {
				p.logger.Warn("background pass failed", "job", name, "error", err)
				continue
			}
			p.logger.Debug("background pass complete", "job", name, "elapsed", time.Since(start))
		}
	}
}

// RunSimilarityPass selects candidates, ensures they are indexed, and
// stores each candidate's top-N neighbor list in the cache. Candidates
// are processed in fixed-size batches with a pause between batches.
func (p *Precomputer) RunSimilarityPass(ctx context.Context) error {
	candidates, err := p.source.CandidateListings(ctx, p.cfg.CandidateLimit)
	if err != nil {
		return fmt.Errorf("selecting candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	var built, failed int
	for start := 0; start < len(candidates); start += p.cfg.BatchSize {
		if err := p.pause(ctx, start); err != nil {
			return err
		}

		end := start + p.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		for _, listing := range candidates[start:end] {
			if err := p.buildSimilarityList(ctx, listing); err != nil {
				failed++
				p.logger.Debug("similarity build failed", "listing", listing.ID, "error", err)
				continue
			}
			built++
		}
	}

	p.logger.Info("similarity pass complete", "candidates", len(candidates), "built", built, "failed", failed)
	return nil
}

// buildSimilarityList indexes the listing if needed, then caches its
// neighbor list. Lists are recomputed wholesale, never incrementally.
func (p *Precomputer) buildSimilarityList(ctx context.Context, listing models.ListingSummary) error {
	vec, ok := p.index.Vector(listing.ID)
	if !ok {
		embedded, err := p.embedder.Embed(ctx, ListingText(listing))
		if err != nil {
			return fmt.Errorf("embedding listing: %w", err)
		}
		if err := p.index.Add(listing.ID, embedded); err != nil {
			return fmt.Errorf("indexing listing: %w", err)
		}
		vec, _ = p.index.Vector(listing.ID)
	}

	// Ask for one extra so the listing itself can be filtered out.
	neighbors, err := p.index.Search(vec, p.cfg.TopN+1)
	if err != nil {
		return fmt.Errorf("neighbor search: %w", err)
	}

	list := SimilarityList{SourceID: listing.ID, Neighbors: make([]Neighbor, 0, p.cfg.TopN)}
	for _, n := range neighbors {
		if n.ID == listing.ID {
			continue
		}
		list.Neighbors = append(list.Neighbors, n)
		if len(list.Neighbors) == p.cfg.TopN {
			break
		}
	}

	cache.SetJSON(ctx, p.store, SimilarityKey(listing.ID), list, p.cfg.CacheTTL)
	return nil
}

// RunWarmingPass replays a sample of popular queries through the normal
// search path to refresh their cache entries ahead of demand. Warming
// requests consume admission quota like any other caller.
func (p *Precomputer) RunWarmingPass(ctx context.Context) error {
	queries := p.queries.PopularQueries(p.cfg.WarmingSample)

	var warmed, failed int
	for _, q := range queries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		default:
		}

		if err := p.warm(ctx, q); err != nil {
			failed++
			p.logger.Debug("cache warm failed", "query", q, "error", err)
			continue
		}
		warmed++
	}

	if warmed+failed > 0 {
		p.logger.Info("warming pass complete", "warmed", warmed, "failed", failed)
	}
	return nil
}

// pause yields between batches, honoring shutdown.
func (p *Precomputer) pause(ctx context.Context, start int) error {
	if start == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return nil
	case <-time.After(interBatchPause):
		return nil
	}
}

// ListingText flattens a listing into the text that gets embedded.
func ListingText(l models.ListingSummary) string {
	parts := []string{l.Title}
	if l.Description != "" {
		parts = append(parts, l.Description)
	}
	if l.Condition != "" {
		parts = append(parts, l.Condition)
	}
	return strings.Join(parts, "\n")
}
