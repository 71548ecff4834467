package search

import (
	"context"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
)

// EmbeddingServiceName is the metered service label for embedding spend.
const EmbeddingServiceName = "openai-embeddings"

// MeteredEmbedder charges every successful embedding call to the cost
// tracker. Wrap it around the uncached provider so LRU hits stay free.
type MeteredEmbedder struct {
	inner      ai.Embedder
	costs      *ratelimit.CostTracker
	perCallUSD float64
}

// NewMeteredEmbedder wraps inner with cost tracking.
func NewMeteredEmbedder(inner ai.Embedder, costs *ratelimit.CostTracker, perCallUSD float64) *MeteredEmbedder {
	return &MeteredEmbedder{inner: inner, costs: costs, perCallUSD: perCallUSD}
}

// Embed delegates to the wrapped embedder and records the spend.
func (m *MeteredEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := m.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	m.costs.Track(EmbeddingServiceName, m.perCallUSD, "")
	return vec, nil
}
