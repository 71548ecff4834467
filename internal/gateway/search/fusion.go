package search

import (
	"sort"

	"github.com/fleamart/search-gateway/internal/shared/models"
)

// FusionWeights splits scoring between the two hybrid branches.
type FusionWeights struct {
	Text   float64
	Vector float64
}

// DefaultFusionWeights favors the relational branch slightly; exact
// term matches are the stronger buying signal in a marketplace.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Text: 0.6, Vector: 0.4}
}

// fusedItem tracks a listing's weighted contributions during fusion.
type fusedItem struct {
	listing  models.ListingSummary
	combined float64
}

// Fuse merges two candidate result sets. Items present in both are
// merged by summing their weighted sub-scores, never by taking the max.
// The merged list is sorted descending by combined score (ties break on
// listing ID for determinism) and truncated to limit.
func Fuse(text, vec []models.ListingSummary, weights FusionWeights, limit int) []models.ListingSummary {
	if limit <= 0 {
		limit = len(text) + len(vec)
	}

	merged := make(map[string]*fusedItem, len(text)+len(vec))
	order := make([]string, 0, len(text)+len(vec))

	accumulate := func(items []models.ListingSummary, weight float64) {
		for _, l := range items {
			f, ok := merged[l.ID]
			if !ok {
				f = &fusedItem{listing: l}
				merged[l.ID] = f
				order = append(order, l.ID)
			}
			f.combined += weight * l.Score
		}
	}

	accumulate(text, weights.Text)
	accumulate(vec, weights.Vector)

	items := make([]*fusedItem, 0, len(order))
	for _, id := range order {
		items = append(items, merged[id])
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].combined != items[j].combined {
			return items[i].combined > items[j].combined
		}
		return items[i].listing.ID < items[j].listing.ID
	})

	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]models.ListingSummary, len(items))
	for i, f := range items {
		out[i] = f.listing
		out[i].Score = f.combined
	}
	return out
}

// Pad appends filler listings until items reaches limit, skipping any
// listing already present by identity.
func Pad(items, filler []models.ListingSummary, limit int) []models.ListingSummary {
	if len(items) >= limit {
		return items
	}

	seen := make(map[string]bool, len(items))
	for _, l := range items {
		seen[l.ID] = true
	}

	for _, l := range filler {
		if len(items) >= limit {
			break
		}
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		items = append(items, l)
	}

	return items
}
