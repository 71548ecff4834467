package search

import (
	"sort"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/shared/models"
)

// Rerank applies a stable multi-key sort using the ranking factors in
// the order given; ties on one factor fall through to the next. An
// empty factor list leaves the input ordering untouched.
func Rerank(items []models.ListingSummary, factors []ai.RankingFactor) {
	if len(factors) == 0 {
		return
	}

	sort.SliceStable(items, func(i, j int) bool {
		for _, f := range factors {
			switch cmp := compareByFactor(items[i], items[j], f); {
			case cmp < 0:
				return true
			case cmp > 0:
				return false
			}
		}
		return false
	})
}

// compareByFactor orders a before b (negative), after (positive), or
// ties (zero) under a single factor. Unknown factors always tie.
func compareByFactor(a, b models.ListingSummary, f ai.RankingFactor) int {
	switch f {
	case ai.RankPriceAsc:
		return compareInt64(a.PriceCents, b.PriceCents)
	case ai.RankPriceDesc:
		return compareInt64(b.PriceCents, a.PriceCents)
	case ai.RankPopularity:
		return compareInt64(b.ViewCount, a.ViewCount)
	case ai.RankRecency:
		if a.CreatedAt.Equal(b.CreatedAt) {
			return 0
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	case ai.RankRelevance:
		return compareFloat64(b.Score, a.Score)
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
