package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
)

// AIQuotaKey is the shared admission key for the AI tier.
const AIQuotaKey = "quota:ai"

// complexityKeywords are terms that historically benefit from semantic
// understanding rather than literal matching.
var complexityKeywords = []string{
	"similar", "like", "recommend", "suggest", "alternative", "compare",
	"best", "cheapest", "affordable", "good for", "instead of",
}

// interrogativePattern matches open-ended question-shaped queries.
var interrogativePattern = regexp.MustCompile(`(?i)^(what|which|where|how|should|can you|do you)\b|\?\s*$`)

// semanticCategories are category IDs whose queries historically gain
// from AI reranking.
var semanticCategories = map[string]bool{
	"electronics":  true,
	"phones":       true,
	"computers":    true,
	"fashion":      true,
	"collectibles": true,
}

// AdmissionChecker is the slice of the limiter the selector needs.
type AdmissionChecker interface {
	Check(key string, limit int, consume bool) ratelimit.Result
}

// SelectorConfig tunes strategy selection.
type SelectorConfig struct {
	MinQueryLength     int
	AILimitPerWindow   int
	EstimatedAICostUSD float64
	// ExtraPatterns are optional operator-supplied complexity patterns.
	// Patterns that fail to compile are ignored, never fatal.
	ExtraPatterns []string
}

// Selector decides which execution path a request takes. It is
// deterministic given its inputs except for the admission peek, which
// reads externally mutated state.
type Selector struct {
	cfg       SelectorConfig
	admission AdmissionChecker
	extra     []*regexp.Regexp
}

// NewSelector creates a selector gated by the given admission checker.
func NewSelector(cfg SelectorConfig, admission AdmissionChecker) *Selector {
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = 3
	}

	var extra []*regexp.Regexp
	for _, p := range cfg.ExtraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		extra = append(extra, re)
	}

	return &Selector{cfg: cfg, admission: admission, extra: extra}
}

// Select applies the decision order: short query, image payload,
// complexity heuristics, caller AI preference, default. An AIEnhanced
// candidate is then subject to a non-consuming admission peek; denial
// downgrades to Traditional. Actual quota consumption happens at the
// executor boundary.
func (s *Selector) Select(req Request) Decision {
	query := strings.TrimSpace(req.Query)

	if len(req.Image) > 0 {
		return Decision{
			UseAI:            true,
			Path:             StrategyImage,
			Reason:           ReasonImageSearch,
			Confidence:       0.95,
			EstimatedCostUSD: s.cfg.EstimatedAICostUSD,
		}
	}

	if utf8.RuneCountInString(query) < s.cfg.MinQueryLength {
		return Decision{
			Path:       StrategyTraditional,
			Reason:     ReasonQueryTooShort,
			Confidence: 0.95,
		}
	}

	candidate, reason, confidence := s.classify(query, req)

	if candidate != StrategyAIEnhanced {
		return Decision{Path: StrategyTraditional, Reason: reason, Confidence: confidence}
	}

	// Peek only: abandoned requests must not burn quota.
	if res := s.admission.Check(AIQuotaKey, s.cfg.AILimitPerWindow, false); !res.Allowed {
		return Decision{
			Path:       StrategyTraditional,
			Reason:     ReasonAIRateLimited,
			Confidence: confidence,
		}
	}

	return Decision{
		UseAI:            true,
		Path:             StrategyAIEnhanced,
		Reason:           reason,
		Confidence:       confidence,
		EstimatedCostUSD: s.cfg.EstimatedAICostUSD,
	}
}

// classify applies the complexity heuristics and caller preferences.
func (s *Selector) classify(query string, req Request) (Strategy, string, float64) {
	lower := strings.ToLower(query)

	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			return StrategyAIEnhanced, ReasonComplexQuery, 0.85
		}
	}

	if interrogativePattern.MatchString(query) {
		return StrategyAIEnhanced, ReasonComplexQuery, 0.75
	}

	for _, re := range s.extra {
		if re.MatchString(query) {
			return StrategyAIEnhanced, ReasonComplexQuery, 0.7
		}
	}

	if semanticCategories[req.Filters.CategoryID] {
		return StrategyAIEnhanced, ReasonComplexQuery, 0.65
	}

	if req.Context.PreferAI || req.Context.SubscriptionTier == "premium" {
		return StrategyAIEnhanced, ReasonAIPreference, 0.6
	}

	return StrategyTraditional, ReasonDefault, 0.8
}
