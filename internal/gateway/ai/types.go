// Package ai wraps the AI inference provider behind narrow, typed
// interfaces. Provider errors, timeouts and unparseable output are all
// surfaced as *AnalysisError so callers handle the three identically.
package ai

import "context"

// RankingFactor is an ordering hint returned by query analysis.
type RankingFactor string

const (
	RankPriceAsc   RankingFactor = "price_asc"
	RankPriceDesc  RankingFactor = "price_desc"
	RankPopularity RankingFactor = "popularity"
	RankRecency    RankingFactor = "recency"
	RankRelevance  RankingFactor = "relevance"
)

// QueryAnalysis is the structured result of analyzing a text query.
type QueryAnalysis struct {
	Keywords       []string          `json:"keywords"`
	CategoryHints  []string          `json:"categoryHints,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	RankingFactors []RankingFactor   `json:"rankingFactors,omitempty"`
	Confidence     float64           `json:"confidence"`
}

// ImageAnalysis is the structured result of analyzing an image payload.
type ImageAnalysis struct {
	Caption    string            `json:"caption"`
	Keywords   []string          `json:"keywords"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Confidence float64           `json:"confidence"`
}

// ErrorKind classifies an analysis failure.
type ErrorKind string

const (
	KindProvider  ErrorKind = "provider_error"
	KindTimeout   ErrorKind = "timeout"
	KindMalformed ErrorKind = "malformed_output"
)

// AnalysisError is the single error type crossing the provider boundary.
// Raw carries the offending payload for malformed output.
type AnalysisError struct {
	Kind ErrorKind
	Raw  string
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return "ai analysis failed (" + string(e.Kind) + "): " + e.Err.Error()
	}
	return "ai analysis failed (" + string(e.Kind) + ")"
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Analyzer extracts structured understanding from queries and images.
type Analyzer interface {
	AnalyzeQuery(ctx context.Context, query string) (*QueryAnalysis, error)
	AnalyzeImage(ctx context.Context, image []byte) (*ImageAnalysis, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
