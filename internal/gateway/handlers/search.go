package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/cache"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/gateway/search"
	"github.com/fleamart/search-gateway/internal/gateway/vector"
	"github.com/fleamart/search-gateway/internal/shared/models"
	"github.com/go-chi/chi/v5"
)

// ListingSource hydrates listing IDs into summaries.
type ListingSource interface {
	ListingsByIDs(ctx context.Context, ids []string) ([]models.ListingSummary, error)
}

// SearchHandlerConfig tunes request shaping and the similarity endpoint.
type SearchHandlerConfig struct {
	DefaultLimit       int
	MaxLimit           int
	SimilarityTopN     int
	SimilarityCacheTTL time.Duration
}

type SearchHandler struct {
	cfg     SearchHandlerConfig
	service *search.Service
	db      ListingSource
	store   cache.Store
	index   *vector.Index
	costs   *ratelimit.CostTracker
	logger  *slog.Logger
}

func NewSearchHandler(cfg SearchHandlerConfig, service *search.Service, db ListingSource, store cache.Store, index *vector.Index, costs *ratelimit.CostTracker, logger *slog.Logger) *SearchHandler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.SimilarityTopN <= 0 {
		cfg.SimilarityTopN = 20
	}
	return &SearchHandler{
		cfg:     cfg,
		service: service,
		db:      db,
		store:   store,
		index:   index,
		costs:   costs,
		logger:  logger,
	}
}

// searchRequest is the wire shape of POST /v1/search.
type searchRequest struct {
	Query   string                `json:"query"`
	Image   string                `json:"image,omitempty"`
	Filters models.SearchFilters  `json:"filters"`
	Page    models.Pagination     `json:"pagination"`
	Context models.SearchContext  `json:"context"`
}

type searchResponse struct {
	Success     bool                    `json:"success"`
	Results     []models.ListingSummary `json:"results"`
	Pagination  search.PageInfo         `json:"pagination"`
	Performance search.Performance      `json:"performance"`
	Decision    search.Decision         `json:"decision"`
}

// HandleSearch handles POST /v1/search
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apiKey, ok := APIKeyFrom(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	var image []byte
	if body.Image != "" {
		decoded, err := base64.StdEncoding.DecodeString(body.Image)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_image", "image must be base64 encoded")
			return
		}
		image = decoded
	}

	if body.Query == "" && len(image) == 0 {
		respondError(w, http.StatusBadRequest, "empty_request", "either query or image is required")
		return
	}

	req := search.Request{
		Query:   body.Query,
		Image:   image,
		Filters: body.Filters,
		Page:    h.clampPage(body.Page),
		Context: body.Context,
	}
	req.Context.APIKeyID = apiKey.ID
	req.Context.SubscriptionTier = apiKey.SubscriptionTier
	if !apiKey.AIEnabled {
		req.Context.PreferAI = false
		req.Context.SubscriptionTier = ""
	}

	result, decision, err := h.service.Search(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Caller disconnected; nothing useful to write.
			return
		}
		h.logger.Error("search failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "search_unavailable", "search is temporarily unavailable")
		return
	}

	respondJSON(w, http.StatusOK, searchResponse{
		Success:     true,
		Results:     result.Items,
		Pagination:  result.Pagination,
		Performance: result.Performance,
		Decision:    decision,
	})
}

type similarResponse struct {
	Success   bool                    `json:"success"`
	ListingID string                  `json:"listingId"`
	Results   []models.ListingSummary `json:"results"`
	CacheHit  bool                    `json:"cacheHit"`
}

// HandleSimilar handles GET /v1/listings/{id}/similar. Precomputed
// neighbor lists are served from cache; a miss computes on the spot for
// listings already in the index.
func (h *SearchHandler) HandleSimilar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listingID := chi.URLParam(r, "id")

	var list vector.SimilarityList
	cacheHit := cache.GetJSON(ctx, h.store, vector.SimilarityKey(listingID), &list)
	if !cacheHit {
		computed, ok := h.computeSimilar(ctx, listingID)
		if !ok {
			respondError(w, http.StatusNotFound, "not_indexed", "no similarity data for this listing")
			return
		}
		list = computed
	}

	items, err := h.hydrate(ctx, list.Neighbors)
	if err != nil {
		h.logger.Error("hydrating similar listings failed", "listing", listingID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "similar_unavailable", "similar listings are temporarily unavailable")
		return
	}

	respondJSON(w, http.StatusOK, similarResponse{
		Success:   true,
		ListingID: listingID,
		Results:   items,
		CacheHit:  cacheHit,
	})
}

func (h *SearchHandler) computeSimilar(ctx context.Context, listingID string) (vector.SimilarityList, bool) {
	vec, ok := h.index.Vector(listingID)
	if !ok {
		return vector.SimilarityList{}, false
	}

	neighbors, err := h.index.Search(vec, h.cfg.SimilarityTopN+1)
	if err != nil {
		return vector.SimilarityList{}, false
	}

	list := vector.SimilarityList{SourceID: listingID}
	for _, n := range neighbors {
		if n.ID == listingID {
			continue
		}
		list.Neighbors = append(list.Neighbors, n)
		if len(list.Neighbors) == h.cfg.SimilarityTopN {
			break
		}
	}

	cache.SetJSON(ctx, h.store, vector.SimilarityKey(listingID), list, h.cfg.SimilarityCacheTTL)
	return list, true
}

func (h *SearchHandler) hydrate(ctx context.Context, neighbors []vector.Neighbor) ([]models.ListingSummary, error) {
	if len(neighbors) == 0 {
		return []models.ListingSummary{}, nil
	}

	ids := make([]string, len(neighbors))
	scores := make(map[string]float64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
		scores[n.ID] = n.Score
	}

	items, err := h.db.ListingsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Score = scores[items[i].ID]
	}
	return items, nil
}

type costRecordDTO struct {
	Service       string  `json:"service"`
	Day           string  `json:"day"`
	TotalUSD      float64 `json:"totalUsd"`
	RequestCount  int     `json:"requestCount"`
	DistinctUsers int     `json:"distinctUsers"`
}

// HandleCosts handles GET /v1/admin/costs
func (h *SearchHandler) HandleCosts(w http.ResponseWriter, r *http.Request) {
	records := h.costs.Snapshot()

	out := make([]costRecordDTO, len(records))
	for i, rec := range records {
		out[i] = costRecordDTO{
			Service:       rec.Service,
			Day:           rec.Day,
			TotalUSD:      rec.TotalUSD,
			RequestCount:  rec.RequestCount,
			DistinctUsers: rec.DistinctUsers,
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"costs":   out,
	})
}

func (h *SearchHandler) clampPage(page models.Pagination) models.Pagination {
	if page.Page <= 0 {
		page.Page = 1
	}
	if page.Limit <= 0 {
		page.Limit = h.cfg.DefaultLimit
	}
	if page.Limit > h.cfg.MaxLimit {
		page.Limit = h.cfg.MaxLimit
	}
	return page
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
