package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/shared/models"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// APIKeyFrom returns the authenticated API key placed on the context by
// AuthMiddleware.
func APIKeyFrom(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key, ok
}

// KeyStore is the slice of the database the middleware needs.
type KeyStore interface {
	GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error
}

type Middleware struct {
	db           KeyStore
	limiter      *ratelimit.Limiter
	defaultLimit int
	logger       *slog.Logger
}

func NewMiddleware(db KeyStore, limiter *ratelimit.Limiter, defaultLimit int, logger *slog.Logger) *Middleware {
	return &Middleware{
		db:           db,
		limiter:      limiter,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// AuthMiddleware validates API keys
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondError(w, http.StatusUnauthorized, "missing_authorization", "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(w, http.StatusUnauthorized, "invalid_authorization", "invalid authorization header format")
			return
		}

		apiKey, err := m.db.GetAPIKey(r.Context(), parts[1])
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid_api_key", "invalid API key")
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.db.UpdateAPIKeyLastUsed(ctx, apiKey.ID); err != nil {
				m.logger.Debug("updating api key last_used failed", "error", err)
			}
		}()

		ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces the per-key request quota. Each request
// consumes one slot in the key's sliding window.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, ok := APIKeyFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		limit := apiKey.RateLimitPerMinute
		if limit <= 0 {
			limit = m.defaultLimit
		}

		res := m.limiter.Check("apikey:"+apiKey.ID, limit, true)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.RetryAfter).Unix(), 10))

		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			respondJSON(w, http.StatusTooManyRequests, map[string]any{
				"success":    false,
				"error":      errorDetail{Code: "rate_limited", Message: "rate limit exceeded"},
				"retryAfter": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
