package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleamart/search-gateway/internal/gateway/ai"
	"github.com/fleamart/search-gateway/internal/gateway/cache"
	"github.com/fleamart/search-gateway/internal/gateway/handlers"
	"github.com/fleamart/search-gateway/internal/gateway/ratelimit"
	"github.com/fleamart/search-gateway/internal/gateway/search"
	"github.com/fleamart/search-gateway/internal/gateway/vector"
	"github.com/fleamart/search-gateway/internal/shared/config"
	"github.com/fleamart/search-gateway/internal/shared/database"
	"github.com/fleamart/search-gateway/internal/shared/redis"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// embeddingDims matches the text-embedding-3-small output size.
const embeddingDims = 1536

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Env == "development" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting search gateway", "port", cfg.Port, "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to postgres")

	// Redis is optional: without it the cache is in-process only.
	var store cache.Store
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewRedis(redisClient)
		logger.Info("connected to redis")
	} else {
		store = cache.NewMemory(cfg.CacheMaxEntries)
		logger.Info("using in-process cache", "maxEntries", cfg.CacheMaxEntries)
	}

	limiter := ratelimit.NewLimiter(ratelimit.DefaultWindow)
	costs := ratelimit.NewCostTracker(cfg.DailyCostAlarmUSD, func(rec ratelimit.CostRecord, threshold float64) {
		logger.Warn("daily cost alarm",
			"service", rec.Service,
			"day", rec.Day,
			"totalUsd", rec.TotalUSD,
			"thresholdUsd", threshold,
			"requests", rec.RequestCount,
		)
	})

	provider := ai.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.AIModel, cfg.EmbeddingModel, cfg.AITimeout)
	embedder := search.NewMeteredEmbedder(provider, costs, cfg.CostPerEmbeddingUSD)
	cachedEmbedder := ai.NewCachedEmbedder(embedder, ai.DefaultEmbeddingCacheSize)

	index := vector.NewIndex(embeddingDims)

	traditional := search.NewTraditionalExecutor(db, store, cfg.SearchCacheTTL)
	fallback := search.NewFallbackExecutor(db, store, cfg.SearchCacheTTL)
	aiEnhanced := search.NewAIEnhancedExecutor(
		search.AIEnhancedConfig{
			AILimitPerWindow: cfg.AIRequestsPerMinute,
			CostPerCallUSD:   cfg.CostPerAIRequestUSD,
			CacheTTL:         cfg.SearchCacheTTL,
		},
		db, store, provider, cachedEmbedder, index, limiter, costs, traditional, logger,
	)
	image := search.NewImageExecutor(
		search.ImageConfig{
			AILimitPerWindow: cfg.AIRequestsPerMinute,
			CostPerCallUSD:   cfg.CostPerAIRequestUSD,
			CacheTTL:         cfg.SearchCacheTTL,
		},
		db, store, provider, cachedEmbedder, index, limiter, costs, fallback, logger,
	)

	selector := search.NewSelector(search.SelectorConfig{
		MinQueryLength:     cfg.MinQueryLength,
		AILimitPerWindow:   cfg.AIRequestsPerMinute,
		EstimatedAICostUSD: cfg.CostPerAIRequestUSD,
	}, limiter)

	service := search.NewService(selector, traditional, aiEnhanced, image, fallback, db, logger)

	precomputer := vector.NewPrecomputer(
		vector.PrecomputerConfig{
			SimilarityInterval: cfg.SimilarityInterval,
			BatchSize:          cfg.SimilarityBatchSize,
			TopN:               cfg.SimilarityTopN,
			CacheTTL:           cfg.SimilarityCacheTTL,
			WarmingInterval:    cfg.WarmingInterval,
			WarmingSample:      cfg.WarmingSampleSize,
		},
		index, store, db, cachedEmbedder, service, service.Warm, logger,
	)
	precomputer.Start(ctx)
	logger.Info("background jobs started",
		"similarityInterval", cfg.SimilarityInterval,
		"warmingInterval", cfg.WarmingInterval,
	)

	searchHandler := handlers.NewSearchHandler(
		handlers.SearchHandlerConfig{
			DefaultLimit:       cfg.DefaultLimit,
			MaxLimit:           cfg.MaxLimit,
			SimilarityTopN:     cfg.SimilarityTopN,
			SimilarityCacheTTL: cfg.SimilarityCacheTTL,
		},
		service, db, store, index, costs, logger,
	)
	middleware := handlers.NewMiddleware(db, limiter, cfg.SearchRequestsPerMin, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RateLimitMiddleware)

		r.Post("/search", searchHandler.HandleSearch)
		r.Get("/listings/{id}/similar", searchHandler.HandleSimilar)
		r.Get("/admin/costs", searchHandler.HandleCosts)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	precomputer.Stop()
	logger.Info("server stopped")
}
