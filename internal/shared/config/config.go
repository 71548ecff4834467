package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the search gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis (optional; empty means in-process cache only)
	RedisURL string

	// AI provider
	OpenAIAPIKey   string
	AIModel        string
	EmbeddingModel string
	AITimeout      time.Duration

	// Admission control
	AIRequestsPerMinute  int
	SearchRequestsPerMin int
	DailyCostAlarmUSD    float64
	CostPerAIRequestUSD  float64
	CostPerEmbeddingUSD  float64

	// Search behavior
	MinQueryLength int
	DefaultLimit   int
	MaxLimit       int

	// Caching
	CacheEnabled       bool
	CacheMaxEntries    int
	SearchCacheTTL     time.Duration
	SimilarityCacheTTL time.Duration

	// Background jobs
	SimilarityInterval  time.Duration
	SimilarityBatchSize int
	SimilarityTopN      int
	WarmingInterval     time.Duration
	WarmingSampleSize   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		AIModel:              getEnv("AI_MODEL", "gpt-4o-mini"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		AITimeout:            getEnvDuration("AI_TIMEOUT", 10*time.Second),
		AIRequestsPerMinute:  getEnvInt("AI_REQUESTS_PER_MINUTE", 60),
		SearchRequestsPerMin: getEnvInt("SEARCH_REQUESTS_PER_MINUTE", 300),
		DailyCostAlarmUSD:    getEnvFloat("DAILY_COST_ALARM_USD", 25.0),
		CostPerAIRequestUSD:  getEnvFloat("COST_PER_AI_REQUEST_USD", 0.002),
		CostPerEmbeddingUSD:  getEnvFloat("COST_PER_EMBEDDING_USD", 0.0001),
		MinQueryLength:       getEnvInt("MIN_QUERY_LENGTH", 3),
		DefaultLimit:         getEnvInt("DEFAULT_PAGE_LIMIT", 20),
		MaxLimit:             getEnvInt("MAX_PAGE_LIMIT", 100),
		CacheEnabled:         getEnvBool("CACHE_ENABLED", true),
		CacheMaxEntries:      getEnvInt("CACHE_MAX_ENTRIES", 10000),
		SearchCacheTTL:       getEnvDuration("SEARCH_CACHE_TTL", 5*time.Minute),
		SimilarityCacheTTL:   getEnvDuration("SIMILARITY_CACHE_TTL", 6*time.Hour),
		SimilarityInterval:   getEnvDuration("SIMILARITY_INTERVAL", 30*time.Minute),
		SimilarityBatchSize:  getEnvInt("SIMILARITY_BATCH_SIZE", 25),
		SimilarityTopN:       getEnvInt("SIMILARITY_TOP_N", 20),
		WarmingInterval:      getEnvDuration("WARMING_INTERVAL", 15*time.Minute),
		WarmingSampleSize:    getEnvInt("WARMING_SAMPLE_SIZE", 10),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.MinQueryLength < 1 {
		return nil, fmt.Errorf("MIN_QUERY_LENGTH must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
