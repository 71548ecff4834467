package models

import "time"

// APIKey represents a gateway API key
type APIKey struct {
	ID                 string
	KeyHash            string
	KeyPrefix          string
	Name               string
	RateLimitPerMinute int
	AIEnabled          bool
	SubscriptionTier   string
	CacheTTLSeconds    int
	IsActive           bool
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ListingSummary is the slice of a listing returned by search
type ListingSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"priceCents"`
	Currency    string    `json:"currency"`
	CategoryID  string    `json:"categoryId,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	VendorID    string    `json:"vendorId,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Featured    bool      `json:"featured,omitempty"`
	ViewCount   int64     `json:"viewCount,omitempty"`
	Score       float64   `json:"score,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SearchFilters narrows a search to a slice of the catalog
type SearchFilters struct {
	CategoryID   string `json:"categoryId,omitempty"`
	PriceMin     *int64 `json:"priceMin,omitempty"`
	PriceMax     *int64 `json:"priceMax,omitempty"`
	Condition    string `json:"condition,omitempty"`
	VendorID     string `json:"vendorId,omitempty"`
	FeaturedOnly bool   `json:"featuredOnly,omitempty"`
}

// Pagination controls page slicing and ordering
type Pagination struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	SortBy    string `json:"sortBy,omitempty"`
	SortOrder string `json:"sortOrder,omitempty"`
}

// SearchContext carries caller identity signals into strategy selection
type SearchContext struct {
	UserID           string `json:"userId,omitempty"`
	UserRole         string `json:"userRole,omitempty"`
	SubscriptionTier string `json:"subscriptionTier,omitempty"`
	PreferAI         bool   `json:"preferAI,omitempty"`
	APIKeyID         string `json:"-"`
}

// SearchLog represents one served search request, persisted for analytics
type SearchLog struct {
	ID             string
	APIKeyID       *string
	UserID         *string
	Query          string
	Strategy       string
	CostUSD        float64
	LatencyMs      int
	ResultCount    int
	CacheHit       bool
	FallbackUsed   bool
	FallbackReason *string
	CreatedAt      time.Time
}
