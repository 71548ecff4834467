package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fleamart/search-gateway/internal/shared/models"
	_ "github.com/lib/pq"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetAPIKey retrieves an API key by its raw key value
func (db *DB) GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	// Hash the key
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	query := `
		SELECT id, key_hash, key_prefix, name, rate_limit_per_minute, ai_enabled,
		       subscription_tier, cache_ttl_seconds, is_active, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var apiKey models.APIKey
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(
		&apiKey.ID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.RateLimitPerMinute,
		&apiKey.AIEnabled,
		&apiKey.SubscriptionTier,
		&apiKey.CacheTTLSeconds,
		&apiKey.IsActive,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

// sortColumns whitelists user-supplied sort keys.
var sortColumns = map[string]string{
	"price":      "price_cents",
	"recency":    "created_at",
	"popularity": "view_count",
}

// SearchListings runs a ranked full-text search over active listings.
// An empty query degrades to a filtered browse ordered by the requested sort.
func (db *DB) SearchListings(ctx context.Context, query string, filters models.SearchFilters, page models.Pagination) ([]models.ListingSummary, int, error) {
	where := []string{"status = 'active'"}
	args := []interface{}{}

	addArg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	selectScore := "0.0 AS score"
	if query != "" {
		p := addArg(query)
		where = append(where, fmt.Sprintf("search_vector @@ websearch_to_tsquery('simple', %s)", p))
		selectScore = fmt.Sprintf("ts_rank(search_vector, websearch_to_tsquery('simple', %s)) AS score", p)
	}

	if filters.CategoryID != "" {
		where = append(where, "category_id = "+addArg(filters.CategoryID))
	}
	if filters.PriceMin != nil {
		where = append(where, "price_cents >= "+addArg(*filters.PriceMin))
	}
	if filters.PriceMax != nil {
		where = append(where, "price_cents <= "+addArg(*filters.PriceMax))
	}
	if filters.Condition != "" {
		where = append(where, "condition = "+addArg(filters.Condition))
	}
	if filters.VendorID != "" {
		where = append(where, "vendor_id = "+addArg(filters.VendorID))
	}
	if filters.FeaturedOnly {
		where = append(where, "featured = true")
	}

	whereClause := strings.Join(where, " AND ")

	countQuery := "SELECT COUNT(*) FROM listings WHERE " + whereClause
	var total int
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count query failed: %w", err)
	}

	orderBy := "score DESC, created_at DESC"
	if col, ok := sortColumns[page.SortBy]; ok {
		dir := "DESC"
		if strings.EqualFold(page.SortOrder, "asc") {
			dir = "ASC"
		}
		orderBy = fmt.Sprintf("%s %s, id ASC", col, dir)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if page.Page > 1 {
		offset = (page.Page - 1) * limit
	}

	rowsQuery := fmt.Sprintf(`
		SELECT id, title, description, price_cents, currency, category_id,
		       condition, vendor_id, image_url, featured, view_count, %s, created_at
		FROM listings
		WHERE %s
		ORDER BY %s
		LIMIT %s OFFSET %s
	`, selectScore, whereClause, orderBy, addArg(limit), addArg(offset))

	rows, err := db.conn.QueryContext(ctx, rowsQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	listings, err := scanListings(rows)
	if err != nil {
		return nil, 0, err
	}

	return listings, total, nil
}

// TrendingListings returns the most viewed recent active listings.
func (db *DB) TrendingListings(ctx context.Context, limit int) ([]models.ListingSummary, error) {
	query := `
		SELECT id, title, description, price_cents, currency, category_id,
		       condition, vendor_id, image_url, featured, view_count, 0.0 AS score, created_at
		FROM listings
		WHERE status = 'active'
		ORDER BY view_count DESC, created_at DESC
		LIMIT $1
	`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("trending query failed: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// ListingsByIDs hydrates listing summaries preserving the order of ids.
func (db *DB) ListingsByIDs(ctx context.Context, ids []string) ([]models.ListingSummary, error) {
	if len(ids) == 0 {
		return []models.ListingSummary{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, title, description, price_cents, currency, category_id,
		       condition, vendor_id, image_url, featured, view_count, 0.0 AS score, created_at
		FROM listings
		WHERE status = 'active' AND id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hydrate query failed: %w", err)
	}
	defer rows.Close()

	listings, err := scanListings(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.ListingSummary, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}

	ordered := make([]models.ListingSummary, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			ordered = append(ordered, l)
		}
	}

	return ordered, nil
}

// CandidateListings selects precompute candidates: featured first, then by traffic.
func (db *DB) CandidateListings(ctx context.Context, limit int) ([]models.ListingSummary, error) {
	query := `
		SELECT id, title, description, price_cents, currency, category_id,
		       condition, vendor_id, image_url, featured, view_count, 0.0 AS score, created_at
		FROM listings
		WHERE status = 'active'
		ORDER BY featured DESC, view_count DESC, created_at DESC
		LIMIT $1
	`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("candidate query failed: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// LogSearch logs a served search request
func (db *DB) LogSearch(ctx context.Context, log *models.SearchLog) error {
	query := `
		INSERT INTO search_logs (
			api_key_id, user_id, query, strategy, cost_usd, latency_ms,
			result_count, cache_hit, fallback_used, fallback_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.APIKeyID,
		log.UserID,
		log.Query,
		log.Strategy,
		log.CostUSD,
		log.LatencyMs,
		log.ResultCount,
		log.CacheHit,
		log.FallbackUsed,
		log.FallbackReason,
	)

	return err
}

func scanListings(rows *sql.Rows) ([]models.ListingSummary, error) {
	listings := []models.ListingSummary{}
	for rows.Next() {
		var l models.ListingSummary
		var description, categoryID, condition, vendorID, imageURL sql.NullString
		err := rows.Scan(
			&l.ID,
			&l.Title,
			&description,
			&l.PriceCents,
			&l.Currency,
			&categoryID,
			&condition,
			&vendorID,
			&imageURL,
			&l.Featured,
			&l.ViewCount,
			&l.Score,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		l.Description = description.String
		l.CategoryID = categoryID.String
		l.Condition = condition.String
		l.VendorID = vendorID.String
		l.ImageURL = imageURL.String
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return listings, nil
}
