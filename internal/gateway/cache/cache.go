// Package cache provides TTL key/value caching for search results,
// embeddings and precomputed similarity lists. Backends are pluggable:
// a bounded in-process LRU or a shared Redis store. Backend failures are
// reported as misses, never as errors.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the caching contract used by executors and background jobs.
type Store interface {
	// Get returns the value for key, or false when absent, expired, or
	// the backend is unavailable.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key for ttl. Failures are swallowed.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes key if present.
	Delete(ctx context.Context, key string)
}

// Key builds a content-addressed cache key from an operation name and
// its normalized inputs. Equal inputs always map to the same key.
func Key(op string, parts ...interface{}) string {
	keyData := op
	for _, p := range parts {
		keyData += fmt.Sprintf("|%v", p)
	}

	hash := sha256.Sum256([]byte(keyData))
	return "cache:" + op + ":" + hex.EncodeToString(hash[:])
}

// GetJSON fetches key and unmarshals it into out. A malformed entry is
// treated as a miss.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON marshals value and stores it under key. Marshal failures are
// swallowed like backend failures.
func SetJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	s.Set(ctx, key, data, ttl)
}
