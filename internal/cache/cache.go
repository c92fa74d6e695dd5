// Package cache provides a small JSON-value cache with in-memory LRU and
// Redis backends. The embedding client uses it to avoid re-billing the
// provider for text it has already embedded.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mattes337/logsink/internal/config"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache defines the caching operations used by the service.
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New builds a cache from configuration. Type "redis" requires a reachable
// server; anything else falls back to the in-memory LRU.
func New(cfg config.CacheConfig) (Cache, error) {
	if cfg.Type == "redis" {
		return NewRedisCache(cfg)
	}
	return NewMemoryCache(cfg.Size)
}
