package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CacheRepository is a byte-valued key store with optional expiry.
type CacheRepository interface {
	// Set keeps the key forever when ttl is zero.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil, nil for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Health(ctx context.Context) error
}

// ResultCache maps content-addressed keys to previously computed job artifacts.
//
// The cache is secondary: read failures are logged and reported as misses, and write failures
// are logged and dropped. Entries are last-writer-wins.
type ResultCache struct {
	cache     CacheRepository
	ttl       time.Duration
	namespace string
	logger    *slog.Logger
}

// ResultCacheConfig holds configuration for result caching.
type ResultCacheConfig struct {
	TTL       time.Duration
	Namespace string
}

// ResultCacheOptions bundles dependencies for NewResultCache.
type ResultCacheOptions struct {
	Cache  CacheRepository
	Config ResultCacheConfig
	Logger *slog.Logger
}

// DefaultResultCacheConfig returns a ResultCacheConfig with sensible defaults.
func DefaultResultCacheConfig() ResultCacheConfig {
	return ResultCacheConfig{
		TTL:       7 * 24 * time.Hour,
		Namespace: "chromatin:result",
	}
}

// NewResultCache creates a new ResultCache. A nil Cache yields a cache that always misses.
func NewResultCache(opts ResultCacheOptions) *ResultCache {
	cfg := opts.Config
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultResultCacheConfig().Namespace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultCache{
		cache:     opts.Cache,
		ttl:       cfg.TTL,
		namespace: cfg.Namespace,
		logger:    logger.With("component", "result_cache"),
	}
}

// Key derives the cache key for an artifact kind from the parts that determine its output,
// such as a sequence content hash and a model version.
func (c *ResultCache) Key(kind string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%s:%s:%s", c.namespace, kind, hex.EncodeToString(sum[:]))
}

// Lookup decodes the cached artifact for key into dst and reports whether it was found.
func (c *ResultCache) Lookup(ctx context.Context, key string, dst any) bool {
	if c == nil || c.cache == nil {
		return false
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "result cache read failed", "key", key, "error", err)
		return false
	}
	if len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.WarnContext(ctx, "result cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

// Store records v under key.
func (c *ResultCache) Store(ctx context.Context, key string, v any) {
	if c == nil || c.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.WarnContext(ctx, "result cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "result cache write failed", "key", key, "error", err)
	}
}

// Invalidate removes the entry for key.
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	if c == nil || c.cache == nil {
		return nil
	}
	_, err := c.cache.Delete(ctx, key)
	return err
}
