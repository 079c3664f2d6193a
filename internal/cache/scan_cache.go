package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apex-guard/internal/security"
)

// ScanCache stores scan results keyed by content fingerprint. It implements
// security.ResultCache.
type ScanCache struct {
	cache *RedisCache
}

// NewScanCache creates a scan result cache on top of cache.
func NewScanCache(cache *RedisCache) *ScanCache {
	return &ScanCache{cache: cache}
}

// Get returns the cached result for key. A miss is not an error.
func (sc *ScanCache) Get(ctx context.Context, key string) (*security.ScanResult, bool, error) {
	var result security.ScanResult
	err := sc.cache.GetJSON(ctx, key, &result)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("decode cached scan %s: %w", key, err)
	}
	return &result, true, nil
}

// Put caches result under key for ttl.
func (sc *ScanCache) Put(ctx context.Context, key string, result *security.ScanResult, ttl time.Duration) error {
	return sc.cache.SetJSON(ctx, key, result, ttl)
}

// IntelCacheKey returns the cache key for a threat intel feed response.
func IntelCacheKey(feedURL string) string {
	return "intel:" + security.Fingerprint(feedURL)[:16]
}
