// Package cache provides the Redis-backed result cache for the scan engine.
// It falls back to an in-process map when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// RedisCache provides a Redis-compatible caching layer.
// Falls back to in-memory cache when Redis is unavailable.
type RedisCache struct {
	memCache map[string]*cacheEntry
	memMu    sync.RWMutex

	// nil if not available
	redisClient RedisClient

	defaultTTL time.Duration
	maxMemSize int

	hits    int64
	misses  int64
	statsMu sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

// RedisClient is the subset of Redis operations the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

type cacheEntry struct {
	Value     []byte
	ExpiresAt time.Time
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	// Redis connection URL (redis://host:port/db)
	RedisURL string

	DefaultTTL time.Duration

	// Maximum in-memory cache size (number of items)
	MaxMemoryItems int

	// How often expired in-memory entries are swept
	CleanupInterval time.Duration

	// Threat intel responses
	IntelTTL time.Duration
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DefaultTTL:      30 * time.Minute,
		MaxMemoryItems:  10000,
		CleanupInterval: time.Minute,
		IntelTTL:        15 * time.Minute,
	}
}

// NewRedisCache creates an in-memory only cache.
func NewRedisCache(config *CacheConfig) *RedisCache {
	return NewRedisCacheWithClient(nil, config)
}

// NewRedisCacheWithClient creates a cache with an existing Redis client.
// Call Close to stop the background sweeper.
func NewRedisCacheWithClient(client RedisClient, config *CacheConfig) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	d := DefaultCacheConfig()
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = d.DefaultTTL
	}
	if config.MaxMemoryItems <= 0 {
		config.MaxMemoryItems = d.MaxMemoryItems
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = d.CleanupInterval
	}

	cache := &RedisCache{
		memCache:    make(map[string]*cacheEntry),
		redisClient: client,
		defaultTTL:  config.DefaultTTL,
		maxMemSize:  config.MaxMemoryItems,
		stop:        make(chan struct{}),
	}

	go cache.cleanupLoop(config.CleanupInterval)

	return cache
}

// Backend names the storage in use, for health output.
func (c *RedisCache) Backend() string {
	if c.redisClient != nil {
		return "redis"
	}
	return "memory"
}

// Ping checks the Redis connection. The in-memory backend is always healthy.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c.redisClient == nil {
		return nil
	}
	return c.redisClient.Ping(ctx)
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.redisClient != nil {
		val, err := c.redisClient.Get(ctx, key)
		if err == nil {
			c.recordHit()
			return []byte(val), nil
		}
		// a Redis miss still checks memory: writes fall back there on error
	}

	c.memMu.RLock()
	entry, exists := c.memCache[key]
	c.memMu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, ErrCacheMiss
	}

	if time.Now().After(entry.ExpiresAt) {
		c.memMu.Lock()
		delete(c.memCache, key)
		c.memMu.Unlock()
		c.recordMiss()
		return nil, ErrCacheMiss
	}

	c.recordHit()
	return entry.Value, nil
}

// Set stores a value in cache with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if c.redisClient != nil {
		if err := c.redisClient.Set(ctx, key, string(value), ttl); err == nil {
			return nil
		}
	}

	c.memMu.Lock()
	defer c.memMu.Unlock()

	if _, ok := c.memCache[key]; !ok && len(c.memCache) >= c.maxMemSize {
		c.evictOldest()
	}

	c.memCache[key] = &cacheEntry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if c.redisClient != nil {
		_ = c.redisClient.Del(ctx, key)
	}

	c.memMu.Lock()
	delete(c.memCache, key)
	c.memMu.Unlock()

	return nil
}

// GetJSON retrieves and unmarshals a JSON value
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a JSON value
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrSetJSON fills dest from cache, or from loader on a miss. Loader
// results are cached for ttl; loader errors are returned and nothing is cached.
func (c *RedisCache) GetOrSetJSON(ctx context.Context, key string, ttl time.Duration, dest interface{}, loader func() (interface{}, error)) error {
	if err := c.GetJSON(ctx, key, dest); err == nil {
		return nil
	}

	value, err := loader()
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_ = c.Set(ctx, key, data, ttl)

	return json.Unmarshal(data, dest)
}

// Stats returns cache statistics
func (c *RedisCache) Stats() CacheStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()

	c.memMu.RLock()
	memSize := len(c.memCache)
	c.memMu.RUnlock()

	total := c.hits + c.misses
	hitRatio := float64(0)
	if total > 0 {
		hitRatio = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Backend:    c.Backend(),
		Hits:       c.hits,
		Misses:     c.misses,
		HitRatio:   hitRatio,
		MemorySize: memSize,
	}
}

// CacheStats holds cache statistics
type CacheStats struct {
	Backend    string  `json:"backend"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
	MemorySize int     `json:"memory_size"`
}

// Close stops the sweeper and closes the Redis connection.
func (c *RedisCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

func (c *RedisCache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *RedisCache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

// evictOldest drops expired entries first, then the earliest-expiring ones,
// until 10% of capacity is free. Caller holds memMu.
func (c *RedisCache) evictOldest() {
	toEvict := c.maxMemSize / 10
	if toEvict < 1 {
		toEvict = 1
	}

	now := time.Now()
	evicted := 0
	for key, entry := range c.memCache {
		if evicted >= toEvict {
			return
		}
		if now.After(entry.ExpiresAt) {
			delete(c.memCache, key)
			evicted++
		}
	}

	for evicted < toEvict && len(c.memCache) > 0 {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.memCache {
			if oldestKey == "" || entry.ExpiresAt.Before(oldest) {
				oldestKey, oldest = key, entry.ExpiresAt
			}
		}
		delete(c.memCache, oldestKey)
		evicted++
	}
}

func (c *RedisCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *RedisCache) cleanup() {
	c.memMu.Lock()
	defer c.memMu.Unlock()

	now := time.Now()
	for key, entry := range c.memCache {
		if now.After(entry.ExpiresAt) {
			delete(c.memCache, key)
		}
	}
}
