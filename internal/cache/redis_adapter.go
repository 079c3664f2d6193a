package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions selects and tunes the Redis deployment.
// Priority: Cluster > Sentinel > Standard.
type RedisOptions struct {
	// redis://[:password@]host:port[/db] or rediss:// for TLS
	URL      string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	SentinelAddrs  []string
	SentinelMaster string

	ClusterAddrs []string
}

// DefaultRedisOptions returns sensible pool and timeout settings.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// GoRedisAdapter wraps a go-redis client to implement RedisClient.
type GoRedisAdapter struct {
	client redis.UniversalClient
	kind   string
}

// NewGoRedisClient connects to the Redis at redisURL with default options.
func NewGoRedisClient(redisURL string) (*GoRedisAdapter, error) {
	opts := DefaultRedisOptions()
	opts.URL = redisURL
	return NewGoRedisClientWithOptions(opts)
}

// NewGoRedisClientWithOptions creates a standard, sentinel or cluster client
// and verifies the connection.
func NewGoRedisClientWithOptions(opts RedisOptions) (*GoRedisAdapter, error) {
	client, kind, err := newUniversalClient(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis (%s): %w", kind, err)
	}

	return &GoRedisAdapter{client: client, kind: kind}, nil
}

func newUniversalClient(opts RedisOptions) (redis.UniversalClient, string, error) {
	switch {
	case len(opts.ClusterAddrs) > 0:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.ClusterAddrs,
			Password:     opts.Password,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		}), "cluster", nil
	case len(opts.SentinelAddrs) > 0 && opts.SentinelMaster != "":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    opts.SentinelMaster,
			SentinelAddrs: opts.SentinelAddrs,
			Password:      opts.Password,
			DB:            opts.DB,
			PoolSize:      opts.PoolSize,
			MinIdleConns:  opts.MinIdleConns,
			DialTimeout:   opts.DialTimeout,
			ReadTimeout:   opts.ReadTimeout,
			WriteTimeout:  opts.WriteTimeout,
		}), "sentinel", nil
	case opts.URL != "":
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, "", fmt.Errorf("invalid redis url: %w", err)
		}
		parsed.PoolSize = opts.PoolSize
		parsed.MinIdleConns = opts.MinIdleConns
		parsed.DialTimeout = opts.DialTimeout
		parsed.ReadTimeout = opts.ReadTimeout
		parsed.WriteTimeout = opts.WriteTimeout
		return redis.NewClient(parsed), "standard", nil
	default:
		return nil, "", errors.New("redis: no url, sentinel or cluster addresses configured")
	}
}

// Kind reports standard, sentinel or cluster.
func (a *GoRedisAdapter) Kind() string { return a.kind }

// Get retrieves a value from Redis. A missing key is ErrCacheMiss.
func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

// Set stores a value in Redis with TTL
func (a *GoRedisAdapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return a.client.Set(ctx, key, value, ttl).Err()
}

// Del deletes one or more keys from Redis
func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.client.Del(ctx, keys...).Err()
}

// Ping tests the Redis connection
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (a *GoRedisAdapter) Close() error {
	return a.client.Close()
}

// NewRedisCacheFromOptions creates a RedisCache backed by Redis.
// Callers fall back to NewRedisCache when this fails.
func NewRedisCacheFromOptions(opts RedisOptions, config *CacheConfig) (*RedisCache, error) {
	adapter, err := NewGoRedisClientWithOptions(opts)
	if err != nil {
		return nil, err
	}
	return NewRedisCacheWithClient(adapter, config), nil
}
