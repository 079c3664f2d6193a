// Package intel fetches threat intelligence from an HTTP JSON feed.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"apex-guard/internal/cache"
	"apex-guard/internal/security"
)

const maxFeedBytes = 1 << 20

// Config configures the feed client.
type Config struct {
	FeedURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
	// Retries after the first attempt, for transport errors and 5xx only
	Retries int
}

// Enabled reports whether a feed URL is configured.
func (c Config) Enabled() bool {
	return c.FeedURL != ""
}

// StatusError is a non-2xx feed response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("intel feed returned HTTP %d", e.StatusCode)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPFeed implements security.IntelFeed over HTTP GET.
type HTTPFeed struct {
	cfg     Config
	client  *http.Client
	cache   *cache.RedisCache
	logger  *zap.Logger
	backoff time.Duration
}

var _ security.IntelFeed = (*HTTPFeed)(nil)

// NewHTTPFeed creates a feed client. A nil cache disables response caching.
func NewHTTPFeed(cfg Config, c *cache.RedisCache, logger *zap.Logger) *HTTPFeed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFeed{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   c,
		logger:  logger.Named("intel"),
		backoff: 100 * time.Millisecond,
	}
}

// Fetch returns the current intelligence, from cache when fresh.
func (f *HTTPFeed) Fetch(ctx context.Context) (*security.ThreatIntelligence, error) {
	if f.cache == nil || f.cfg.CacheTTL <= 0 {
		return f.fetchWithRetry(ctx)
	}

	var ti security.ThreatIntelligence
	err := f.cache.GetOrSetJSON(ctx, cache.IntelCacheKey(f.cfg.FeedURL), f.cfg.CacheTTL, &ti, func() (interface{}, error) {
		return f.fetchWithRetry(ctx)
	})
	if err != nil {
		return nil, err
	}
	normalize(&ti)
	return &ti, nil
}

func (f *HTTPFeed) fetchWithRetry(ctx context.Context) (*security.ThreatIntelligence, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}

		ti, err := f.fetchOnce(ctx)
		if err == nil {
			return ti, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		f.logger.Debug("intel fetch attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

func (f *HTTPFeed) fetchOnce(ctx context.Context) (*security.ThreatIntelligence, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build intel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("intel feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxFeedBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var ti security.ThreatIntelligence
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&ti); err != nil {
		return nil, fmt.Errorf("decode intel feed: %w", err)
	}
	normalize(&ti)
	return &ti, nil
}

// normalize replaces absent lists with empty ones.
func normalize(ti *security.ThreatIntelligence) {
	if ti.CVEs == nil {
		ti.CVEs = []string{}
	}
	if ti.Emerging == nil {
		ti.Emerging = []string{}
	}
	if ti.Quantum == nil {
		ti.Quantum = []string{}
	}
}
