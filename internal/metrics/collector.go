package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"apex-guard/internal/cache"
)

// CacheStatsSource is anything that reports cache statistics.
type CacheStatsSource interface {
	Stats() cache.CacheStats
}

// Collector periodically samples gauges that have no natural event to hang
// off: connection pool, cache occupancy, stored scan count, goroutines.
type Collector struct {
	db       *gorm.DB
	cache    CacheStatsSource
	metrics  *Metrics
	interval time.Duration
	logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCollector creates a collector. db and cache may be nil.
func NewCollector(db *gorm.DB, c CacheStatsSource, interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		db:       db,
		cache:    c,
		metrics:  Get(),
		interval: interval,
		logger:   logger.Named("metrics"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins periodic collection until ctx is done or Stop is called.
func (mc *Collector) Start(ctx context.Context) {
	go func() {
		defer close(mc.done)
		mc.collectAll(ctx)

		ticker := time.NewTicker(mc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mc.collectAll(ctx)
			case <-mc.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector and waits for it to exit.
func (mc *Collector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	<-mc.done
}

func (mc *Collector) collectAll(ctx context.Context) {
	mc.metrics.GoroutineNum.Set(float64(runtime.NumGoroutine()))
	mc.collectCache()
	mc.collectDatabase(ctx)
}

func (mc *Collector) collectCache() {
	if mc.cache == nil {
		return
	}
	stats := mc.cache.Stats()
	mc.metrics.CacheHitRatio.Set(stats.HitRatio)
	mc.metrics.CacheSize.WithLabelValues(stats.Backend).Set(float64(stats.MemorySize))
}

func (mc *Collector) collectDatabase(ctx context.Context) {
	if mc.db == nil {
		return
	}

	sqlDB, err := mc.db.DB()
	if err != nil {
		mc.logger.Warn("failed to get database stats", zap.Error(err))
		return
	}
	stats := sqlDB.Stats()
	mc.metrics.DBConnectionsActive.Set(float64(stats.InUse))
	mc.metrics.DBConnectionsIdle.Set(float64(stats.Idle))

	var count int64
	if err := mc.db.WithContext(ctx).Table("scans").Count(&count).Error; err != nil {
		mc.logger.Warn("failed to count scans", zap.Error(err))
		return
	}
	mc.metrics.ScansStored.Set(float64(count))
}
