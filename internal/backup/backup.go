// Package backup archives full scan results as gzip-compressed JSON in
// object storage, alongside the relational store.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"apex-guard/internal/security"
)

// Prometheus metrics
var (
	archiveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apex_guard_archive_duration_seconds",
		Help:    "Duration of scan archive uploads",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"status"})

	archiveSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apex_guard_archive_size_bytes",
		Help:    "Compressed size of archived scan results",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	})

	archiveCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apex_guard_archive_total",
		Help: "Total number of scan archive attempts",
	}, []string{"status"})
)

const archiveContentType = "application/gzip"

// ArchiveConfig holds S3 archive configuration
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether an archive bucket is configured.
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

// Archiver writes each scan result to storage. It implements
// security.ResultStore.
type Archiver struct {
	storage StorageProvider
	prefix  string
	logger  *zap.Logger
}

var _ security.ResultStore = (*Archiver)(nil)

// NewArchiver creates an archiver writing under prefix.
func NewArchiver(storage StorageProvider, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{storage: storage, prefix: prefix, logger: logger.Named("archive")}
}

// Key returns the object key for a scan: prefix/YYYY/MM/DD/<scan id>.json.gz.
func (a *Archiver) Key(result *security.ScanResult) string {
	day := result.ScannedAt.UTC().Format("2006/01/02")
	return a.prefix + path.Join(day, result.ScanID+".json.gz")
}

// SaveScan compresses and uploads the full result.
func (a *Archiver) SaveScan(ctx context.Context, result *security.ScanResult) error {
	if result == nil {
		return errors.New("nil scan result")
	}
	start := time.Now()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gw).Encode(result); err != nil {
		return fmt.Errorf("encode scan %s: %w", result.ScanID, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("compress scan %s: %w", result.ScanID, err)
	}
	size := buf.Len()

	key := a.Key(result)
	if err := a.storage.Upload(ctx, key, &buf, archiveContentType); err != nil {
		archiveCount.WithLabelValues("failed").Inc()
		archiveDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		return err
	}

	archiveCount.WithLabelValues("completed").Inc()
	archiveDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
	archiveSize.Observe(float64(size))
	a.logger.Debug("scan archived", zap.String("key", key), zap.Int("bytes", size))
	return nil
}

// NamedStore labels a sink for error reporting.
type NamedStore struct {
	Name  string
	Store security.ResultStore
}

// MultiStore fans a scan out to every sink. All sinks are attempted; the
// returned error joins one error per failed sink, each prefixed with its name.
type MultiStore struct {
	sinks []NamedStore
}

var _ security.ResultStore = (*MultiStore)(nil)

// NewMultiStore skips nil stores.
func NewMultiStore(sinks ...NamedStore) *MultiStore {
	m := &MultiStore{}
	for _, s := range sinks {
		if s.Store != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of configured sinks.
func (m *MultiStore) Len() int { return len(m.sinks) }

// SaveScan writes to every sink.
func (m *MultiStore) SaveScan(ctx context.Context, result *security.ScanResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Store.SaveScan(ctx, result); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
