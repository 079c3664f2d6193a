package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"apex-guard/internal/cache"
	"apex-guard/internal/security"
)

func TestScanObserver_WiredIntoScanner(t *testing.T) {
	m := Get()
	obs := NewScanObserver()
	c := cache.NewRedisCache(nil)
	t.Cleanup(func() { _ = c.Close() })

	completeBefore := testutil.ToFloat64(m.ScansTotal.WithLabelValues("complete", ""))
	missBefore := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("miss"))
	hitBefore := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("hit"))
	criticalBefore := testutil.ToFloat64(m.FindingsTotal.WithLabelValues("critical"))

	scanner := security.NewScanner(security.Config{}, security.Dependencies{
		Cache:    cache.NewScanCache(c),
		Observer: obs,
	})
	req := security.ScanRequest{Source: "const q = \"SELECT * FROM t WHERE id = \" + req.params.id;\n"}
	first, err := scanner.Scan(context.Background(), req)
	require.NoError(t, err)
	_, err = scanner.Scan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, completeBefore+1, testutil.ToFloat64(m.ScansTotal.WithLabelValues("complete", "")),
		"cache hits are not counted as completed scans")
	assert.Equal(t, missBefore+1, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, hitBefore+1, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, criticalBefore+float64(first.CountByTier()[security.TierCritical]),
		testutil.ToFloat64(m.FindingsTotal.WithLabelValues("critical")))
}

func TestScanObserver_FailuresAndDegradations(t *testing.T) {
	m := Get()
	obs := NewScanObserver()

	failedBefore := testutil.ToFloat64(m.ScansTotal.WithLabelValues("failed", "quantum_assessing"))
	obs.ScanFailed(security.StateQuantum)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(m.ScansTotal.WithLabelValues("failed", "quantum_assessing")))

	degBefore := testutil.ToFloat64(m.DegradationsTotal.WithLabelValues("intel_unavailable"))
	obs.Degraded(security.WarnIntelUnavailable)
	assert.Equal(t, degBefore+1, testutil.ToFloat64(m.DegradationsTotal.WithLabelValues("intel_unavailable")))
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "quantum_assessing", sanitizeLabel("Quantum-Assessing", "x"))
	assert.Equal(t, "x", sanitizeLabel("  ", "x"))
	assert.Equal(t, "x", sanitizeLabel("---", "x"))
	assert.Len(t, sanitizeLabel(strings.Repeat("a", 100), "x"), 63)
}

func TestPrometheusMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := Get()

	r := gin.New()
	r.Use(PrometheusMiddleware("/health"))
	r.GET("/api/v1/scans/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", PrometheusHandler())

	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/v1/scans/:id", "GET", "2xx"))
	unmatchedBefore := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("unmatched", "GET", "4xx"))

	for _, path := range []string{"/api/v1/scans/a", "/api/v1/scans/b", "/health", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, before+2, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/v1/scans/:id", "GET", "2xx")))
	assert.Equal(t, unmatchedBefore+1, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("unmatched", "GET", "4xx")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "apex_guard_http_requests_total")
}

type staticStats struct{ stats cache.CacheStats }

func (s staticStats) Stats() cache.CacheStats { return s.stats }

func TestCollector_SamplesCache(t *testing.T) {
	m := Get()
	col := NewCollector(nil, staticStats{cache.CacheStats{Backend: "memory", HitRatio: 0.75, MemorySize: 42}}, time.Hour, zaptest.NewLogger(t))
	col.Start(context.Background())
	col.Stop()

	assert.Equal(t, 0.75, testutil.ToFloat64(m.CacheHitRatio))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.CacheSize.WithLabelValues("memory")))
	assert.Positive(t, testutil.ToFloat64(m.GoroutineNum))
}

func TestStatusCodeToLabel(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToLabel(204))
	assert.Equal(t, "4xx", statusCodeToLabel(429))
	assert.Equal(t, "5xx", statusCodeToLabel(503))
	assert.Equal(t, "unknown", statusCodeToLabel(0))
}
