package metrics

import (
	"regexp"
	"strings"
	"time"

	"apex-guard/internal/security"
)

var labelSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// ScanObserver feeds scanner pipeline events into Prometheus.
type ScanObserver struct {
	m *Metrics
}

var _ security.Observer = (*ScanObserver)(nil)

// NewScanObserver returns an observer backed by the global metrics.
func NewScanObserver() *ScanObserver {
	return &ScanObserver{m: Get()}
}

func (o *ScanObserver) CacheLookup(hit bool) {
	if hit {
		o.m.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	o.m.CacheLookupsTotal.WithLabelValues("miss").Inc()
}

func (o *ScanObserver) StageCompleted(state security.ScanState, d time.Duration) {
	o.m.StageDuration.WithLabelValues(sanitizeLabel(string(state), "unknown")).Observe(d.Seconds())
}

func (o *ScanObserver) ScanCompleted(result *security.ScanResult) {
	o.m.ScansTotal.WithLabelValues("complete", "").Inc()
	o.m.ScanDuration.Observe(float64(result.ProcessingTimeMs) / 1000)
	o.m.SecurityScore.Observe(float64(result.SecurityScore))
	for tier, n := range result.CountByTier() {
		o.m.FindingsTotal.WithLabelValues(string(tier)).Add(float64(n))
	}
	for _, q := range result.QuantumThreats {
		o.m.QuantumThreats.WithLabelValues(string(q.RiskTier)).Inc()
	}
}

func (o *ScanObserver) ScanFailed(state security.ScanState) {
	o.m.ScansTotal.WithLabelValues("failed", sanitizeLabel(string(state), "unknown")).Inc()
}

func (o *ScanObserver) Degraded(kind security.WarningKind) {
	o.m.DegradationsTotal.WithLabelValues(sanitizeLabel(string(kind), "unknown")).Inc()
}

// sanitizeLabel keeps label values lowercase, short and free of odd characters.
func sanitizeLabel(raw, fallback string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return fallback
	}
	s = labelSanitizer.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return fallback
	}
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
