package security

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const cleanSource = "app.use(helmet())\n"

func newTestScanner(t *testing.T, cfg Config, deps Dependencies) *Scanner {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	return NewScanner(cfg, deps)
}

func TestScanner_EmptySource(t *testing.T) {
	s := newTestScanner(t, Config{}, Dependencies{})
	res, err := s.Scan(context.Background(), ScanRequest{Source: "", FilePath: "empty.js"})
	require.NoError(t, err)

	assert.Equal(t, 100, res.SecurityScore)
	assert.NotNil(t, res.Findings)
	assert.Empty(t, res.Findings)
	assert.NotNil(t, res.QuantumThreats)
	assert.Empty(t, res.QuantumThreats)
	assert.Empty(t, res.Recommendations)
	assert.Zero(t, res.ClassifierOutput.AnomalyScore)
	assert.Equal(t, Fingerprint(""), res.Fingerprint)
	assert.Equal(t, FeatureVersion, res.FeatureVersion)
	assert.Len(t, res.ComplianceByFramework, len(Frameworks))
	assert.NotEmpty(t, res.ScanID)
}

func TestScanner_SQLExample(t *testing.T) {
	s := newTestScanner(t, Config{}, Dependencies{})
	res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample, FilePath: "query.js"})
	require.NoError(t, err)

	require.Len(t, findingsFor(res.Findings, "SQL_INJECTION"), 1)
	assert.Equal(t, 67, res.SecurityScore)
	assert.Equal(t, 1, res.CountByTier()[TierCritical])
	require.NotEmpty(t, res.Recommendations)
	assert.Equal(t, PriorityImmediate, res.Recommendations[0].Priority)
	assert.Equal(t, StatusNonCompliant, res.ComplianceByFramework[FrameworkOWASP].Status)
}

func TestScanner_Idempotent(t *testing.T) {
	s := newTestScanner(t, Config{}, Dependencies{Classifier: NewHeuristicClassifier()})
	ctx := context.Background()

	a, err := s.Scan(ctx, ScanRequest{Source: riskySource, FilePath: "a.js"})
	require.NoError(t, err)
	b, err := s.Scan(ctx, ScanRequest{Source: riskySource, FilePath: "a.js"})
	require.NoError(t, err)

	opts := cmpopts.IgnoreFields(ScanResult{}, "ScanID", "ScannedAt", "ProcessingTimeMs")
	if diff := cmp.Diff(a, b, opts); diff != "" {
		t.Errorf("repeated scan differs (-first +second):\n%s", diff)
	}
}

func TestScanner_CacheHit(t *testing.T) {
	cache := newMemCache()
	obs := &recordingObserver{}
	s := newTestScanner(t, Config{}, Dependencies{Cache: cache, Observer: obs})
	ctx := context.Background()

	first, err := s.Scan(ctx, ScanRequest{Source: sqlExample, FilePath: "a.js"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, cache.puts)

	second, err := s.Scan(ctx, ScanRequest{Source: sqlExample, FilePath: "b.js"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "b.js", second.FilePath)
	assert.Equal(t, 1, cache.puts)
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)

	opts := cmpopts.IgnoreFields(ScanResult{}, "ProcessingTimeMs", "Cached", "FilePath")
	if diff := cmp.Diff(first, second, opts); diff != "" {
		t.Errorf("cached result differs (-fresh +cached):\n%s", diff)
	}
}

func TestScanner_ForceRescan(t *testing.T) {
	cache := newMemCache()
	s := newTestScanner(t, Config{}, Dependencies{Cache: cache})
	ctx := context.Background()

	first, err := s.Scan(ctx, ScanRequest{Source: sqlExample})
	require.NoError(t, err)
	again, err := s.Scan(ctx, ScanRequest{Source: sqlExample, ForceRescan: true})
	require.NoError(t, err)

	assert.False(t, again.Cached)
	assert.NotEqual(t, first.ScanID, again.ScanID)
	assert.Equal(t, 2, cache.puts)
}

func TestScanner_CacheTTL(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   time.Duration
	}{
		{"risky code", sqlExample, 30 * time.Minute},
		{"clean code", cleanSource, 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemCache()
			s := newTestScanner(t, Config{}, Dependencies{Cache: cache})
			_, err := s.Scan(context.Background(), ScanRequest{Source: tt.source})
			require.NoError(t, err)
			assert.Equal(t, tt.want, cache.lastTTL())
		})
	}

	s := newTestScanner(t, Config{}, Dependencies{})
	assert.Equal(t, 30*time.Minute, s.TTLFor(80))
	assert.Equal(t, 60*time.Minute, s.TTLFor(81))
}

func TestScanner_ClassifierDegradation(t *testing.T) {
	tests := []struct {
		name       string
		classifier ThreatClassifier
		message    string
	}{
		{"timeout", blockingClassifier{}, "timed out"},
		{"panic", panickingClassifier{}, "model weights corrupted"},
		{"invalid output", fixedClassifier{out: ClassifierOutput{AnomalyScore: 2}}, "contract violation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newMemCache()
			obs := &recordingObserver{}
			s := newTestScanner(t, Config{ClassifierTimeout: 20 * time.Millisecond}, Dependencies{
				Classifier: tt.classifier,
				Cache:      cache,
				Observer:   obs,
			})

			res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
			require.NoError(t, err)

			require.Equal(t, []WarningKind{WarnClassifierUnavailable}, warningKinds(res.Warnings))
			assert.Contains(t, res.Warnings[0].Message, tt.message)
			assert.Equal(t, NeutralOutput(), res.ClassifierOutput)
			assert.Equal(t, 67, res.SecurityScore)
			assert.Zero(t, cache.puts, "degraded results are not cached")
			assert.Equal(t, []WarningKind{WarnClassifierUnavailable}, obs.degrade)
		})
	}
}

func TestScanner_ExtractorContractViolation(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScanner(t, Config{}, Dependencies{Extractor: shortExtractor{}, Observer: obs})

	_, err := s.Scan(context.Background(), ScanRequest{Source: "x := 1"})
	require.Error(t, err)

	var se *ScanError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StateMatching, se.State)
	assert.ErrorIs(t, err, ErrExtractorContract)
	assert.False(t, IsInputError(err))
	assert.Equal(t, []ScanState{StateMatching}, obs.failed)
}

func TestScanner_Intel(t *testing.T) {
	t.Run("enriches result", func(t *testing.T) {
		intel := &ThreatIntelligence{CVEs: []string{"CVE-2024-3094"}, Emerging: []string{}, Quantum: []string{"harvest-now-decrypt-later"}}
		cache := newMemCache()
		s := newTestScanner(t, Config{}, Dependencies{Intel: staticIntel{intel: intel}, Cache: cache})

		res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
		require.NoError(t, err)
		assert.Equal(t, intel, res.ThreatIntelligence)
		assert.Empty(t, res.Warnings)
		assert.Equal(t, 1, cache.puts)
	})

	t.Run("feed failure attaches empty block", func(t *testing.T) {
		cache := newMemCache()
		s := newTestScanner(t, Config{}, Dependencies{Intel: staticIntel{err: errors.New("503 from feed")}, Cache: cache})

		res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
		require.NoError(t, err)
		assert.Equal(t, EmptyThreatIntelligence(), res.ThreatIntelligence)
		assert.Equal(t, []WarningKind{WarnIntelUnavailable}, warningKinds(res.Warnings))
		assert.Equal(t, 67, res.SecurityScore)
		assert.Zero(t, cache.puts)
	})

	t.Run("no feed configured", func(t *testing.T) {
		s := newTestScanner(t, Config{}, Dependencies{})
		res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
		require.NoError(t, err)
		assert.Nil(t, res.ThreatIntelligence)
	})
}

func TestScanner_PersistenceFailure(t *testing.T) {
	cache := newMemCache()
	s := newTestScanner(t, Config{}, Dependencies{Store: failingStore{}, Cache: cache})

	res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
	require.NoError(t, err)
	assert.Equal(t, []WarningKind{WarnPersistenceFailure}, warningKinds(res.Warnings))
	assert.Equal(t, 67, res.SecurityScore)

	// the cached copy is written first and carries no warning
	require.Equal(t, 1, cache.puts)
	for _, cached := range cache.items {
		assert.Empty(t, cached.Warnings)
	}
}

func TestScanner_PersistsResult(t *testing.T) {
	store := &recordingStore{}
	s := newTestScanner(t, Config{}, Dependencies{Store: store})

	res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample, FilePath: "q.js"})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, res.ScanID, store.saved[0].ScanID)
}

func TestScanner_PersistsProcessingTime(t *testing.T) {
	store := &recordingStore{}
	s := newTestScanner(t, Config{}, Dependencies{
		Store:      store,
		Classifier: slowClassifier{delay: 5 * time.Millisecond},
	})

	res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.GreaterOrEqual(t, store.saved[0].ProcessingTimeMs, int64(5))
	assert.Equal(t, res.ProcessingTimeMs, store.saved[0].ProcessingTimeMs)
}

func TestScanner_PersistenceWarningPerSink(t *testing.T) {
	s := newTestScanner(t, Config{}, Dependencies{Store: joinedFailureStore{}})

	res, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
	require.NoError(t, err)
	require.Equal(t, []WarningKind{WarnPersistenceFailure, WarnPersistenceFailure}, warningKinds(res.Warnings))
	assert.Equal(t, "db: connection refused", res.Warnings[0].Message)
	assert.Equal(t, "archive: bucket missing", res.Warnings[1].Message)
}

func TestScanner_CacheScopedByClassifierAndCatalog(t *testing.T) {
	cache := newMemCache()
	ctx := context.Background()
	req := ScanRequest{Source: sqlExample}

	noop := newTestScanner(t, Config{}, Dependencies{Cache: cache})
	first, err := noop.Scan(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	again, err := newTestScanner(t, Config{}, Dependencies{Cache: cache}).Scan(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Cached, "same classifier and catalog share entries")

	heuristic := NewClassifier("heuristic")
	defer heuristic.Close()
	res, err := newTestScanner(t, Config{}, Dependencies{Cache: cache, Classifier: heuristic}).Scan(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, heuristic.Name(), res.ClassifierOutput.Classifier)

	extended, err := DefaultCatalog().Extend(Rule{
		Name:          "RAW_SELECT_STAR",
		Pattern:       Literal("select *"),
		Description:   "Unbounded column selection",
		SeverityScore: 2,
		Tier:          TierLow,
		Polarity:      PresenceForbidden,
	})
	require.NoError(t, err)
	res, err = newTestScanner(t, Config{}, Dependencies{Cache: cache, Catalog: extended}).Scan(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, findingsFor(res.Findings, "RAW_SELECT_STAR"), 1)
}

func TestCacheScope(t *testing.T) {
	base := CacheScope(FeatureVersion, NoopClassifier{}, DefaultCatalog())
	assert.Equal(t, base, CacheScope(FeatureVersion, NoopClassifier{}, DefaultCatalog()))

	heuristic := NewHeuristicClassifier()
	defer heuristic.Close()
	assert.NotEqual(t, base, CacheScope(FeatureVersion, heuristic, DefaultCatalog()))
	assert.NotEqual(t, base, CacheScope("anomaly-v2", NoopClassifier{}, DefaultCatalog()))

	extended, err := DefaultCatalog().Extend(Rule{
		Name: "EXTRA", Pattern: Literal("x"), Tier: TierLow, Polarity: PresenceForbidden,
	})
	require.NoError(t, err)
	assert.NotEqual(t, base, CacheScope(FeatureVersion, NoopClassifier{}, extended))
}

func TestScanner_SourceTooLarge(t *testing.T) {
	s := newTestScanner(t, Config{MaxSourceBytes: 16}, Dependencies{})

	_, err := s.Scan(context.Background(), ScanRequest{Source: strings.Repeat("a", 17)})
	assert.True(t, IsInputError(err))
	assert.ErrorIs(t, err, ErrSourceTooLarge)

	_, err = s.Scan(context.Background(), ScanRequest{Source: strings.Repeat("a", 16)})
	assert.NoError(t, err)
}

func TestScanner_StageTransitions(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestScanner(t, Config{}, Dependencies{Observer: obs})

	_, err := s.Scan(context.Background(), ScanRequest{Source: sqlExample})
	require.NoError(t, err)
	assert.Equal(t, []ScanState{StateMatching, StateClassifying, StateQuantum, StateScoring}, obs.stages)
	assert.Empty(t, obs.failed)
}

func TestScanner_Quantum(t *testing.T) {
	s := newTestScanner(t, Config{}, Dependencies{})
	res, err := s.Scan(context.Background(), ScanRequest{Source: "key, _ := rsa.GenerateKey(rand.Reader, 2048)\napp.use(helmet())\n"})
	require.NoError(t, err)

	require.Len(t, res.QuantumThreats, 1)
	assert.Equal(t, "RSA", res.QuantumThreats[0].AlgorithmName)
	assert.Equal(t, 90, res.SecurityScore)
}

func TestFingerprintAndCacheKey(t *testing.T) {
	fp := Fingerprint("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", fp)
	assert.Equal(t, "scan:v1:"+fp, CacheKey("v1", fp))
	assert.NotEqual(t, Fingerprint("abc "), fp)
}
