package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScanState is a step of the scan pipeline.
type ScanState string

const (
	StatePending     ScanState = "pending"
	StateMatching    ScanState = "matching"
	StateClassifying ScanState = "classifying"
	StateQuantum     ScanState = "quantum-assessing"
	StateScoring     ScanState = "scoring"
	StateComplete    ScanState = "complete"
	StateFailed      ScanState = "failed"
)

// ResultCache is a content-addressed result store with TTL.
type ResultCache interface {
	Get(ctx context.Context, key string) (*ScanResult, bool, error)
	Put(ctx context.Context, key string, result *ScanResult, ttl time.Duration) error
}

// ResultStore durably records completed scans. It is write-only from the
// scanner's point of view.
type ResultStore interface {
	SaveScan(ctx context.Context, result *ScanResult) error
}

// IntelFeed supplies threat intelligence enrichment.
type IntelFeed interface {
	Fetch(ctx context.Context) (*ThreatIntelligence, error)
}

// Observer receives pipeline events, typically for metrics.
type Observer interface {
	CacheLookup(hit bool)
	StageCompleted(state ScanState, d time.Duration)
	ScanCompleted(result *ScanResult)
	ScanFailed(state ScanState)
	Degraded(kind WarningKind)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool) {}
func (nopObserver) StageCompleted(ScanState, time.Duration) {}
func (nopObserver) ScanCompleted(*ScanResult) {}
func (nopObserver) ScanFailed(ScanState) {}
func (nopObserver) Degraded(WarningKind) {}

// Config holds scanner tuning.
type Config struct {
	BatchConcurrency    int
	MaxBatchFiles       int
	MaxSourceBytes      int
	CacheTTLRisky       time.Duration
	CacheTTLClean       time.Duration
	RiskyScoreThreshold int
	ClassifierTimeout   time.Duration
	IntelTimeout        time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchConcurrency:    5,
		MaxBatchFiles:       100,
		MaxSourceBytes:      1 << 20,
		CacheTTLRisky:       30 * time.Minute,
		CacheTTLClean:       60 * time.Minute,
		RiskyScoreThreshold: 80,
		ClassifierTimeout:   2 * time.Second,
		IntelTimeout:        3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = d.BatchConcurrency
	}
	if c.MaxBatchFiles <= 0 {
		c.MaxBatchFiles = d.MaxBatchFiles
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = d.MaxSourceBytes
	}
	if c.CacheTTLRisky <= 0 {
		c.CacheTTLRisky = d.CacheTTLRisky
	}
	if c.CacheTTLClean <= 0 {
		c.CacheTTLClean = d.CacheTTLClean
	}
	if c.RiskyScoreThreshold <= 0 {
		c.RiskyScoreThreshold = d.RiskyScoreThreshold
	}
	if c.ClassifierTimeout <= 0 {
		c.ClassifierTimeout = d.ClassifierTimeout
	}
	if c.IntelTimeout <= 0 {
		c.IntelTimeout = d.IntelTimeout
	}
	return c
}

// Dependencies are the scanner's collaborators. Only Catalog is required;
// nil Cache, Store and Intel disable those steps.
type Dependencies struct {
	Catalog    *Catalog
	Classifier ThreatClassifier
	Extractor  FeatureExtractor
	Cache      ResultCache
	Store      ResultStore
	Intel      IntelFeed
	Observer   Observer
	Logger     *zap.Logger
}

// Scanner orchestrates the scan pipeline.
type Scanner struct {
	cfg        Config
	catalog    *Catalog
	matcher    *Matcher
	scorer     *Scorer
	classifier ThreatClassifier
	extractor  FeatureExtractor
	cache      ResultCache
	store      ResultStore
	intel      IntelFeed
	observer   Observer
	logger     *zap.Logger
	cacheScope string
}

// NewScanner wires a scanner.
func NewScanner(cfg Config, deps Dependencies) *Scanner {
	if deps.Catalog == nil {
		deps.Catalog = DefaultCatalog()
	}
	if deps.Classifier == nil {
		deps.Classifier = NoopClassifier{}
	}
	if deps.Extractor == nil {
		deps.Extractor = NewStandardExtractor()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.Named("scanner")
	return &Scanner{
		cfg:        cfg.withDefaults(),
		catalog:    deps.Catalog,
		matcher:    NewMatcher(deps.Catalog, logger),
		scorer:     NewScorer(deps.Catalog),
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		cache:      deps.Cache,
		store:      deps.Store,
		intel:      deps.Intel,
		observer:   deps.Observer,
		logger:     logger,
		cacheScope: CacheScope(deps.Extractor.Version(), deps.Classifier, deps.Catalog),
	}
}

// Catalog returns the rule catalog in use.
func (s *Scanner) Catalog() *Catalog {
	return s.catalog
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// FeatureVersion is the extractor scheme version that scopes cache keys.
func (s *Scanner) FeatureVersion() string {
	return s.extractor.Version()
}

// ClassifierName names the injected classifier.
func (s *Scanner) ClassifierName() string {
	return s.classifier.Name()
}

// ScanRequest is a single-file scan.
type ScanRequest struct {
	Source      string
	FilePath    string
	ForceRescan bool
}

// Fingerprint is the hex SHA-256 of the exact source bytes.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// CacheScope names everything besides the source that decides a result: the
// feature scheme, the classifier and its version, and the rule catalog.
func CacheScope(featureVersion string, classifier ThreatClassifier, catalog *Catalog) string {
	return fmt.Sprintf("%s:%s@%s:%s", featureVersion, classifier.Name(), classifier.Version(), catalog.Digest())
}

// CacheKey scopes a fingerprint to a CacheScope.
func CacheKey(scope, fingerprint string) string {
	return fmt.Sprintf("scan:%s:%s", scope, fingerprint)
}

// CacheScope returns the scope this scanner's cache keys live under.
func (s *Scanner) CacheScope() string {
	return s.cacheScope
}

// TTLFor returns how long a result stays cached: shorter for risky code.
func (s *Scanner) TTLFor(score int) time.Duration {
	if score <= s.cfg.RiskyScoreThreshold {
		return s.cfg.CacheTTLRisky
	}
	return s.cfg.CacheTTLClean
}

// Scan runs a single-file scan, serving non-expired cached results unless
// ForceRescan is set. Only *InputError and *ScanError are returned.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if len(req.Source) > s.cfg.MaxSourceBytes {
		return nil, &InputError{
			Field:  "code",
			Reason: fmt.Sprintf("source is %d bytes, limit is %d", len(req.Source), s.cfg.MaxSourceBytes),
			Err:    ErrSourceTooLarge,
		}
	}

	start := time.Now()
	fp := Fingerprint(req.Source)
	key := CacheKey(s.cacheScope, fp)

	if !req.ForceRescan {
		if cached := s.lookup(ctx, key); cached != nil {
			res := *cached
			res.Cached = true
			res.FilePath = req.FilePath
			res.ProcessingTimeMs = time.Since(start).Milliseconds()
			return &res, nil
		}
	}

	result, err := s.runPipeline(ctx, req, fp, start)
	if err != nil {
		return nil, err
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	s.finish(ctx, key, result)
	s.observer.ScanCompleted(result)
	s.logger.Info("scan complete",
		zap.String("scan_id", result.ScanID),
		zap.String("file_path", result.FilePath),
		zap.String("fingerprint", fp[:12]),
		zap.Int("security_score", result.SecurityScore),
		zap.Int("findings", len(result.Findings)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
	return result, nil
}

func (s *Scanner) lookup(ctx context.Context, key string) *ScanResult {
	if s.cache == nil {
		return nil
	}
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		s.observer.CacheLookup(false)
		return nil
	}
	s.observer.CacheLookup(ok && cached != nil)
	if !ok {
		return nil
	}
	return cached
}

// finish caches and persists a fresh result. Results produced with a degraded
// classifier or intel feed are not cached.
func (s *Scanner) finish(ctx context.Context, key string, result *ScanResult) {
	if s.cache != nil && !hasWarning(result, WarnClassifierUnavailable, WarnIntelUnavailable) {
		if err := s.cache.Put(ctx, key, result, s.TTLFor(result.SecurityScore)); err != nil {
			s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.SaveScan(ctx, result); err != nil {
			for _, sinkErr := range splitErrors(err) {
				s.logger.Error("failed to persist scan",
					zap.String("scan_id", result.ScanID),
					zap.Error(sinkErr),
				)
				s.warn(result, WarnPersistenceFailure, sinkErr.Error())
			}
		}
	}
}

// splitErrors unpacks an errors.Join result so each failed sink is reported
// on its own.
func splitErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func hasWarning(result *ScanResult, kinds ...WarningKind) bool {
	for _, w := range result.Warnings {
		for _, k := range kinds {
			if w.Kind == k {
				return true
			}
		}
	}
	return false
}

func (s *Scanner) warn(result *ScanResult, kind WarningKind, msg string) {
	result.Warnings = append(result.Warnings, ScanWarning{Kind: kind, Message: msg})
	s.observer.Degraded(kind)
}

// pipeline tracks state transitions for one scan.
type pipeline struct {
	s       *Scanner
	scanID  string
	state   ScanState
	entered time.Time
}

func (p *pipeline) transition(to ScanState) {
	now := time.Now()
	if p.state != StatePending {
		p.s.observer.StageCompleted(p.state, now.Sub(p.entered))
	}
	p.s.logger.Debug("scan state",
		zap.String("scan_id", p.scanID),
		zap.String("from", string(p.state)),
		zap.String("to", string(to)),
	)
	p.state, p.entered = to, now
}

func (p *pipeline) fail(err error) error {
	failedIn := p.state
	p.transition(StateFailed)
	p.s.observer.ScanFailed(failedIn)
	p.s.logger.Error("scan failed",
		zap.String("scan_id", p.scanID),
		zap.String("state", string(failedIn)),
		zap.Error(err),
	)
	return &ScanError{State: failedIn, Err: err}
}

func (s *Scanner) runPipeline(ctx context.Context, req ScanRequest, fp string, start time.Time) (*ScanResult, error) {
	p := &pipeline{s: s, scanID: uuid.NewString(), state: StatePending, entered: start}
	result := &ScanResult{
		ScanID:         p.scanID,
		Fingerprint:    fp,
		FilePath:       req.FilePath,
		FeatureVersion: s.extractor.Version(),
		ScannedAt:      start.UTC(),
	}

	p.transition(StateMatching)
	prepared := PrepareSource(req.Source)
	for _, w := range prepared.Warnings {
		s.warn(result, w.Kind, w.Message)
	}
	var anomaly, classification FeatureVector
	if prepared.Blank() {
		result.Findings = []Finding{}
	} else {
		result.Findings = s.matcher.scanPrepared(prepared.Text)
		var err error
		if anomaly, err = s.extract(prepared.Text, VectorAnomaly); err != nil {
			return nil, p.fail(err)
		}
		if classification, err = s.extract(prepared.Text, VectorClassification); err != nil {
			return nil, p.fail(err)
		}
	}

	p.transition(StateClassifying)
	if prepared.Blank() {
		result.ClassifierOutput = NeutralOutput()
	} else {
		out, warning := s.classify(ctx, anomaly, classification)
		result.ClassifierOutput = out
		if warning != "" {
			s.warn(result, WarnClassifierUnavailable, warning)
		}
	}

	p.transition(StateQuantum)
	result.QuantumThreats = AssessQuantum(prepared.Text)

	p.transition(StateScoring)
	result.SecurityScore, result.Recommendations = s.scorer.Evaluate(result.Findings, result.ClassifierOutput, result.QuantumThreats)
	result.ComplianceByFramework = MapAllFrameworks(result.Findings)
	s.enrich(ctx, result)

	p.transition(StateComplete)
	return result, nil
}

func (s *Scanner) extract(text string, kind VectorKind) (v FeatureVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: extractor panic: %v", ErrExtractorContract, r)
		}
	}()
	v, err = s.extractor.Extract(text, kind)
	if err != nil {
		return nil, fmt.Errorf("%s extraction: %w", kind, err)
	}
	if err := CheckVector(v, kind); err != nil {
		return nil, err
	}
	return v, nil
}

type classifyResult struct {
	out ClassifierOutput
	err error
}

// classify runs the classifier under the configured timeout. Any error,
// panic, timeout or contract violation yields the neutral output and a
// non-empty warning message.
func (s *Scanner) classify(ctx context.Context, anomaly, classification FeatureVector) (ClassifierOutput, string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifierTimeout)
	defer cancel()

	ch := make(chan classifyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- classifyResult{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		out, err := s.classifier.Classify(ctx, anomaly, classification)
		ch <- classifyResult{out: out, err: err}
	}()

	var res classifyResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err == nil {
		res.err = ValidateOutput(res.out)
		if res.err != nil {
			res.err = fmt.Errorf("contract violation: %w", res.err)
		}
	}
	if res.err != nil {
		msg := fmt.Sprintf("classifier %s unavailable: %v", s.classifier.Name(), res.err)
		if errors.Is(res.err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("classifier %s timed out after %s", s.classifier.Name(), s.cfg.ClassifierTimeout)
		}
		s.logger.Warn("classifier degraded to neutral output", zap.Error(res.err))
		return NeutralOutput(), msg
	}
	if res.out.Classifier == "" {
		res.out.Classifier = s.classifier.Name()
	}
	return res.out, ""
}

// enrich attaches threat intelligence; failures attach empty lists.
func (s *Scanner) enrich(ctx context.Context, result *ScanResult) {
	if s.intel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IntelTimeout)
	defer cancel()

	intel, err := s.intel.Fetch(ctx)
	if err != nil || intel == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		s.logger.Warn("threat intel unavailable", zap.Error(err))
		result.ThreatIntelligence = EmptyThreatIntelligence()
		s.warn(result, WarnIntelUnavailable, err.Error())
		return
	}
	result.ThreatIntelligence = intel
}
