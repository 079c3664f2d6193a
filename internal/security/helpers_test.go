package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sqlExample = "const q = `SELECT * FROM users WHERE id = ${id}`;"

func findingsFor(findings []Finding, rule string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.RuleName == rule {
			out = append(out, f)
		}
	}
	return out
}

func warningKinds(ws []ScanWarning) []WarningKind {
	kinds := make([]WarningKind, 0, len(ws))
	for _, w := range ws {
		kinds = append(kinds, w.Kind)
	}
	return kinds
}

// memCache is a ResultCache that stores copies, like a serializing backend.
type memCache struct {
	mu    sync.Mutex
	items map[string]ScanResult
	ttls  map[string]time.Duration
	puts  int
}

func newMemCache() *memCache {
	return &memCache{items: map[string]ScanResult{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) (*ScanResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *memCache) Put(_ context.Context, key string, result *ScanResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = *result
	c.ttls[key] = ttl
	c.puts++
	return nil
}

func (c *memCache) lastTTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ttl := range c.ttls {
		return ttl
	}
	return 0
}

type failingStore struct{}

func (failingStore) SaveScan(context.Context, *ScanResult) error {
	return errors.New("database is down")
}

type recordingStore struct {
	mu    sync.Mutex
	saved []*ScanResult
}

func (s *recordingStore) SaveScan(_ context.Context, r *ScanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.saved = append(s.saved, &cp)
	return nil
}

// joinedFailureStore fails like a fan-out store with two broken sinks.
type joinedFailureStore struct{}

func (joinedFailureStore) SaveScan(context.Context, *ScanResult) error {
	return errors.Join(errors.New("db: connection refused"), errors.New("archive: bucket missing"))
}

type staticIntel struct {
	intel *ThreatIntelligence
	err   error
}

func (s staticIntel) Fetch(context.Context) (*ThreatIntelligence, error) {
	return s.intel, s.err
}

// blockingClassifier waits until its context is done.
type blockingClassifier struct{ NoopClassifier }

func (blockingClassifier) Classify(ctx context.Context, _, _ FeatureVector) (ClassifierOutput, error) {
	<-ctx.Done()
	return ClassifierOutput{}, ctx.Err()
}

type panickingClassifier struct{ NoopClassifier }

func (panickingClassifier) Classify(context.Context, FeatureVector, FeatureVector) (ClassifierOutput, error) {
	panic("model weights corrupted")
}

type fixedClassifier struct {
	NoopClassifier
	out ClassifierOutput
}

func (f fixedClassifier) Classify(context.Context, FeatureVector, FeatureVector) (ClassifierOutput, error) {
	return f.out, nil
}

// slowClassifier takes a measurable amount of time per call.
type slowClassifier struct {
	NoopClassifier
	delay time.Duration
}

func (c slowClassifier) Classify(ctx context.Context, a, b FeatureVector) (ClassifierOutput, error) {
	time.Sleep(c.delay)
	return c.NoopClassifier.Classify(ctx, a, b)
}

// shortExtractor violates the length contract.
type shortExtractor struct{ StandardExtractor }

func (shortExtractor) Extract(string, VectorKind) (FeatureVector, error) {
	return FeatureVector{0.5}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	stages  []ScanState
	hits    int
	misses  int
	failed  []ScanState
	degrade []WarningKind
}

func (o *recordingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *recordingObserver) StageCompleted(state ScanState, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, state)
}

func (o *recordingObserver) ScanCompleted(*ScanResult) {}

func (o *recordingObserver) ScanFailed(state ScanState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, state)
}

func (o *recordingObserver) Degraded(kind WarningKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degrade = append(o.degrade, kind)
}
