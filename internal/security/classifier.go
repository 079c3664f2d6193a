package security

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// CategorySetVersion tags the category list below.
const CategorySetVersion = "categories-v1"

// ThreatCategories is the fixed category set every classifier distributes over.
var ThreatCategories = []string{
	"injection",
	"xss",
	"crypto_weak",
	"auth_bypass",
	"path_traversal",
	"command_injection",
	"info_disclosure",
	"dos",
	"csrf",
	"quantum_vulnerable",
}

// ErrClassifierClosed is returned by a classifier used after Close.
var ErrClassifierClosed = errors.New("classifier is closed")

// ThreatClassifier scores feature vectors. Implementations may be trained
// models, heuristics or stubs; the scanner validates every output.
type ThreatClassifier interface {
	Classify(ctx context.Context, anomaly, classification FeatureVector) (ClassifierOutput, error)
	Name() string
	Version() string
	Close() error
}

// NeutralOutput is the classifier output used when no classifier is available:
// zero anomaly and a uniform distribution.
func NeutralOutput() ClassifierOutput {
	dist := make(map[string]float64, len(ThreatCategories))
	p := 1 / float64(len(ThreatCategories))
	for _, c := range ThreatCategories {
		dist[c] = p
	}
	return ClassifierOutput{
		AnomalyScore:         0,
		CategoryDistribution: dist,
		Confidence:           p,
		Classifier:           "neutral",
	}
}

const simplexTolerance = 1e-6

// ValidateOutput checks the classifier contract.
func ValidateOutput(out ClassifierOutput) error {
	if math.IsNaN(out.AnomalyScore) || out.AnomalyScore < 0 || out.AnomalyScore > 1 {
		return fmt.Errorf("anomaly score %v outside [0,1]", out.AnomalyScore)
	}
	if len(out.CategoryDistribution) != len(ThreatCategories) {
		return fmt.Errorf("distribution has %d categories, want %d", len(out.CategoryDistribution), len(ThreatCategories))
	}
	sum, best := 0.0, 0.0
	for _, c := range ThreatCategories {
		p, ok := out.CategoryDistribution[c]
		if !ok {
			return fmt.Errorf("distribution missing category %q", c)
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("category %q probability %v outside [0,1]", c, p)
		}
		sum += p
		best = math.Max(best, p)
	}
	if math.Abs(sum-1) > simplexTolerance {
		return fmt.Errorf("distribution sums to %v", sum)
	}
	if math.Abs(out.Confidence-best) > simplexTolerance {
		return fmt.Errorf("confidence %v does not equal max probability %v", out.Confidence, best)
	}
	return nil
}

// NoopClassifier always returns the neutral output.
type NoopClassifier struct{}

func (NoopClassifier) Classify(context.Context, FeatureVector, FeatureVector) (ClassifierOutput, error) {
	out := NeutralOutput()
	out.Classifier = "noop"
	return out, nil
}

func (NoopClassifier) Name() string    { return "noop" }
func (NoopClassifier) Version() string { return "v1" }
func (NoopClassifier) Close() error    { return nil }

// heuristicWeights is a small logistic model over both vectors.
type heuristicWeights struct {
	bias        float64
	keyword     []float64 // anomaly[4:24]
	entropy     float64
	categories  []float64 // classification[10:20]
	controls    float64   // classification[20:30], per feature
	temperature float64
}

func defaultHeuristicWeights() heuristicWeights {
	return heuristicWeights{
		bias: -4.5,
		keyword: []float64{
			1.2, 1.2, 0.6, 0.3, 0.2, // password secret token crypto hash
			0.4, 0.3, 1.0, 1.5, 0.6, // select insert exec eval system
			0.3, 0.4, 0.3, 0.5, 0.2, // query cookie session admin key
			0.4, 0.8, 0.8, 0.4, 0.9, // random md5 sha1 rsa innerhtml
		},
		entropy:    0.5,
		categories: []float64{2.2, 1.6, 1.2, 2.0, 1.4, 2.4, 0.8, 0.9, 0.7, 1.0},
		controls:   -0.6,
		// Lower temperature sharpens the category distribution.
		temperature: 0.25,
	}
}

// HeuristicClassifier is a deterministic logistic/softmax scorer. Weights are
// loaded once at construction; the classifier is safe for concurrent use
// until Close.
type HeuristicClassifier struct {
	weights heuristicWeights
	mu      sync.RWMutex
	closed  bool
}

// NewHeuristicClassifier loads the built-in weights.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{weights: defaultHeuristicWeights()}
}

func (h *HeuristicClassifier) Name() string    { return "heuristic" }
func (h *HeuristicClassifier) Version() string { return "v1/" + CategorySetVersion }

// Close releases the weights. Later Classify calls fail.
func (h *HeuristicClassifier) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Classify implements ThreatClassifier.
func (h *HeuristicClassifier) Classify(ctx context.Context, anomaly, classification FeatureVector) (ClassifierOutput, error) {
	if err := ctx.Err(); err != nil {
		return ClassifierOutput{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ClassifierOutput{}, ErrClassifierClosed
	}
	if len(anomaly) != AnomalyVectorLen || len(classification) != ClassificationVectorLen {
		return ClassifierOutput{}, fmt.Errorf("unexpected vector lengths %d/%d", len(anomaly), len(classification))
	}

	w := h.weights
	z := w.bias + w.entropy*anomaly[24]
	for i, k := range w.keyword {
		z += k * anomaly[4+i]
	}
	for i, c := range w.categories {
		z += c * classification[10+i]
	}
	for i := 20; i < 30; i++ {
		z += w.controls * classification[i]
	}

	logits := make([]float64, len(ThreatCategories))
	for i := range ThreatCategories {
		logits[i] = classification[10+i] / w.temperature
	}
	probs := softmax(logits)
	dist := make(map[string]float64, len(ThreatCategories))
	best := 0.0
	for i, c := range ThreatCategories {
		dist[c] = probs[i]
		best = math.Max(best, probs[i])
	}

	return ClassifierOutput{
		AnomalyScore:         sigmoid(z),
		CategoryDistribution: dist,
		Confidence:           best,
		Classifier:           h.Name(),
	}, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, l)
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// NewClassifier builds a classifier by name. Unknown names fall back to noop.
func NewClassifier(name string) ThreatClassifier {
	switch name {
	case "heuristic":
		return NewHeuristicClassifier()
	default:
		return NoopClassifier{}
	}
}
