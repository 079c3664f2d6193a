package security

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Score deduction weights.
const (
	baseScore = 100.0

	deductCritical = 25.0
	deductHigh     = 15.0
	deductMedium   = 8.0
	deductLow      = 3.0

	anomalyPenaltyWeight = 20.0

	quantumHighPenalty   = 10.0
	quantumMediumPenalty = 5.0

	// AnomalyRecommendationThreshold triggers the classifier recommendation.
	AnomalyRecommendationThreshold = 0.7
)

var tierDeduction = map[SeverityTier]float64{
	TierCritical: deductCritical,
	TierHigh:     deductHigh,
	TierMedium:   deductMedium,
	TierLow:      deductLow,
}

// SecurityScore computes the 0-100 score. Findings are deducted by tier in
// fixed order, so the result does not depend on the order of findings.
func SecurityScore(findings []Finding, out ClassifierOutput, threats []QuantumThreat) int {
	counts := make(map[SeverityTier]int, len(tierOrder))
	for _, f := range findings {
		counts[f.SeverityTier]++
	}

	score := baseScore
	for _, tier := range tierOrder {
		for i := 0; i < counts[tier]; i++ {
			score = math.Max(0, score-tierDeduction[tier])
		}
	}

	score -= out.AnomalyScore * anomalyPenaltyWeight

	for _, t := range threats {
		switch t.RiskTier {
		case RiskHigh:
			score -= quantumHighPenalty
		case RiskMedium:
			score -= quantumMediumPenalty
		}
	}

	return int(math.Round(math.Max(0, math.Min(100, score))))
}

// Scorer produces the score and the recommendation list for a scan.
type Scorer struct {
	catalog *Catalog
}

// NewScorer creates a scorer whose rule remediations come from catalog.
func NewScorer(catalog *Catalog) *Scorer {
	return &Scorer{catalog: catalog}
}

// Evaluate returns the security score and recommendations.
func (s *Scorer) Evaluate(findings []Finding, out ClassifierOutput, threats []QuantumThreat) (int, []Recommendation) {
	return SecurityScore(findings, out, threats), s.Recommend(findings, out, threats)
}

// Recommend builds one entry per distinct rule, one for high anomaly scores
// and one per vulnerable algorithm, merged by (priority, title) and ordered by
// priority.
func (s *Scorer) Recommend(findings []Finding, out ClassifierOutput, threats []QuantumThreat) []Recommendation {
	b := newRecommendationSet()

	present := make(map[string]bool, len(findings))
	for _, f := range findings {
		present[f.RuleName] = true
	}
	names := make([]string, 0, len(present))
	for name := range present {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := s.catalog.Position(names[i]), s.catalog.Position(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		rule, ok := s.catalog.Lookup(name)
		if !ok {
			continue
		}
		b.add(Recommendation{
			Priority:         tierPriority(rule.Tier),
			Title:            rule.Remediation.Title,
			Description:      rule.Remediation.Description,
			Example:          rule.Remediation.Example,
			RelatedRuleNames: []string{rule.Name},
		})
	}

	if out.AnomalyScore > AnomalyRecommendationThreshold {
		b.add(Recommendation{
			Priority:         PriorityHigh,
			Title:            "Review anomalous code patterns",
			Description:      fmt.Sprintf("The threat classifier rated this code %.2f on anomaly; review it manually, starting with the %s category.", out.AnomalyScore, topCategory(out)),
			RelatedRuleNames: []string{},
		})
	}

	for _, t := range threats {
		b.add(Recommendation{
			Priority:         riskPriority(t.RiskTier),
			Title:            fmt.Sprintf("Migrate %s to quantum-resistant cryptography", t.AlgorithmName),
			Description:      fmt.Sprintf("%s appears %d time(s). Plan a migration to %s.", t.AlgorithmName, t.OccurrenceCount, strings.Join(t.RecommendedAlternatives, ", ")),
			RelatedRuleNames: quantumRelatedRules(findings),
		})
	}

	return b.sorted()
}

func riskPriority(r RiskTier) Priority {
	switch r {
	case RiskHigh:
		return PriorityHigh
	case RiskMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func topCategory(out ClassifierOutput) string {
	best, name := -1.0, ""
	for _, c := range ThreatCategories {
		if p := out.CategoryDistribution[c]; p > best {
			best, name = p, c
		}
	}
	return name
}

func quantumRelatedRules(findings []Finding) []string {
	seen := map[string]bool{}
	names := []string{}
	for _, f := range findings {
		if f.QuantumThreat && !seen[f.RuleName] {
			seen[f.RuleName] = true
			names = append(names, f.RuleName)
		}
	}
	return names
}

// recommendationSet merges entries that share (priority, title).
type recommendationSet struct {
	order []recKey
	byKey map[recKey]*Recommendation
}

type recKey struct {
	priority Priority
	title    string
}

func newRecommendationSet() *recommendationSet {
	return &recommendationSet{byKey: make(map[recKey]*Recommendation)}
}

func (s *recommendationSet) add(r Recommendation) {
	k := recKey{r.Priority, r.Title}
	existing, ok := s.byKey[k]
	if !ok {
		rc := r
		rc.RelatedRuleNames = append([]string{}, r.RelatedRuleNames...)
		s.byKey[k] = &rc
		s.order = append(s.order, k)
		return
	}
	for _, name := range r.RelatedRuleNames {
		if !containsString(existing.RelatedRuleNames, name) {
			existing.RelatedRuleNames = append(existing.RelatedRuleNames, name)
		}
	}
}

func (s *recommendationSet) sorted() []Recommendation {
	out := make([]Recommendation, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityOrder[out[i].Priority] < priorityOrder[out[j].Priority]
	})
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
