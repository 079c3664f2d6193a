package security

import (
	"encoding/json"
	"fmt"
	"time"
)

// SeverityTier is the coarse bucket that drives score deduction.
type SeverityTier string

const (
	TierCritical SeverityTier = "critical"
	TierHigh     SeverityTier = "high"
	TierMedium   SeverityTier = "medium"
	TierLow      SeverityTier = "low"
)

// tierOrder is the fixed order in which tiers are deducted and reported.
var tierOrder = []SeverityTier{TierCritical, TierHigh, TierMedium, TierLow}

// Rank returns a sort key where critical sorts first.
func (t SeverityTier) Rank() int {
	for i, tier := range tierOrder {
		if tier == t {
			return i
		}
	}
	return len(tierOrder)
}

// Valid reports whether t is one of the four known tiers.
func (t SeverityTier) Valid() bool {
	return t.Rank() < len(tierOrder)
}

// LineRef is a 1-based line number. Zero means the finding has no location
// (presence-required rules) and is rendered as "N/A".
type LineRef int

// NoLine marks a finding without a source location.
const NoLine LineRef = 0

func (l LineRef) String() string {
	if l == NoLine {
		return "N/A"
	}
	return fmt.Sprintf("%d", int(l))
}

// MarshalJSON renders located lines as numbers and NoLine as "N/A".
func (l LineRef) MarshalJSON() ([]byte, error) {
	if l == NoLine {
		return []byte(`"N/A"`), nil
	}
	return json.Marshal(int(l))
}

// UnmarshalJSON accepts both forms produced by MarshalJSON.
func (l *LineRef) UnmarshalJSON(data []byte) error {
	if string(data) == `"N/A"` || string(data) == "null" {
		*l = NoLine
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid line reference %s: %w", string(data), err)
	}
	*l = LineRef(n)
	return nil
}

// Finding is a single rule violation, or the absence of a required control.
type Finding struct {
	RuleName      string       `json:"rule_name"`
	SeverityTier  SeverityTier `json:"severity_tier"`
	CWEID         string       `json:"cwe_id"`
	Score         float64      `json:"score"`
	QuantumThreat bool         `json:"quantum_threat"`
	Line          LineRef      `json:"line"`
	Evidence      string       `json:"evidence"`
}

// FeatureVector is a fixed-length, normalized feature sequence.
type FeatureVector []float64

// ClassifierOutput is the contract every ThreatClassifier must honor.
type ClassifierOutput struct {
	AnomalyScore         float64            `json:"anomaly_score"`
	CategoryDistribution map[string]float64 `json:"category_distribution"`
	Confidence           float64            `json:"confidence"`
	Classifier           string             `json:"classifier,omitempty"`
}

// RiskTier grades how exposed an algorithm is to quantum attack.
type RiskTier string

const (
	RiskHigh   RiskTier = "high"
	RiskMedium RiskTier = "medium"
	RiskLow    RiskTier = "low"
)

// QuantumThreat is one quantum-vulnerable algorithm detected in source.
type QuantumThreat struct {
	AlgorithmName           string   `json:"algorithm_name"`
	RiskTier                RiskTier `json:"risk_tier"`
	OccurrenceCount         int      `json:"occurrence_count"`
	RecommendedAlternatives []string `json:"recommended_alternatives"`
}

// Priority orders recommendations.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

var priorityOrder = map[Priority]int{
	PriorityImmediate: 0,
	PriorityHigh:      1,
	PriorityMedium:    2,
	PriorityLow:       3,
}

// Recommendation is a remediation entry; unique per (Priority, Title) in a result.
type Recommendation struct {
	Priority         Priority `json:"priority"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Example          string   `json:"example,omitempty"`
	RelatedRuleNames []string `json:"related_rule_names"`
}

// ComplianceStatus is the overall verdict for one framework.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusPartial      ComplianceStatus = "partial"
	StatusNonCompliant ComplianceStatus = "non-compliant"
)

// ComplianceReport is the per-framework checklist outcome.
type ComplianceReport struct {
	Framework      string           `json:"framework"`
	Score          int              `json:"score"`
	PerControlPass map[string]bool  `json:"per_control_pass"`
	Status         ComplianceStatus `json:"status"`
}

// ThreatIntelligence is the enrichment block pulled from the intel feed.
type ThreatIntelligence struct {
	CVEs     []string `json:"cves"`
	Emerging []string `json:"emerging"`
	Quantum  []string `json:"quantum"`
}

// EmptyThreatIntelligence returns the degraded enrichment with non-nil lists.
func EmptyThreatIntelligence() *ThreatIntelligence {
	return &ThreatIntelligence{CVEs: []string{}, Emerging: []string{}, Quantum: []string{}}
}

// WarningKind names a non-fatal degradation that happened during a scan.
type WarningKind string

const (
	WarnExtractionDegraded    WarningKind = "extraction_degraded"
	WarnClassifierUnavailable WarningKind = "classifier_unavailable"
	WarnIntelUnavailable      WarningKind = "intel_unavailable"
	WarnPersistenceFailure    WarningKind = "persistence_failure"
)

// ScanWarning surfaces a degradation as result metadata.
type ScanWarning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// ScanResult is the aggregate root of one scan invocation.
type ScanResult struct {
	ScanID                string                      `json:"scan_id"`
	Fingerprint           string                      `json:"fingerprint"`
	FilePath              string                      `json:"file_path"`
	FeatureVersion        string                      `json:"feature_version"`
	Findings              []Finding                   `json:"findings"`
	ClassifierOutput      ClassifierOutput            `json:"classifier_output"`
	QuantumThreats        []QuantumThreat             `json:"quantum_threats"`
	SecurityScore         int                         `json:"security_score"`
	Recommendations       []Recommendation            `json:"recommendations"`
	ComplianceByFramework map[string]ComplianceReport `json:"compliance_by_framework"`
	ThreatIntelligence    *ThreatIntelligence         `json:"threat_intelligence,omitempty"`
	Warnings              []ScanWarning               `json:"warnings,omitempty"`
	Cached                bool                        `json:"cached"`
	ScannedAt             time.Time                   `json:"scanned_at"`
	ProcessingTimeMs      int64                       `json:"processing_time_ms"`
}

// CountByTier tallies findings per severity tier.
func (r *ScanResult) CountByTier() map[SeverityTier]int {
	counts := make(map[SeverityTier]int, len(tierOrder))
	for _, f := range r.Findings {
		counts[f.SeverityTier]++
	}
	return counts
}

// BatchFile is one input of a batch scan.
type BatchFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BatchItem is the outcome of scanning one file in a batch. Exactly one of
// Result and Error is set.
type BatchItem struct {
	FilePath string      `json:"file_path"`
	Result   *ScanResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Succeeded reports whether the file produced a result.
func (b BatchItem) Succeeded() bool {
	return b.Result != nil
}

// BatchSummary is reduced over successful outcomes only.
type BatchSummary struct {
	TotalFiles           int     `json:"total_files"`
	ScannedFiles         int     `json:"scanned_files"`
	TotalFindings        int     `json:"total_findings"`
	CriticalFindings     int     `json:"critical_findings"`
	AverageSecurityScore float64 `json:"average_security_score"`
}

// BatchResult aggregates a batch scan.
type BatchResult struct {
	Summary          BatchSummary `json:"summary"`
	PerFile          []BatchItem  `json:"per_file"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
}
