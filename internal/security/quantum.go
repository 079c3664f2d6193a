package security

import (
	"regexp"
	"strings"
)

// AlgorithmProfile describes one quantum-vulnerable primitive.
type AlgorithmProfile struct {
	Name         string   `json:"name"`
	RiskTier     RiskTier `json:"risk_tier"`
	Alternatives []string `json:"recommended_alternatives"`
	pattern      *regexp.Regexp
}

// quantumTable is the fixed, ordered detection table.
var quantumTable = []AlgorithmProfile{
	{Name: "RSA", RiskTier: RiskHigh, Alternatives: []string{"CRYSTALS-Kyber", "NTRU", "SABER"},
		pattern: regexp.MustCompile(`(?i)\brsa\b`)},
	{Name: "ECDSA", RiskTier: RiskHigh, Alternatives: []string{"CRYSTALS-Dilithium", "FALCON", "SPHINCS+"},
		pattern: regexp.MustCompile(`(?i)\becdsa\b`)},
	{Name: "ECDH", RiskTier: RiskHigh, Alternatives: []string{"CRYSTALS-Kyber", "NTRU"},
		pattern: regexp.MustCompile(`(?i)\becdhe?\b`)},
	{Name: "DSA", RiskTier: RiskHigh, Alternatives: []string{"CRYSTALS-Dilithium", "SPHINCS+"},
		pattern: regexp.MustCompile(`(?i)\bdsa\b`)},
	{Name: "Diffie-Hellman", RiskTier: RiskHigh, Alternatives: []string{"CRYSTALS-Kyber", "FrodoKEM"},
		pattern: regexp.MustCompile(`(?i)diffie[-_\s]?hellman`)},
	{Name: "SHA-1", RiskTier: RiskMedium, Alternatives: []string{"SHA-3", "BLAKE3", "SHA-256"},
		pattern: regexp.MustCompile(`(?i)\bsha-?1\b`)},
	{Name: "MD5", RiskTier: RiskMedium, Alternatives: []string{"SHA-3", "BLAKE3", "SHA-256"},
		pattern: regexp.MustCompile(`(?i)\bmd5\b`)},
	{Name: "3DES", RiskTier: RiskMedium, Alternatives: []string{"AES-256"},
		pattern: regexp.MustCompile(`(?i)\b(?:3des|triple-?des|des-ede3)\b`)},
	{Name: "AES-128", RiskTier: RiskLow, Alternatives: []string{"AES-256"},
		pattern: regexp.MustCompile(`(?i)\baes-?128\b`)},
}

// QuantumAlgorithms lists the profiles in table order.
func QuantumAlgorithms() []AlgorithmProfile {
	out := make([]AlgorithmProfile, len(quantumTable))
	copy(out, quantumTable)
	return out
}

// LookupAlgorithm finds a profile by name, ignoring case and separators.
func LookupAlgorithm(name string) (AlgorithmProfile, bool) {
	want := normalizeName(name)
	for _, p := range quantumTable {
		if normalizeName(p.Name) == want {
			return p, true
		}
	}
	return AlgorithmProfile{}, false
}

// AssessQuantum emits one threat per algorithm that occurs in source, in table
// order. Algorithms that do not occur produce no entry.
func AssessQuantum(source string) []QuantumThreat {
	threats := make([]QuantumThreat, 0)
	if strings.TrimSpace(source) == "" {
		return threats
	}
	for _, p := range quantumTable {
		if t, ok := assessOne(source, p); ok {
			threats = append(threats, t)
		}
	}
	return threats
}

// AlgorithmAssessment is the standalone result for a single algorithm.
type AlgorithmAssessment struct {
	Profile AlgorithmProfile `json:"profile"`
	Threat  *QuantumThreat   `json:"threat,omitempty"`
}

// AssessAlgorithm restricts the assessment to one algorithm. The profile is
// returned even when the algorithm does not occur in source.
func AssessAlgorithm(source, name string) (AlgorithmAssessment, error) {
	p, ok := LookupAlgorithm(name)
	if !ok {
		return AlgorithmAssessment{}, NewInputError("algorithm", "unknown algorithm "+name)
	}
	res := AlgorithmAssessment{Profile: p}
	if t, ok := assessOne(source, p); ok {
		res.Threat = &t
	}
	return res, nil
}

func assessOne(source string, p AlgorithmProfile) (QuantumThreat, bool) {
	n := len(p.pattern.FindAllStringIndex(source, -1))
	if n == 0 {
		return QuantumThreat{}, false
	}
	alts := make([]string, len(p.Alternatives))
	copy(alts, p.Alternatives)
	return QuantumThreat{
		AlgorithmName:           p.Name,
		RiskTier:                p.RiskTier,
		OccurrenceCount:         n,
		RecommendedAlternatives: alts,
	}, true
}

func normalizeName(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}
