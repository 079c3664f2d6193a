package security

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxEvidenceRunes bounds the excerpt stored on each finding.
const MaxEvidenceRunes = 100

// PreparedSource is source text after encoding repair.
type PreparedSource struct {
	Text string
	// Binary is set for input containing NUL bytes. Binary input is never
	// matched or classified.
	Binary   bool
	Warnings []ScanWarning
}

// Blank reports whether there is nothing to analyze.
func (p PreparedSource) Blank() bool {
	return p.Binary || strings.TrimSpace(p.Text) == ""
}

// PrepareSource repairs invalid UTF-8 and flags binary input.
func PrepareSource(source string) PreparedSource {
	if strings.IndexByte(source, 0) >= 0 {
		return PreparedSource{
			Binary: true,
			Warnings: []ScanWarning{{
				Kind:    WarnExtractionDegraded,
				Message: "binary content detected; analysis skipped",
			}},
		}
	}
	if !utf8.ValidString(source) {
		return PreparedSource{
			Text: strings.ToValidUTF8(source, "\uFFFD"),
			Warnings: []ScanWarning{{
				Kind:    WarnExtractionDegraded,
				Message: "invalid UTF-8 sequences replaced before analysis",
			}},
		}
	}
	return PreparedSource{Text: source}
}

// Matcher applies a catalog to source text.
type Matcher struct {
	catalog *Catalog
	logger  *zap.Logger
}

// NewMatcher creates a matcher over catalog.
func NewMatcher(catalog *Catalog, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{catalog: catalog, logger: logger.Named("matcher")}
}

// Scan runs every rule against source and returns findings in catalog order,
// each rule's findings ordered by offset.
func (m *Matcher) Scan(source string) ([]Finding, []ScanWarning) {
	prepared := PrepareSource(source)
	if prepared.Blank() {
		return []Finding{}, prepared.Warnings
	}
	return m.scanPrepared(prepared.Text), prepared.Warnings
}

func (m *Matcher) scanPrepared(text string) []Finding {
	lines := newLineIndex(text)
	findings := make([]Finding, 0)
	for _, rule := range m.catalog.Rules() {
		spans, err := m.safeFind(rule, text)
		if err != nil {
			m.logger.Warn("rule matcher failed; rule skipped",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
			continue
		}
		switch rule.Polarity {
		case PresenceRequired:
			if len(spans) == 0 {
				findings = append(findings, newFinding(rule, NoLine, rule.Description))
			}
		default:
			for _, sp := range spans {
				evidence := text[sp.Start:sp.End]
				if strings.TrimSpace(evidence) == "" {
					evidence = lines.lineText(text, sp.Start)
				}
				findings = append(findings, newFinding(rule, lines.lineOf(sp.Start), evidence))
			}
		}
	}
	return findings
}

// safeFind isolates panics from structural matchers to the offending rule.
func (m *Matcher) safeFind(rule *Rule, text string) (spans []Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			spans = nil
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()
	spans = rule.Pattern.find(text)
	valid := spans[:0]
	last := -1
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(text) || sp.Start > sp.End || sp.Start < last {
			continue
		}
		valid = append(valid, sp)
		last = sp.End
	}
	return valid, nil
}

func newFinding(rule *Rule, line LineRef, evidence string) Finding {
	return Finding{
		RuleName:      rule.Name,
		SeverityTier:  rule.Tier,
		CWEID:         rule.CWEID,
		Score:         rule.SeverityScore,
		QuantumThreat: rule.QuantumThreat,
		Line:          line,
		Evidence:      truncateEvidence(evidence),
	}
}

func truncateEvidence(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxEvidenceRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxEvidenceRunes])
}

// lineIndex holds the byte offsets of every newline in a text.
type lineIndex []int

func newLineIndex(text string) lineIndex {
	idx := make(lineIndex, 0, strings.Count(text, "\n"))
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			idx = append(idx, i)
		}
	}
	return idx
}

// lineOf returns the 1-based line of offset: newlines before it plus one.
func (l lineIndex) lineOf(offset int) LineRef {
	return LineRef(sort.SearchInts(l, offset) + 1)
}

func (l lineIndex) lineText(text string, offset int) string {
	n := sort.SearchInts(l, offset)
	start := 0
	if n > 0 {
		start = l[n-1] + 1
	}
	end := len(text)
	if n < len(l) {
		end = l[n]
	}
	return text[start:end]
}
