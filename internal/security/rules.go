package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Polarity decides whether a rule fires on a match or on the lack of one.
type Polarity string

const (
	// PresenceForbidden rules emit one finding per match.
	PresenceForbidden Polarity = "presence-forbidden"
	// PresenceRequired rules emit a single finding when nothing matches.
	PresenceRequired Polarity = "presence-required"
)

// PatternKind tags the variant held by a PatternSpec.
type PatternKind string

const (
	PatternLiteral    PatternKind = "literal"
	PatternRegex      PatternKind = "regex"
	PatternStructural PatternKind = "structural"
)

// Span is a half-open byte range [Start, End) into the scanned source.
type Span struct {
	Start int
	End   int
}

// StructuralFunc finds non-overlapping spans with code that a single regular
// expression cannot express.
type StructuralFunc func(source string) []Span

// PatternSpec is a tagged variant: exactly one of Literal, Regex or Structural
// is meaningful, selected by Kind.
type PatternSpec struct {
	Kind       PatternKind
	Literal    string
	Regex      string
	Structural StructuralFunc
	// StructuralName identifies a structural matcher in listings.
	StructuralName string

	compiled *regexp.Regexp
}

// Literal builds a case-insensitive substring pattern.
func Literal(s string) PatternSpec {
	return PatternSpec{Kind: PatternLiteral, Literal: s}
}

// Regex builds a case-insensitive regular-expression pattern.
func Regex(expr string) PatternSpec {
	return PatternSpec{Kind: PatternRegex, Regex: expr}
}

// Structural builds a pattern backed by a matcher function.
func Structural(name string, fn StructuralFunc) PatternSpec {
	return PatternSpec{Kind: PatternStructural, Structural: fn, StructuralName: name}
}

func (p *PatternSpec) compile() error {
	switch p.Kind {
	case PatternLiteral:
		if p.Literal == "" {
			return fmt.Errorf("%w: empty literal", ErrInvalidRule)
		}
		p.compiled = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p.Literal))
	case PatternRegex:
		re, err := regexp.Compile(`(?i)` + p.Regex)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		p.compiled = re
	case PatternStructural:
		if p.Structural == nil {
			return fmt.Errorf("%w: structural pattern without matcher", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown pattern kind %q", ErrInvalidRule, p.Kind)
	}
	return nil
}

// find returns all non-overlapping match spans in source.
func (p *PatternSpec) find(source string) []Span {
	if p.Kind == PatternStructural {
		return p.Structural(source)
	}
	locs := p.compiled.FindAllStringIndex(source, -1)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
	}
	return spans
}

// String describes the pattern for listings.
func (p PatternSpec) String() string {
	switch p.Kind {
	case PatternLiteral:
		return p.Literal
	case PatternRegex:
		return p.Regex
	default:
		return p.StructuralName
	}
}

// Rule is an immutable catalog entry identified by Name.
type Rule struct {
	ID            string
	Name          string
	Pattern       PatternSpec
	Description   string
	CWEID         string
	SeverityScore float64
	Tier          SeverityTier
	QuantumThreat bool
	Polarity      Polarity
	Remediation   Remediation
}

// Remediation is the canned fix advice attached to a rule.
type Remediation struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Example     string `json:"example,omitempty" yaml:"example"`
}

func (r *Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: rule without name", ErrInvalidRule)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("%w: rule %s has unknown tier %q", ErrInvalidRule, r.Name, r.Tier)
	}
	if r.SeverityScore < 0 || r.SeverityScore > 10 {
		return fmt.Errorf("%w: rule %s severity score %.1f outside 0-10", ErrInvalidRule, r.Name, r.SeverityScore)
	}
	if r.Polarity != PresenceForbidden && r.Polarity != PresenceRequired {
		return fmt.Errorf("%w: rule %s has unknown polarity %q", ErrInvalidRule, r.Name, r.Polarity)
	}
	if err := r.Pattern.compile(); err != nil {
		return fmt.Errorf("rule %s: %w", r.Name, err)
	}
	if r.Remediation.Title == "" {
		r.Remediation.Title = "Resolve " + r.Name
	}
	if r.Remediation.Description == "" {
		r.Remediation.Description = r.Description
	}
	return nil
}

// RuleInfo is the serializable view of a Rule.
type RuleInfo struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Kind          PatternKind  `json:"pattern_kind"`
	Pattern       string       `json:"pattern"`
	Description   string       `json:"description"`
	CWEID         string       `json:"cwe_id"`
	SeverityScore float64      `json:"severity_score"`
	Tier          SeverityTier `json:"severity_tier"`
	QuantumThreat bool         `json:"quantum_threat"`
	Polarity      Polarity     `json:"polarity"`
}

// Info returns the serializable view of the rule.
func (r *Rule) Info() RuleInfo {
	return RuleInfo{
		ID:            r.ID,
		Name:          r.Name,
		Kind:          r.Pattern.Kind,
		Pattern:       r.Pattern.String(),
		Description:   r.Description,
		CWEID:         r.CWEID,
		SeverityScore: r.SeverityScore,
		Tier:          r.Tier,
		QuantumThreat: r.QuantumThreat,
		Polarity:      r.Polarity,
	}
}

// Catalog is the immutable, ordered rule set. Order is critical, high, medium,
// low, then declaration order within a tier.
type Catalog struct {
	rules  []*Rule
	byName map[string]*Rule
}

// NewCatalog validates and compiles rules into a catalog.
func NewCatalog(rules ...Rule) (*Catalog, error) {
	for i := range rules {
		if !rules[i].Tier.Valid() {
			return nil, fmt.Errorf("%w: rule %s has unknown tier %q", ErrInvalidRule, rules[i].Name, rules[i].Tier)
		}
	}
	c := &Catalog{byName: make(map[string]*Rule, len(rules))}
	for _, tier := range tierOrder {
		for i := range rules {
			if rules[i].Tier != tier {
				continue
			}
			r := rules[i]
			if err := r.validate(); err != nil {
				return nil, err
			}
			if _, dup := c.byName[r.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate rule name %s", ErrInvalidRule, r.Name)
			}
			c.rules = append(c.rules, &r)
			c.byName[r.Name] = &r
		}
	}
	return c, nil
}

// Rules returns the rules in catalog order. The slice must not be modified.
func (c *Catalog) Rules() []*Rule {
	return c.rules
}

// Lookup finds a rule by name.
func (c *Catalog) Lookup(name string) (*Rule, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// Position returns the catalog index of a rule, or Len() if unknown.
func (c *Catalog) Position(name string) int {
	for i, r := range c.rules {
		if r.Name == name {
			return i
		}
	}
	return len(c.rules)
}

// Digest identifies the rule set: names, tiers, polarities, patterns and
// severities in catalog order. Two catalogs that can produce different
// findings for the same source have different digests.
func (c *Catalog) Digest() string {
	h := sha256.New()
	for _, r := range c.rules {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%g\x00%t\n",
			r.Name, r.Tier, r.Polarity, r.Pattern.Kind, r.Pattern, r.SeverityScore, r.QuantumThreat)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Infos lists the catalog for display.
func (c *Catalog) Infos() []RuleInfo {
	out := make([]RuleInfo, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.Info())
	}
	return out
}

// Extend returns a new catalog containing c's rules followed by extra rules.
func (c *Catalog) Extend(extra ...Rule) (*Catalog, error) {
	all := make([]Rule, 0, len(c.rules)+len(extra))
	for _, r := range c.rules {
		all = append(all, *r)
	}
	all = append(all, extra...)
	return NewCatalog(all...)
}
