package security

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk layout of a custom rule file.
type ruleFile struct {
	Rules []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	Kind          PatternKind `yaml:"kind"`
	Pattern       string      `yaml:"pattern"`
	Description   string      `yaml:"description"`
	CWEID         string      `yaml:"cwe"`
	SeverityScore float64     `yaml:"severity_score"`
	Tier          string      `yaml:"tier"`
	QuantumThreat bool        `yaml:"quantum_threat"`
	Polarity      string      `yaml:"polarity"`
	Remediation   Remediation `yaml:"remediation"`
}

func (y yamlRule) toRule() (Rule, error) {
	r := Rule{
		ID:            y.ID,
		Name:          y.Name,
		Description:   y.Description,
		CWEID:         y.CWEID,
		SeverityScore: y.SeverityScore,
		Tier:          SeverityTier(y.Tier),
		QuantumThreat: y.QuantumThreat,
		Polarity:      Polarity(y.Polarity),
		Remediation:   y.Remediation,
	}
	if y.Tier == "" {
		return r, fmt.Errorf("%w: rule %s must declare a tier", ErrInvalidRule, y.Name)
	}
	if y.Polarity == "" {
		return r, fmt.Errorf("%w: rule %s must declare a polarity", ErrInvalidRule, y.Name)
	}
	switch y.Kind {
	case PatternLiteral:
		r.Pattern = Literal(y.Pattern)
	case PatternRegex:
		r.Pattern = Regex(y.Pattern)
	case PatternStructural:
		fn, ok := structuralMatchers[y.Pattern]
		if !ok {
			return r, fmt.Errorf("%w: rule %s references unknown structural matcher %q", ErrInvalidRule, y.Name, y.Pattern)
		}
		r.Pattern = Structural(y.Pattern, fn)
	default:
		return r, fmt.Errorf("%w: rule %s has unknown kind %q", ErrInvalidRule, y.Name, y.Kind)
	}
	return r, nil
}

// ParseRules decodes a YAML rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for _, yr := range f.Rules {
		r, err := yr.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadCatalog returns the built-in catalog extended with the rules in path.
// An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	base := DefaultCatalog()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	extra, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return base.Extend(extra...)
}
