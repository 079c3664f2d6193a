package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_OrderedByTier(t *testing.T) {
	c := DefaultCatalog()
	require.Equal(t, len(BuiltinRules()), c.Len())

	last := -1
	for _, r := range c.Rules() {
		assert.GreaterOrEqual(t, r.Tier.Rank(), last, "rule %s out of tier order", r.Name)
		last = r.Tier.Rank()
		assert.NotEmpty(t, r.CWEID, r.Name)
		assert.NotEmpty(t, r.Remediation.Title, r.Name)
	}

	first := c.Rules()[0]
	assert.Equal(t, "SQL_INJECTION", first.Name)
	assert.Equal(t, TierCritical, first.Tier)
}

func TestDefaultCatalog_Polarity(t *testing.T) {
	c := DefaultCatalog()

	headers, ok := c.Lookup("MISSING_SECURITY_HEADERS")
	require.True(t, ok)
	assert.Equal(t, PresenceRequired, headers.Polarity)

	for _, r := range c.Rules() {
		if r.Name == "MISSING_SECURITY_HEADERS" {
			continue
		}
		assert.Equal(t, PresenceForbidden, r.Polarity, r.Name)
	}
}

func TestNewCatalog_Rejects(t *testing.T) {
	valid := Rule{Name: "A", Pattern: Literal("a"), Tier: TierLow, Polarity: PresenceForbidden}

	tests := []struct {
		name  string
		rules []Rule
	}{
		{
			name:  "duplicate name",
			rules: []Rule{valid, valid},
		},
		{
			name:  "bad regex",
			rules: []Rule{{Name: "B", Pattern: Regex("(unclosed"), Tier: TierLow, Polarity: PresenceForbidden}},
		},
		{
			name:  "unknown tier",
			rules: []Rule{{Name: "C", Pattern: Literal("c"), Tier: "severe", Polarity: PresenceForbidden}},
		},
		{
			name:  "missing polarity",
			rules: []Rule{{Name: "D", Pattern: Literal("d"), Tier: TierLow}},
		},
		{
			name:  "empty literal",
			rules: []Rule{{Name: "E", Pattern: Literal(""), Tier: TierLow, Polarity: PresenceForbidden}},
		},
		{
			name:  "score out of range",
			rules: []Rule{{Name: "F", Pattern: Literal("f"), Tier: TierLow, Polarity: PresenceForbidden, SeverityScore: 11}},
		},
		{
			name:  "structural without func",
			rules: []Rule{{Name: "G", Pattern: PatternSpec{Kind: PatternStructural}, Tier: TierLow, Polarity: PresenceForbidden}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.rules...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRule))
		})
	}
}

func TestCatalog_DefaultRemediation(t *testing.T) {
	c, err := NewCatalog(Rule{Name: "CUSTOM", Description: "custom thing", Pattern: Literal("x"), Tier: TierMedium, Polarity: PresenceForbidden})
	require.NoError(t, err)

	r, ok := c.Lookup("CUSTOM")
	require.True(t, ok)
	assert.Equal(t, "Resolve CUSTOM", r.Remediation.Title)
	assert.Equal(t, "custom thing", r.Remediation.Description)
}

const customRules = `
rules:
  - id: CUS-001
    name: HARDCODED_IP
    kind: regex
    pattern: '\b(?:\d{1,3}\.){3}\d{1,3}\b'
    description: Hardcoded IP address
    cwe: CWE-1051
    severity_score: 3.0
    tier: low
    polarity: presence-forbidden
    remediation:
      title: Move addresses to configuration
      description: Read hosts from configuration.
  - id: CUS-002
    name: REQUIRE_RATE_LIMIT
    kind: literal
    pattern: rateLimit(
    description: No rate limiting configured
    cwe: CWE-770
    severity_score: 5.0
    tier: medium
    polarity: presence-required
  - id: CUS-003
    name: COOKIE_FLAGS_AGAIN
    kind: structural
    pattern: cookie-flags
    description: Cookie flags
    cwe: CWE-614
    severity_score: 4.0
    tier: medium
    polarity: presence-forbidden
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(customRules))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, PatternRegex, rules[0].Pattern.Kind)
	assert.Equal(t, PresenceRequired, rules[1].Polarity)
	assert.Equal(t, PatternStructural, rules[2].Pattern.Kind)
	assert.NotNil(t, rules[2].Pattern.Structural)
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown kind", "rules:\n  - name: X\n    kind: magic\n    pattern: x\n    tier: low\n    polarity: presence-forbidden\n"},
		{"unknown structural", "rules:\n  - name: X\n    kind: structural\n    pattern: nope\n    tier: low\n    polarity: presence-forbidden\n"},
		{"missing tier", "rules:\n  - name: X\n    kind: literal\n    pattern: x\n    polarity: presence-forbidden\n"},
		{"missing polarity", "rules:\n  - name: X\n    kind: literal\n    pattern: x\n    tier: low\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}

	_, err := ParseRules([]byte("rules: [unterminated"))
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path yields builtins", func(t *testing.T) {
		c, err := LoadCatalog("")
		require.NoError(t, err)
		assert.Equal(t, len(BuiltinRules()), c.Len())
	})

	t.Run("extends builtins", func(t *testing.T) {
		path := filepath.Join(dir, "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte(customRules), 0o600))

		c, err := LoadCatalog(path)
		require.NoError(t, err)
		assert.Equal(t, len(BuiltinRules())+3, c.Len())

		_, ok := c.Lookup("HARDCODED_IP")
		assert.True(t, ok)
	})

	t.Run("rejects clash with builtin", func(t *testing.T) {
		path := filepath.Join(dir, "clash.yaml")
		doc := "rules:\n  - name: SQL_INJECTION\n    kind: literal\n    pattern: x\n    tier: low\n    polarity: presence-forbidden\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		_, err := LoadCatalog(path)
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})
}
