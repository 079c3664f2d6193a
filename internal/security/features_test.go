package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const riskySource = `
const password = "hunter22";
eval(req.body.code);
db.query("SELECT * FROM users WHERE name = '" + name + "'");
exec.Command("sh", "-c", input + " | wc").Run()
`

func TestStandardExtractor_Contract(t *testing.T) {
	ex := NewStandardExtractor()
	assert.Equal(t, "anomaly-v1+classification-v1", ex.Version())

	for _, kind := range []VectorKind{VectorAnomaly, VectorClassification} {
		t.Run(string(kind), func(t *testing.T) {
			for _, src := range []string{"", "x", riskySource, "ÄÖÜ ß 日本語"} {
				v, err := ex.Extract(src, kind)
				require.NoError(t, err)
				assert.NoError(t, CheckVector(v, kind))
			}
		})
	}
}

func TestStandardExtractor_Deterministic(t *testing.T) {
	ex := NewStandardExtractor()
	a1, err := ex.Extract(riskySource, VectorAnomaly)
	require.NoError(t, err)
	a2, err := ex.Extract(riskySource, VectorAnomaly)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestStandardExtractor_EmptyIsZero(t *testing.T) {
	v, err := NewStandardExtractor().Extract("", VectorClassification)
	require.NoError(t, err)
	for i, x := range v {
		assert.Zero(t, x, "feature %d", i)
	}
}

func TestStandardExtractor_KindsDiffer(t *testing.T) {
	ex := NewStandardExtractor()
	a, err := ex.Extract(riskySource, VectorAnomaly)
	require.NoError(t, err)
	c, err := ex.Extract(riskySource, VectorClassification)
	require.NoError(t, err)
	assert.Len(t, a, AnomalyVectorLen)
	assert.Len(t, c, ClassificationVectorLen)

	// injection and command_injection indicators
	assert.Greater(t, c[10], 0.0)
	assert.Greater(t, c[15], 0.0)
	// password keyword density
	assert.Greater(t, a[4], 0.0)
}

func TestStandardExtractor_UnknownKind(t *testing.T) {
	_, err := NewStandardExtractor().Extract("x", VectorKind("embedding"))
	assert.ErrorIs(t, err, ErrExtractorContract)
}

func TestCheckVector(t *testing.T) {
	good := make(FeatureVector, AnomalyVectorLen)
	assert.NoError(t, CheckVector(good, VectorAnomaly))

	assert.ErrorIs(t, CheckVector(good, VectorClassification), ErrExtractorContract)

	bad := make(FeatureVector, AnomalyVectorLen)
	bad[3] = 1.5
	assert.ErrorIs(t, CheckVector(bad, VectorAnomaly), ErrExtractorContract)
}
