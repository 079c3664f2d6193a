package security

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// VectorKind selects a feature extraction scheme.
type VectorKind string

const (
	VectorAnomaly        VectorKind = "anomaly"
	VectorClassification VectorKind = "classification"
)

// Vector lengths and scheme versions. Changing a layout must bump its version
// so cached results keyed on the old scheme are not reused.
const (
	AnomalyVectorLen        = 100
	ClassificationVectorLen = 50

	AnomalyFeatureVersion        = "anomaly-v1"
	ClassificationFeatureVersion = "classification-v1"
)

// FeatureVersion is the combined scheme tag stored on results and in cache keys.
const FeatureVersion = AnomalyFeatureVersion + "+" + ClassificationFeatureVersion

// FeatureExtractor turns source text into fixed-length vectors. Implementations
// must be pure and deterministic.
type FeatureExtractor interface {
	Extract(source string, kind VectorKind) (FeatureVector, error)
	Version() string
}

// ExpectedLen returns the vector length contract for kind.
func ExpectedLen(kind VectorKind) (int, error) {
	switch kind {
	case VectorAnomaly:
		return AnomalyVectorLen, nil
	case VectorClassification:
		return ClassificationVectorLen, nil
	default:
		return 0, fmt.Errorf("unknown vector kind %q", kind)
	}
}

// CheckVector enforces the length and range contract on an extracted vector.
func CheckVector(v FeatureVector, kind VectorKind) error {
	want, err := ExpectedLen(kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractorContract, err)
	}
	if len(v) != want {
		return fmt.Errorf("%w: %s vector has length %d, want %d", ErrExtractorContract, kind, len(v), want)
	}
	for i, x := range v {
		if math.IsNaN(x) || x < 0 || x > 1 {
			return fmt.Errorf("%w: %s feature %d = %v outside [0,1]", ErrExtractorContract, kind, i, x)
		}
	}
	return nil
}

// keywordTerms are counted case-insensitively in both schemes.
var keywordTerms = []string{
	"password", "secret", "token", "crypto", "hash",
	"select", "insert", "exec", "eval", "system",
	"query", "cookie", "session", "admin", "key",
	"random", "md5", "sha1", "rsa", "innerhtml",
}

// charAlphabet is the fixed alphabet for character frequency features.
const charAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789{}()[]<>;:=+-*/\\%$#@!?&|^~'\"`.,_ \t\n\r"

// categoryMarkers feed one indicator feature per threat category, in
// ThreatCategories order.
var categoryMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:select|insert|update|delete|union)\b[^\n]*(?:\+|\$\{|%s)`),
	regexp.MustCompile(`(?i)innerhtml|document\.write|dangerouslysetinnerhtml|<script`),
	regexp.MustCompile(`(?i)\b(?:md5|sha-?1|des|rc4)\b|math\.random`),
	regexp.MustCompile(`(?i)is_?admin|skip_?auth|verify\s*[:=]\s*false|["']none["']`),
	regexp.MustCompile(`(?i)\.\./|readfile|sendfile|os\.open`),
	regexp.MustCompile(`(?i)exec\.command|child_process|os\.system|subprocess|shell_exec`),
	regexp.MustCompile(`(?i)console\.log|printstacktrace|traceback|err\.stack|debug\s*[:=]\s*true`),
	regexp.MustCompile(`(?i)while\s*\(\s*true\s*\)|for\s*\{\s*\}|\(\.\*\)\+|\(\.\+\)\+`),
	regexp.MustCompile(`(?i)<form|method\s*[:=]\s*["']post["']|csrf_?exempt|samesite\s*[:=]\s*["']?none`),
	regexp.MustCompile(`(?i)\b(?:rsa|ecdsa|ecdhe?|dsa|diffie[-_ ]?hellman)\b`),
}

// controlMarkers count defensive code; their presence lowers risk.
var controlMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rate_?limit|ratelimit|throttle`),
	regexp.MustCompile(`(?i)saniti[sz]e|dompurify|bleach\.clean`),
	regexp.MustCompile(`(?i)bcrypt|argon2|scrypt|pbkdf2`),
	regexp.MustCompile(`(?i)prepare(?:d)?\s*\(|\$\d+|\?\s*[,)]`),
	regexp.MustCompile(`(?i)csrf_?token|csrf\(|x-csrf`),
	regexp.MustCompile(`(?i)helmet|content-security-policy|strict-transport-security`),
	regexp.MustCompile(`(?i)validat(?:e|or|ion)`),
	regexp.MustCompile(`(?i)escape|html\.escapestring|encodeuricomponent`),
	regexp.MustCompile(`(?i)httponly|secure\s*:\s*true`),
	regexp.MustCompile(`(?i)tls\.config|https://`),
}

// StandardExtractor is the default FeatureExtractor.
type StandardExtractor struct{}

// NewStandardExtractor returns the default extractor.
func NewStandardExtractor() StandardExtractor {
	return StandardExtractor{}
}

// Version returns the combined scheme tag.
func (StandardExtractor) Version() string {
	return FeatureVersion
}

// Extract implements FeatureExtractor.
func (StandardExtractor) Extract(source string, kind VectorKind) (FeatureVector, error) {
	st := measure(source)
	switch kind {
	case VectorAnomaly:
		return anomalyVector(st), nil
	case VectorClassification:
		return classificationVector(st), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector kind %q", ErrExtractorContract, kind)
	}
}

// textStats holds the raw measurements both schemes are built from.
type textStats struct {
	lower      string
	bytes      int
	lines      int
	maxLine    int
	keywords   []int
	chars      [len(charAlphabet)]int
	upper      int
	digits     int
	space      int
	nonASCII   int
	punct      int
	comments   int
	quotes     int
	entropy    float64
	categories []int
	controls   []int
}

func measure(source string) textStats {
	st := textStats{
		lower: strings.ToLower(source),
		bytes: len(source),
	}
	if source == "" {
		st.keywords = make([]int, len(keywordTerms))
		st.categories = make([]int, len(categoryMarkers))
		st.controls = make([]int, len(controlMarkers))
		return st
	}

	lines := strings.Split(source, "\n")
	st.lines = len(lines)
	for _, ln := range lines {
		if len(ln) > st.maxLine {
			st.maxLine = len(ln)
		}
		t := strings.TrimSpace(ln)
		if strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*") {
			st.comments++
		}
	}

	var freq [256]int
	for _, r := range source {
		switch {
		case r > unicode.MaxASCII:
			st.nonASCII++
		case unicode.IsUpper(r):
			st.upper++
		case unicode.IsDigit(r):
			st.digits++
		case unicode.IsSpace(r):
			st.space++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			st.punct++
		}
		if r == '"' || r == '\'' || r == '`' {
			st.quotes++
		}
	}
	for i := 0; i < len(st.lower); i++ {
		freq[st.lower[i]]++
	}
	for i := 0; i < len(charAlphabet); i++ {
		st.chars[i] = freq[charAlphabet[i]]
	}
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(len(st.lower))
		st.entropy -= p * math.Log2(p)
	}

	st.keywords = make([]int, len(keywordTerms))
	for i, term := range keywordTerms {
		st.keywords[i] = strings.Count(st.lower, term)
	}
	st.categories = countMatches(categoryMarkers, source)
	st.controls = countMatches(controlMarkers, source)
	return st
}

func countMatches(res []*regexp.Regexp, source string) []int {
	out := make([]int, len(res))
	for i, re := range res {
		out[i] = len(re.FindAllStringIndex(source, -1))
	}
	return out
}

// Layout of anomaly-v1:
//
//	[0:4]    size and shape
//	[4:24]   keyword densities
//	[24:28]  entropy, non-ASCII, whitespace and uppercase ratios
//	[28:100] character frequencies over charAlphabet
func anomalyVector(st textStats) FeatureVector {
	v := make(FeatureVector, AnomalyVectorLen)
	if st.bytes == 0 {
		return v
	}
	v[0] = logScale(st.bytes, 1<<20)
	v[1] = logScale(st.lines, 1<<15)
	v[2] = clamp01(float64(st.bytes) / float64(st.lines) / 200)
	v[3] = clamp01(float64(st.maxLine) / 1000)
	for i, n := range st.keywords {
		v[4+i] = saturate(n)
	}
	v[24] = clamp01(st.entropy / 8)
	v[25] = ratio(st.nonASCII, st.bytes)
	v[26] = ratio(st.space, st.bytes)
	v[27] = ratio(st.upper, st.bytes)
	for i := 0; i < len(charAlphabet) && 28+i < AnomalyVectorLen; i++ {
		v[28+i] = ratio(st.chars[i], st.bytes)
	}
	return v
}

// Layout of classification-v1:
//
//	[0:10]  general text statistics
//	[10:20] threat category indicators, ThreatCategories order
//	[20:30] security control indicators
//	[30:50] keyword densities
func classificationVector(st textStats) FeatureVector {
	v := make(FeatureVector, ClassificationVectorLen)
	if st.bytes == 0 {
		return v
	}
	v[0] = logScale(st.bytes, 1<<20)
	v[1] = logScale(st.lines, 1<<15)
	v[2] = clamp01(st.entropy / 8)
	v[3] = ratio(st.comments, st.lines)
	v[4] = ratio(st.quotes, st.bytes)
	v[5] = ratio(st.digits, st.bytes)
	v[6] = ratio(st.upper, st.bytes)
	v[7] = ratio(st.space, st.bytes)
	v[8] = ratio(st.nonASCII, st.bytes)
	v[9] = ratio(st.punct, st.bytes)
	for i, n := range st.categories {
		v[10+i] = saturate(n)
	}
	for i, n := range st.controls {
		v[20+i] = saturate(n)
	}
	for i, n := range st.keywords {
		v[30+i] = saturate(n)
	}
	return v
}

// saturate maps a count onto [0,1) with diminishing returns.
func saturate(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(n+3)
}

func logScale(n, limit int) float64 {
	return clamp01(math.Log1p(float64(n)) / math.Log1p(float64(limit)))
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return clamp01(float64(n) / float64(total))
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
