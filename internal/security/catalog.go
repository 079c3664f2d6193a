package security

import (
	"regexp"
	"strings"
)

// BuiltinRules returns the default vulnerability rules. The returned slice is a
// fresh copy on every call.
func BuiltinRules() []Rule {
	return []Rule{
		// Critical
		{
			ID:            "SEC-001",
			Name:          "SQL_INJECTION",
			Pattern:       Regex(`(?:select\s|insert\s+into|update\s+\w+\s+set|delete\s+from)[^\n]*(?:\$\{|["'\x60]\s*\+|\+\s*["'\x60]|%s|%v|\.format\(|\bf["'])`),
			Description:   "SQL statement built from interpolated or concatenated input",
			CWEID:         "CWE-89",
			SeverityScore: 9.8,
			Tier:          TierCritical,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Use parameterized queries",
				Description: "Pass user input as bound parameters instead of building SQL strings.",
				Example:     `db.Query("SELECT * FROM users WHERE id = ?", id)`,
			},
		},
		{
			ID:            "SEC-002",
			Name:          "COMMAND_INJECTION",
			Pattern:       Regex(`(?:os\.system|subprocess\.(?:call|run|popen|check_output)|child_process\.exec|\bexecsync|shell_exec|\bpassthru|runtime\.getruntime\(\)\.exec|exec\.command)\s*\([^\n]*(?:\+|\$\{|%s|\.format\(|shell\s*=\s*true|["'](?:sh|bash|cmd)["'])`),
			Description:   "Operating system command assembled from dynamic input",
			CWEID:         "CWE-78",
			SeverityScore: 9.8,
			Tier:          TierCritical,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Remove dynamic execution of untrusted input",
				Description: "Never hand user input to a shell or interpreter. Use fixed argument lists and allow-lists.",
				Example:     `exec.Command("convert", "--", safePath)`,
			},
		},
		{
			ID:            "SEC-003",
			Name:          "CODE_INJECTION",
			Pattern:       Regex(`\beval\s*\(|\bnew\s+function\s*\(|\bset(?:timeout|interval)\s*\(\s*["'\x60]|\bexec\s*\(\s*(?:compile|input|request)`),
			Description:   "Dynamic evaluation of code strings",
			CWEID:         "CWE-95",
			SeverityScore: 9.3,
			Tier:          TierCritical,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Remove dynamic execution of untrusted input",
				Description: "Replace eval-style constructs with explicit parsing or dispatch tables.",
				Example:     `JSON.parse(payload)`,
			},
		},
		{
			ID:            "SEC-004",
			Name:          "HARDCODED_SECRETS",
			Pattern:       Regex(`(?:password|passwd|pwd|secret|api[_-]?key|access[_-]?token|auth[_-]?token|private[_-]?key)["']?\s*[:=]\s*["'][^"'\s]{4,}["']|\bAKIA[0-9A-Z]{16}\b|-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
			Description:   "Credential or key material embedded in source",
			CWEID:         "CWE-798",
			SeverityScore: 9.1,
			Tier:          TierCritical,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Move secrets to a secret manager",
				Description: "Load credentials from the environment or a vault at runtime and rotate any exposed value.",
				Example:     `apiKey := os.Getenv("API_KEY")`,
			},
		},

		// High
		{
			ID:            "SEC-101",
			Name:          "XSS_VULNERABILITY",
			Pattern:       Regex(`\.(?:inner|outer)html\s*=|document\.write(?:ln)?\s*\(|dangerouslysetinnerhtml|insertadjacenthtml\s*\(|\bv-html\s*=|template\.html\s*\(`),
			Description:   "Untrusted content written into the DOM or HTML output",
			CWEID:         "CWE-79",
			SeverityScore: 8.2,
			Tier:          TierHigh,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Encode output and sanitize HTML",
				Description: "Render user content as text, or sanitize it with a vetted library, and add a Content Security Policy.",
				Example:     `element.textContent = userInput`,
			},
		},
		{
			ID:            "SEC-102",
			Name:          "PATH_TRAVERSAL",
			Pattern:       Regex(`(?:readfile(?:sync)?|createreadstream|sendfile|os\.open(?:file)?|os\.readfile|ioutil\.readfile|\bopen)\s*\([^\n)]*(?:req\.|request\.|params\[|query\[|\+\s*\w|\$\{)`),
			Description:   "File path derived from request data",
			CWEID:         "CWE-22",
			SeverityScore: 7.5,
			Tier:          TierHigh,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Constrain file paths to a base directory",
				Description: "Clean the requested path and verify it stays under an allowed root before opening it.",
				Example:     `p := filepath.Join(root, filepath.Clean("/"+name))`,
			},
		},
		{
			ID:            "SEC-103",
			Name:          "WEAK_CRYPTO",
			Pattern:       Regex(`crypto/(?:md5|sha1|des|rc4)\b|\b(?:md5|sha1)\.(?:new|sum)\b|createhash\(\s*["'](?:md5|sha1)["']|hashlib\.(?:md5|sha1)\b|getinstance\(\s*"(?:md5|sha-?1|des)|\b(?:des|rc4|arc4)\.new\b|createcipher(?:iv)?\(\s*["'](?:des|rc4)`),
			Description:   "Broken or weak cryptographic primitive",
			CWEID:         "CWE-327",
			SeverityScore: 7.4,
			Tier:          TierHigh,
			QuantumThreat: true,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Replace weak cryptographic primitives",
				Description: "Use SHA-256 or SHA-3 for hashing and AES-256-GCM for encryption.",
				Example:     `sum := sha256.Sum256(data)`,
			},
		},
		{
			ID:            "SEC-104",
			Name:          "INSECURE_DESERIALIZATION",
			Pattern:       Regex(`pickle\.loads?\s*\(|\byaml\.unsafe_load\b|yaml\.load\s*\([^\n)]*loader\s*=\s*yaml\.(?:unsafe_)?loader|marshal\.loads\s*\(|objectinputstream\s*\(|\bunserialize\s*\(|binaryformatter\b|node-serialize`),
			Description:   "Deserialization of untrusted data into live objects",
			CWEID:         "CWE-502",
			SeverityScore: 8.1,
			Tier:          TierHigh,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Deserialize only into safe data formats",
				Description: "Accept JSON or other data-only formats and validate the decoded structure.",
				Example:     `yaml.safe_load(stream)`,
			},
		},
		{
			ID:            "SEC-105",
			Name:          "AUTH_BYPASS",
			Pattern:       Regex(`\b(?:is_?authenticated|is_?admin|is_?authorized|skip_?auth)\s*[:=]\s*true\b|verify_?(?:token|signature)\s*[:=]\s*false\b|algorithms?\s*[:=]\s*\[?\s*["']none["']|jwt\.decode\s*\([^\n)]*verify\s*=\s*false`),
			Description:   "Authentication or authorization check short-circuited",
			CWEID:         "CWE-287",
			SeverityScore: 8.6,
			Tier:          TierHigh,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Enforce authentication on every path",
				Description: "Derive identity from a verified token and never trust client-controlled flags.",
				Example:     `token, err := jwt.Parse(raw, keyFunc, jwt.WithValidMethods([]string{"HS256"}))`,
			},
		},
		{
			ID:            "SEC-106",
			Name:          "SSRF_VULNERABILITY",
			Pattern:       Regex(`(?:\bfetch|axios\.(?:get|post|request)|requests\.(?:get|post|request)|http\.(?:get|post|newrequest(?:withcontext)?)|urllib\.request\.urlopen|urlopen)\s*\([^\n)]*(?:req\.(?:query|body|params)|request\.(?:args|form|get_json)|\+\s*\w|\$\{)`),
			Description:   "Outbound request target controlled by input",
			CWEID:         "CWE-918",
			SeverityScore: 7.7,
			Tier:          TierHigh,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Validate outbound request targets",
				Description: "Resolve and check destination hosts against an allow-list and block internal address ranges.",
				Example:     `if !allowedHosts[u.Hostname()] { return errForbidden }`,
			},
		},
		{
			ID:            "SEC-107",
			Name:          "DISABLED_TLS_VERIFICATION",
			Pattern:       Literal("InsecureSkipVerify: true"),
			Description:   "TLS certificate verification disabled",
			CWEID:         "CWE-295",
			SeverityScore: 7.4,
			Tier:          TierHigh,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Keep TLS verification enabled",
				Description: "Trust the needed CA explicitly instead of disabling certificate checks.",
				Example:     `&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}`,
			},
		},

		// Medium
		{
			ID:            "SEC-201",
			Name:          "INSECURE_RANDOM",
			Pattern:       Regex(`math\.random\s*\(|"math/rand(?:/v2)?"|\brandom\.(?:random|randint|choice|randrange)\s*\(|\bnew\s+random\s*\(`),
			Description:   "Non-cryptographic random number generator",
			CWEID:         "CWE-330",
			SeverityScore: 5.3,
			Tier:          TierMedium,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Use a cryptographically secure RNG",
				Description: "Generate tokens and keys with the platform CSPRNG.",
				Example:     `_, err := crypto_rand.Read(buf)`,
			},
		},
		{
			ID:            "SEC-202",
			Name:          "CORS_WILDCARD",
			Pattern:       Regex(`access-control-allow-origin["']?\s*[:,=]\s*["']\*["']|\borigin\s*:\s*["']\*["']|allowallorigins\s*:\s*true|allow(?:ed)?_?origins\s*[:=]\s*\[\s*["']\*["']`),
			Description:   "Cross-origin requests allowed from any origin",
			CWEID:         "CWE-942",
			SeverityScore: 5.4,
			Tier:          TierMedium,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Restrict allowed CORS origins",
				Description: "List trusted origins explicitly and avoid wildcards on credentialed endpoints.",
				Example:     `AllowOrigins: []string{"https://app.example.com"}`,
			},
		},
		{
			ID:            "SEC-203",
			Name:          "SENSITIVE_DATA_LOGGING",
			Pattern:       Regex(`(?:console\.(?:log|info|debug|warn|error)|\blog\.(?:print\w*|info\w*|debug\w*|warn\w*|error\w*)|logger\.\w+|\bprint(?:ln|f)?)\s*\([^\n]*(?:password|passwd|secret|token|api_?key|credit_?card|\bssn\b)`),
			Description:   "Secrets or personal data written to logs",
			CWEID:         "CWE-532",
			SeverityScore: 5.5,
			Tier:          TierMedium,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Redact sensitive values from logs",
				Description: "Log identifiers instead of credentials and mask anything that must appear.",
				Example:     `logger.Info("login", zap.String("user", user.ID))`,
			},
		},
		{
			ID:            "SEC-204",
			Name:          "INSECURE_COOKIE",
			Pattern:       Structural("cookie-flags", insecureCookieSpans),
			Description:   "Cookie set without HttpOnly and Secure flags",
			CWEID:         "CWE-614",
			SeverityScore: 4.7,
			Tier:          TierMedium,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Set HttpOnly and Secure on cookies",
				Description: "Mark session cookies HttpOnly, Secure and SameSite so scripts and plain HTTP cannot read them.",
				Example:     `http.SetCookie(w, &http.Cookie{Name: "sid", Value: v, HttpOnly: true, Secure: true})`,
			},
		},
		{
			ID:            "SEC-205",
			Name:          "MISSING_SECURITY_HEADERS",
			Pattern:       Regex(`\bhelmet\s*\(|content-security-policy|x-frame-options|strict-transport-security|x-content-type-options|securityheaders\s*\(`),
			Description:   "No security header configuration found",
			CWEID:         "CWE-693",
			SeverityScore: 4.3,
			Tier:          TierMedium,
			Polarity:      PresenceRequired,
			Remediation: Remediation{
				Title:       "Add HTTP security headers",
				Description: "Send Content-Security-Policy, Strict-Transport-Security, X-Frame-Options and X-Content-Type-Options.",
				Example:     `c.Header("X-Content-Type-Options", "nosniff")`,
			},
		},

		// Low
		{
			ID:            "SEC-301",
			Name:          "DEBUG_MODE_ENABLED",
			Pattern:       Regex(`\bdebug\s*[:=]\s*true\b|gin\.setmode\(\s*gin\.debugmode\s*\)`),
			Description:   "Debug mode enabled in code",
			CWEID:         "CWE-489",
			SeverityScore: 3.1,
			Tier:          TierLow,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Disable debug mode outside development",
				Description: "Drive debug switches from configuration and default them to off.",
				Example:     `gin.SetMode(gin.ReleaseMode)`,
			},
		},
		{
			ID:            "SEC-302",
			Name:          "SECURITY_TODO",
			Pattern:       Regex(`(?://|#|/\*)\s*(?:todo|fixme|xxx|hack)\b[^\n]*(?:secur|auth|vuln|saniti|validat|crypt|password|xss|csrf|inject)`),
			Description:   "Unresolved security work noted in a comment",
			CWEID:         "CWE-546",
			SeverityScore: 2.0,
			Tier:          TierLow,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Resolve outstanding security TODOs",
				Description: "Track security follow-ups in the issue tracker and fix them before release.",
			},
		},
		{
			ID:            "SEC-303",
			Name:          "VERBOSE_ERROR_EXPOSURE",
			Pattern:       Regex(`(?:res\.(?:send|json)|c\.(?:json|string)|http\.error|w\.write)\s*\([^\n]*(?:err\.error\(\)|err\.stack|error\.stack|err\.message|traceback|stack_?trace)|printstacktrace\s*\(|traceback\.print_exc\s*\(`),
			Description:   "Internal error details returned to clients",
			CWEID:         "CWE-209",
			SeverityScore: 3.7,
			Tier:          TierLow,
			Polarity:      PresenceForbidden,
			Remediation: Remediation{
				Title:       "Return generic error messages",
				Description: "Log the full error server side and send clients a stable code and message.",
				Example:     `c.JSON(500, gin.H{"error": "internal error"})`,
			},
		},
	}
}

// DefaultCatalog compiles the built-in rules.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltinRules()...)
	if err != nil {
		panic(err)
	}
	return c
}

// structuralMatchers are the named structural matchers rule files may reference.
var structuralMatchers = map[string]StructuralFunc{
	"cookie-flags": insecureCookieSpans,
}

var (
	cookieCallRe    = regexp.MustCompile(`(?i)(?:set_?cookie|\.cookie|cookies\.set|http\.cookie)\s*[({]`)
	httpOnlyOffRe   = regexp.MustCompile(`(?i)http_?only\s*[:=]\s*false`)
	secureOffRe     = regexp.MustCompile(`(?i)\bsecure\s*[:=]\s*false`)
	httpOnlyTokenRe = regexp.MustCompile(`(?i)http_?only`)
	secureTokenRe   = regexp.MustCompile(`(?i)\bsecure\b`)
)

// insecureCookieSpans finds cookie-setting calls or literals whose argument
// list lacks HttpOnly or Secure, or disables either one.
func insecureCookieSpans(source string) []Span {
	var spans []Span
	for _, loc := range cookieCallRe.FindAllStringIndex(source, -1) {
		if len(spans) > 0 && loc[0] < spans[len(spans)-1].End {
			continue
		}
		open := loc[1] - 1
		end := matchingClose(source, open)
		args := source[open:end]
		if httpOnlyOffRe.MatchString(args) || secureOffRe.MatchString(args) ||
			!httpOnlyTokenRe.MatchString(args) || !secureTokenRe.MatchString(args) {
			spans = append(spans, Span{Start: loc[0], End: end})
		}
	}
	return spans
}

// matchingClose returns the offset just past the bracket closing the one at
// open, or the end of the source when it is never closed.
func matchingClose(source string, open int) int {
	var closer byte = ')'
	if source[open] == '{' {
		closer = '}'
	}
	opener := source[open]
	depth := 0
	for i := open; i < len(source); i++ {
		switch source[i] {
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(source)
}

// tierPriority maps a rule tier to the recommendation priority it produces.
func tierPriority(t SeverityTier) Priority {
	switch t {
	case TierCritical:
		return PriorityImmediate
	case TierHigh:
		return PriorityHigh
	case TierMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
