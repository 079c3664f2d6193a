package security

import (
	"fmt"
	"math"
	"strings"
)

// Canonical framework names.
const (
	FrameworkOWASP = "OWASP-Top-10"
	FrameworkNIST  = "NIST-CSF"
	FrameworkISO   = "ISO-27001"
	FrameworkPCI   = "PCI-DSS"
)

// Frameworks lists the supported frameworks in report order.
var Frameworks = []string{FrameworkOWASP, FrameworkNIST, FrameworkISO, FrameworkPCI}

var frameworkAliases = map[string]string{
	"owasp":          FrameworkOWASP,
	"owasptop10":     FrameworkOWASP,
	"owasptop102021": FrameworkOWASP,
	"nist":           FrameworkNIST,
	"nistcsf":        FrameworkNIST,
	"iso":            FrameworkISO,
	"iso27001":       FrameworkISO,
	"pci":            FrameworkPCI,
	"pcidss":         FrameworkPCI,
}

// ResolveFramework maps a user supplied name or alias to its canonical name.
func ResolveFramework(name string) (string, error) {
	key := normalizeName(strings.TrimSpace(name))
	if key == "" {
		return "", &InputError{Field: "framework", Reason: "framework is required", Err: ErrUnknownFramework}
	}
	if canonical, ok := frameworkAliases[key]; ok {
		return canonical, nil
	}
	return "", &InputError{Field: "framework", Reason: fmt.Sprintf("unknown framework %q", name), Err: ErrUnknownFramework}
}

// Control is one checklist item evaluated against findings.
type Control struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	pass        func([]Finding) bool
}

type framework struct {
	name     string
	controls []Control
	// graded frameworks report partial compliance between 50 and 80.
	graded bool
}

// noRule passes when no finding's rule name contains any of subs.
func noRule(subs ...string) func([]Finding) bool {
	return func(findings []Finding) bool {
		for _, f := range findings {
			if containsAny(f.RuleName, subs...) {
				return false
			}
		}
		return true
	}
}

func noTier(tier SeverityTier) func([]Finding) bool {
	return func(findings []Finding) bool {
		for _, f := range findings {
			if f.SeverityTier == tier {
				return false
			}
		}
		return true
	}
}

func noQuantum(findings []Finding) bool {
	for _, f := range findings {
		if f.QuantumThreat {
			return false
		}
	}
	return true
}

var frameworks = map[string]framework{
	FrameworkOWASP: {
		name: FrameworkOWASP,
		controls: []Control{
			{"A01", "Broken Access Control", noRule("AUTH", "ACCESS", "PATH_TRAVERSAL", "CORS")},
			{"A02", "Cryptographic Failures", noRule("CRYPTO", "SECRET", "TLS", "RANDOM")},
			{"A03", "Injection", noRule("INJECTION", "XSS", "EVAL")},
			{"A04", "Insecure Design", noRule("TODO", "RATE_LIMIT")},
			{"A05", "Security Misconfiguration", noRule("HEADERS", "CORS", "DEBUG", "COOKIE")},
			{"A06", "Vulnerable and Outdated Components", noQuantum},
			{"A07", "Identification and Authentication Failures", noRule("AUTH", "PASSWORD", "SESSION", "HARDCODED")},
			{"A08", "Software and Data Integrity Failures", noRule("DESERIALIZATION")},
			{"A09", "Security Logging and Monitoring Failures", noRule("LOGGING", "VERBOSE_ERROR")},
			{"A10", "Server-Side Request Forgery", noRule("SSRF")},
		},
	},
	FrameworkNIST: {
		name:   FrameworkNIST,
		graded: true,
		controls: []Control{
			{"ID.RA", "Risk Assessment", noTier(TierCritical)},
			{"PR.AC", "Identity Management and Access Control", noRule("AUTH", "ACCESS", "PATH_TRAVERSAL", "HARDCODED")},
			{"PR.DS", "Data Security", noRule("CRYPTO", "SECRET", "TLS", "DESERIALIZATION")},
			{"PR.IP", "Information Protection Processes", noRule("TODO", "DEBUG", "HEADERS", "COOKIE", "CORS")},
			{"PR.PT", "Protective Technology", noRule("INJECTION", "XSS", "SSRF")},
			{"DE.CM", "Security Continuous Monitoring", noRule("LOGGING", "VERBOSE_ERROR")},
		},
	},
	FrameworkISO: {
		name:   FrameworkISO,
		graded: true,
		controls: []Control{
			{"A.5.15", "Access control", noRule("ACCESS", "PATH_TRAVERSAL", "CORS")},
			{"A.5.17", "Authentication information", noRule("SECRET", "HARDCODED", "PASSWORD")},
			{"A.8.5", "Secure authentication", noRule("AUTH", "SESSION", "COOKIE")},
			{"A.8.9", "Configuration management", noRule("HEADERS", "DEBUG", "CORS")},
			{"A.8.12", "Data leakage prevention", noRule("LOGGING", "VERBOSE_ERROR")},
			{"A.8.24", "Use of cryptography", func(f []Finding) bool { return noRule("CRYPTO", "TLS", "RANDOM")(f) && noQuantum(f) }},
			{"A.8.25", "Secure development life cycle", noRule("TODO")},
			{"A.8.28", "Secure coding", noRule("INJECTION", "XSS", "DESERIALIZATION", "SSRF")},
		},
	},
	FrameworkPCI: {
		name:   FrameworkPCI,
		graded: true,
		controls: []Control{
			{"2.2", "System components are configured securely", noRule("DEBUG", "HEADERS", "CORS")},
			{"3.5", "Stored account data and keys are protected", noRule("SECRET", "HARDCODED")},
			{"4.2", "Strong cryptography protects data in transit", noRule("TLS", "CRYPTO")},
			{"6.2.4", "Software is protected against common attacks", noRule("INJECTION", "XSS", "PATH_TRAVERSAL", "SSRF", "DESERIALIZATION")},
			{"6.4", "Public-facing applications are protected", noTier(TierCritical)},
			{"8.3", "Strong authentication is established", noRule("AUTH", "PASSWORD", "SESSION", "COOKIE")},
			{"10.3", "Audit logs are protected", noRule("LOGGING", "VERBOSE_ERROR")},
			{"12.3.3", "Cryptographic suites are reviewed", noQuantum},
		},
	},
}

// FrameworkInfo describes a supported framework for listings.
type FrameworkInfo struct {
	Name     string    `json:"name"`
	Controls []Control `json:"controls"`
}

// ListFrameworks returns every framework with its controls.
func ListFrameworks() []FrameworkInfo {
	out := make([]FrameworkInfo, 0, len(Frameworks))
	for _, name := range Frameworks {
		fw := frameworks[name]
		out = append(out, FrameworkInfo{Name: name, Controls: fw.controls})
	}
	return out
}

// MapCompliance evaluates findings against the named framework.
func MapCompliance(findings []Finding, name string) (ComplianceReport, error) {
	canonical, err := ResolveFramework(name)
	if err != nil {
		return ComplianceReport{}, err
	}
	fw := frameworks[canonical]

	pass := make(map[string]bool, len(fw.controls))
	passed := 0
	for _, c := range fw.controls {
		ok := c.pass(findings)
		pass[c.ID] = ok
		if ok {
			passed++
		}
	}
	score := int(math.Round(float64(passed) / float64(len(fw.controls)) * 100))

	return ComplianceReport{
		Framework:      canonical,
		Score:          score,
		PerControlPass: pass,
		Status:         complianceStatus(score, fw.graded),
	}, nil
}

func complianceStatus(score int, graded bool) ComplianceStatus {
	switch {
	case score >= 80:
		return StatusCompliant
	case graded && score >= 50:
		return StatusPartial
	default:
		return StatusNonCompliant
	}
}

// MapAllFrameworks evaluates every supported framework.
func MapAllFrameworks(findings []Finding) map[string]ComplianceReport {
	out := make(map[string]ComplianceReport, len(Frameworks))
	for _, name := range Frameworks {
		report, err := MapCompliance(findings, name)
		if err != nil {
			continue
		}
		out[name] = report
	}
	return out
}
