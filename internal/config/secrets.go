// Package config loads apex-guard configuration from the environment and
// validates the secrets the API depends on before the server starts.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

const (
	MinJWTSecretLength   = 32
	MinDatabaseURLLength = 10
	// bcrypt hashes are always 60 characters
	BcryptHashLength = 60
)

// SecretRequirement defines a secret and its validation rules
type SecretRequirement struct {
	Name        string
	EnvVar      string
	Description string
	Required    bool // Required in production
	MinLength   int
	Validator   func(string) error
}

// SecretsConfig holds validated secrets for the application
type SecretsConfig struct {
	JWTSecret    string
	JWTSecretOld string // For rotation support

	// bcrypt hashes of accepted API keys
	APIKeyHashes []string

	DatabaseURL string

	Environment  string
	IsProduction bool

	warnings []string
}

// AuthEnabled reports whether any API authentication is configured.
func (s *SecretsConfig) AuthEnabled() bool {
	return s.JWTSecret != "" || len(s.APIKeyHashes) > 0
}

// SecretsValidationError represents a validation failure
type SecretsValidationError struct {
	Missing  []string
	Invalid  []string
	Warnings []string
}

func (e *SecretsValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing secrets: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid secrets: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *SecretsValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// DefaultSecretRequirements returns the secret requirements for apex-guard.
// Postgres credentials are only required when DB_DRIVER selects Postgres.
func DefaultSecretRequirements() []SecretRequirement {
	return []SecretRequirement{
		{
			Name:        "API JWT Secret",
			EnvVar:      "API_JWT_SECRET",
			Description: "HMAC key for verifying API bearer tokens",
			MinLength:   MinJWTSecretLength,
			Validator:   validateJWTSecret,
		},
		{
			Name:        "API Key Hashes",
			EnvVar:      "API_KEY_HASHES",
			Description: "Comma separated bcrypt hashes of accepted X-API-Key values",
			MinLength:   BcryptHashLength,
			Validator:   validateAPIKeyHashes,
		},
		{
			Name:        "Database URL",
			EnvVar:      "DATABASE_URL",
			Description: "PostgreSQL connection string",
			Required:    getEnv("DB_DRIVER", "postgres") == "postgres",
			MinLength:   MinDatabaseURLLength,
			Validator:   validateDatabaseURL,
		},
	}
}

// ValidateSecrets validates all secrets and returns a SecretsConfig.
// In production a non-nil error is fatal.
func ValidateSecrets() (*SecretsConfig, error) {
	isProduction := IsProductionEnvironment()

	config := &SecretsConfig{
		Environment:  GetEnvironment(),
		IsProduction: isProduction,
	}

	validationErr := &SecretsValidationError{}
	for _, req := range DefaultSecretRequirements() {
		value := os.Getenv(req.EnvVar)

		if value == "" {
			if req.Required && isProduction {
				validationErr.Missing = append(validationErr.Missing, req.EnvVar)
			} else if req.Required {
				validationErr.Warnings = append(validationErr.Warnings,
					fmt.Sprintf("%s not set - using development default (NOT SECURE FOR PRODUCTION)", req.EnvVar))
			}
			continue
		}

		if len(value) < req.MinLength {
			msg := fmt.Sprintf("%s: too short (min %d characters)", req.EnvVar, req.MinLength)
			if isProduction {
				validationErr.Invalid = append(validationErr.Invalid, msg)
			} else {
				validationErr.Warnings = append(validationErr.Warnings, msg)
			}
		}

		if req.Validator != nil {
			if err := req.Validator(value); err != nil {
				if isProduction {
					validationErr.Invalid = append(validationErr.Invalid,
						fmt.Sprintf("%s: %s", req.EnvVar, err.Error()))
				} else {
					validationErr.Warnings = append(validationErr.Warnings,
						fmt.Sprintf("%s: %s (allowed in development)", req.EnvVar, err.Error()))
				}
			}
		}
	}

	config.JWTSecret = os.Getenv("API_JWT_SECRET")
	config.JWTSecretOld = os.Getenv("API_JWT_SECRET_OLD")
	config.APIKeyHashes = splitList(os.Getenv("API_KEY_HASHES"))
	config.DatabaseURL = os.Getenv("DATABASE_URL")

	// an unauthenticated scan API is only acceptable outside production
	if isProduction && !config.AuthEnabled() {
		validationErr.Missing = append(validationErr.Missing, "API_JWT_SECRET or API_KEY_HASHES")
	}

	if isProduction && validationErr.HasErrors() {
		return nil, validationErr
	}

	if IsStagingEnvironment() && len(validationErr.Missing) > 0 {
		return nil, fmt.Errorf("staging environment requires all production secrets: %s",
			strings.Join(validationErr.Missing, ", "))
	}

	config.warnings = validationErr.Warnings
	return config, nil
}

// ValidateAndLogSecrets validates secrets and logs which are configured,
// never their values.
func ValidateAndLogSecrets(logger *zap.Logger) (*SecretsConfig, error) {
	config, err := ValidateSecrets()
	if err != nil {
		logger.Error("secrets validation failed", zap.Error(err))
		return nil, err
	}

	for _, w := range config.warnings {
		logger.Warn(w)
	}
	logger.Info("secrets configuration",
		zap.String("environment", config.Environment),
		zap.Bool("api_jwt_secret", config.JWTSecret != ""),
		zap.Bool("api_jwt_secret_old", config.JWTSecretOld != ""),
		zap.Int("api_key_hashes", len(config.APIKeyHashes)),
		zap.Bool("database_url", config.DatabaseURL != ""),
	)
	return config, nil
}

// GetEnvironment returns the current environment
func GetEnvironment() string {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = os.Getenv("APEX_ENV")
	}
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = EnvDevelopment
	}
	return strings.ToLower(env)
}

// IsProductionEnvironment returns true if running in production
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}

// IsStagingEnvironment returns true if running in staging
func IsStagingEnvironment() bool {
	env := GetEnvironment()
	return env == EnvStaging || env == "stage"
}

// --- Strict Validators ---

// validateJWTSecret enforces a strong JWT signing key.
func validateJWTSecret(secret string) error {
	weakSecrets := []string{
		"secret",
		"jwt-secret",
		"jwt_secret",
		"your-secret",
		"changeme",
		"password",
		"test",
		"example",
		"default",
		"placeholder",
		"replace-me",
		"apex-guard",
	}

	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("contains weak/placeholder value %q", weak)
		}
	}

	allAlpha, allDigit := true, true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha {
		return errors.New("must contain non-alphabetic characters for sufficient entropy")
	}
	if allDigit {
		return errors.New("must contain non-numeric characters for sufficient entropy")
	}

	if entropy := shannonEntropy(secret); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}

	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}

	return nil
}

// validateAPIKeyHashes checks every entry is a bcrypt hash of adequate cost.
func validateAPIKeyHashes(list string) error {
	hashes := splitList(list)
	if len(hashes) == 0 {
		return errors.New("no hashes listed")
	}
	for i, h := range hashes {
		cost, err := bcrypt.Cost([]byte(h))
		if err != nil {
			return fmt.Errorf("entry %d is not a bcrypt hash: %w", i+1, err)
		}
		if cost < bcrypt.DefaultCost {
			return fmt.Errorf("entry %d uses bcrypt cost %d, need >= %d", i+1, cost, bcrypt.DefaultCost)
		}
	}
	return nil
}

// validateDatabaseURL checks for a valid PostgreSQL connection string.
func validateDatabaseURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "postgres://") && !strings.HasPrefix(rawURL, "postgresql://") {
		return errors.New("must be a PostgreSQL connection URL (postgres:// or postgresql://)")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return errors.New("database URL must include a hostname")
	}

	if parsed.User != nil {
		if password, ok := parsed.User.Password(); ok {
			for _, weak := range []string{"password", "postgres", "changeme", "test", "example"} {
				if strings.EqualFold(password, weak) {
					return fmt.Errorf("database password %q is a known default", weak)
				}
			}
		}
	}

	return nil
}

// --- Entropy Helpers ---

// shannonEntropy calculates Shannon entropy in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// hasRepeatingPattern detects simple repeating patterns (e.g., "abcabc").
func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		pattern := s[:patLen]
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != pattern[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}

// --- JWT Rotation ---

// JWTRotationValidator supports validating tokens during key rotation
type JWTRotationValidator struct {
	currentSecret []byte
	oldSecret     []byte
	logger        *zap.Logger
}

// NewJWTRotationValidator creates a validator that supports key rotation
func NewJWTRotationValidator(currentSecret, oldSecret string, logger *zap.Logger) *JWTRotationValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &JWTRotationValidator{
		currentSecret: []byte(currentSecret),
		logger:        logger,
	}
	if oldSecret != "" {
		v.oldSecret = []byte(oldSecret)
	}
	return v
}

// ValidateToken validates a JWT, trying the current key first, then the old key.
func (v *JWTRotationValidator) ValidateToken(tokenString string, claims jwt.Claims) (*jwt.Token, error) {
	token, err := jwt.ParseWithClaims(tokenString, claims, hmacKey(v.currentSecret))
	if err == nil && token.Valid {
		return token, nil
	}

	if v.oldSecret != nil {
		token, oldErr := jwt.ParseWithClaims(tokenString, claims, hmacKey(v.oldSecret))
		if oldErr == nil && token.Valid {
			v.logger.Warn("token validated with old API_JWT_SECRET; client should rotate soon")
			return token, nil
		}
	}

	return nil, fmt.Errorf("token validation failed: %w", err)
}

func hmacKey(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}
}
