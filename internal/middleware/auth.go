package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"apex-guard/internal/config"
)

// PrincipalKey is the gin context key holding the authenticated caller.
const PrincipalKey = "principal"

var (
	errMissingBearer = errors.New("invalid authorization header format, expected 'Bearer <token>'")
	errEmptyToken    = errors.New("token cannot be empty")
)

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string `json:"subject"`
	Method  string `json:"method"` // "jwt" or "api_key"
}

// APIAuth authenticates requests by bearer JWT or X-API-Key.
type APIAuth struct {
	validator *config.JWTRotationValidator
	hashes    [][]byte

	// sha256 of keys already verified, to keep bcrypt off the hot path
	mu       sync.RWMutex
	verified map[string]string
}

// NewAPIAuth builds the authenticator. A nil validator disables JWT and an
// empty hash list disables API keys.
func NewAPIAuth(validator *config.JWTRotationValidator, apiKeyHashes []string) *APIAuth {
	a := &APIAuth{
		validator: validator,
		verified:  make(map[string]string),
	}
	for _, h := range apiKeyHashes {
		a.hashes = append(a.hashes, []byte(h))
	}
	return a
}

// Enabled reports whether any credential type is accepted.
func (a *APIAuth) Enabled() bool {
	return a.validator != nil || len(a.hashes) > 0
}

// Require rejects requests without valid credentials. When no credential
// type is configured every request passes.
func (a *APIAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" {
			p, ok := a.checkAPIKey(key)
			if !ok {
				abortWithError(c, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key", nil)
				return
			}
			c.Set(PrincipalKey, p)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header or X-API-Key is required", nil)
			return
		}
		if a.validator == nil {
			abortWithError(c, http.StatusUnauthorized, "JWT_DISABLED", "Bearer tokens are not accepted", nil)
			return
		}

		token, err := extractBearerToken(authHeader)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", err.Error(), nil)
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := a.validator.ValidateToken(token, claims); err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			abortWithError(c, http.StatusUnauthorized, code, "Invalid or expired token", nil)
			return
		}

		c.Set(PrincipalKey, Principal{Subject: claims.Subject, Method: "jwt"})
		c.Next()
	}
}

func (a *APIAuth) checkAPIKey(key string) (Principal, bool) {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])

	a.mu.RLock()
	subject, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return Principal{Subject: subject, Method: "api_key"}, true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			subject = "key:" + digest[:12]
			a.mu.Lock()
			a.verified[digest] = subject
			a.mu.Unlock()
			return Principal{Subject: subject, Method: "api_key"}, true
		}
	}
	return Principal{}, false
}

// GetPrincipal returns the caller set by Require.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// extractBearerToken extracts the token from Bearer authorization header
func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errMissingBearer
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if token == "" {
		return "", errEmptyToken
	}

	return token, nil
}
