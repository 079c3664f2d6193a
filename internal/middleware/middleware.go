// Package middleware holds the gin middleware chain of the scan API.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Success   bool                   `json:"success"`
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, msg string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString(RequestIDKey),
	})
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Header("X-Request-ID", requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}

// Recovery turns panics into a 500 envelope and logs the stack.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered",
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.ByteString("stack", debug.Stack()),
		)
		abortWithError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", nil)
	})
}

// AccessLog writes one structured line per request.
func AccessLog(logger *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("errors", errs))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// BodyLimit rejects request bodies larger than maxBytes.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortWithError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"Request body too large", map[string]interface{}{"limit_bytes": maxBytes})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// clientLimiter is a rate limiter for a specific client
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages rate limiters for different IP addresses
type IPRateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perMin   int
	idleTTL  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter allows requestsPerMinute per client IP with the given
// burst. Call Stop to end the idle sweeper.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	if burst <= 0 {
		burst = max(1, requestsPerMinute/6)
	}
	l := &IPRateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60),
		burst:    burst,
		perMin:   requestsPerMinute,
		idleTTL:  time.Hour,
		stop:     make(chan struct{}),
	}
	go l.cleanupRoutine(10 * time.Minute)
	return l
}

// GetLimiter returns the rate limiter for a given IP
func (irl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	irl.mu.Lock()
	defer irl.mu.Unlock()

	cl, exists := irl.limiters[ip]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(irl.rate, irl.burst)}
		irl.limiters[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// Len returns the number of tracked clients.
func (irl *IPRateLimiter) Len() int {
	irl.mu.Lock()
	defer irl.mu.Unlock()
	return len(irl.limiters)
}

func (irl *IPRateLimiter) sweep(now time.Time) {
	irl.mu.Lock()
	defer irl.mu.Unlock()
	cutoff := now.Add(-irl.idleTTL)
	for ip, cl := range irl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(irl.limiters, ip)
		}
	}
}

func (irl *IPRateLimiter) cleanupRoutine(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			irl.sweep(now)
		case <-irl.stop:
			return
		}
	}
}

// Stop ends the sweeper goroutine.
func (irl *IPRateLimiter) Stop() {
	irl.stopOnce.Do(func() { close(irl.stop) })
}

// RateLimit middleware for rate limiting by IP
func RateLimit(limiter *IPRateLimiter) gin.HandlerFunc {
	limitHeader := strconv.Itoa(limiter.perMin)
	return func(c *gin.Context) {
		c.Header("X-RateLimit-Limit", limitHeader)
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "60")
			abortWithError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded",
				map[string]interface{}{
					"retry_after": "60s",
					"limit":       limitHeader + " requests per minute",
				})
			return
		}
		c.Next()
	}
}

// CORS allows the listed origins; "*" allows any origin without credentials.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowed["*"]:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
