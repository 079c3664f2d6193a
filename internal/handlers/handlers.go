// Package handlers exposes the scan engine over a gin JSON API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"apex-guard/internal/cache"
	"apex-guard/internal/db"
	"apex-guard/internal/middleware"
	"apex-guard/internal/security"
	"apex-guard/pkg/models"
)

// ScanHistory reads stored scans.
type ScanHistory interface {
	GetScan(ctx context.Context, id string) (*models.ScanRecord, error)
	ListScans(ctx context.Context, filter db.ListFilter) ([]models.ScanRecord, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CacheInfo is the cache view used by health output.
type CacheInfo interface {
	Ping(ctx context.Context) error
	Stats() cache.CacheStats
}

// Handler contains all the dependencies for API handlers
type Handler struct {
	Scanner *security.Scanner
	// History and Database are nil when no durable store is configured.
	History  ScanHistory
	Database HealthChecker
	Cache    CacheInfo
	Version  string

	logger    *zap.Logger
	startedAt time.Time
}

// Options configures NewHandler.
type Options struct {
	Scanner  *security.Scanner
	History  ScanHistory
	Database HealthChecker
	Cache    CacheInfo
	Version  string
	Logger   *zap.Logger
}

// NewHandler creates a new handler instance
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Scanner:   opts.Scanner,
		History:   opts.History,
		Database:  opts.Database,
		Cache:     opts.Cache,
		Version:   opts.Version,
		logger:    logger.Named("api"),
		startedAt: time.Now(),
	}
}

// StandardResponse represents a standard API response
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// RegisterRoutes mounts the API. auth guards /api/v1 and may be nil.
func (h *Handler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/health/deep", h.DeepHealth)

	v1 := r.Group("/api/v1")
	if auth != nil {
		v1.Use(auth)
	}
	{
		v1.POST("/scan", h.Scan)
		v1.POST("/scan/batch", h.ScanBatch)
		v1.POST("/quantum", h.Quantum)
		v1.POST("/compliance", h.Compliance)

		v1.GET("/rules", h.ListRules)
		v1.GET("/frameworks", h.ListFrameworks)
		v1.GET("/scans", h.ListScans)
		v1.GET("/scans/:id", h.GetScan)
	}
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, StandardResponse{Success: false, Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, "INVALID_REQUEST", msg)
}

// respondError maps engine errors onto the envelope. Only input errors are
// the caller's fault.
func (h *Handler) respondError(c *gin.Context, err error) {
	var ie *security.InputError
	var se *security.ScanError
	switch {
	case errors.As(err, &ie):
		code := "INVALID_INPUT"
		switch {
		case errors.Is(err, security.ErrSourceTooLarge):
			code = "SOURCE_TOO_LARGE"
		case errors.Is(err, security.ErrUnknownFramework):
			code = "UNKNOWN_FRAMEWORK"
		}
		fail(c, http.StatusBadRequest, code, ie.Error())
	case errors.As(err, &se):
		h.logger.Error("scan failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.String("state", string(se.State)),
			zap.Error(err),
		)
		fail(c, http.StatusInternalServerError, "SCAN_FAILED", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusServiceUnavailable, "REQUEST_CANCELLED", "request cancelled")
	default:
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err),
		)
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
