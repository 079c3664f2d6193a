package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Health answers quickly without touching dependencies.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"version":    h.Version,
		"classifier": h.Scanner.ClassifierName(),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// DeepHealth pings the database and cache. A database failure is unhealthy;
// a cache failure only degrades, since scans still run uncached.
func (h *Handler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	body := gin.H{
		"version":         h.Version,
		"classifier":      h.Scanner.ClassifierName(),
		"feature_version": h.Scanner.FeatureVersion(),
		"rules":           h.Scanner.Catalog().Len(),
		"goroutines":      runtime.NumGoroutine(),
		"timestamp":       time.Now().UTC(),
	}

	switch {
	case h.Database == nil:
		body["database"] = "disabled"
	default:
		if err := h.Database.Health(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			body["database"] = "unreachable"
			body["database_error"] = err.Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			body["database"] = "connected"
		}
	}

	if h.Cache != nil {
		stats := h.Cache.Stats()
		body["cache"] = stats
		if err := h.Cache.Ping(ctx); err != nil {
			h.logger.Warn("cache health check failed", zap.Error(err))
			body["cache_error"] = err.Error()
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	body["status"] = status
	c.JSON(httpStatus, body)
}
