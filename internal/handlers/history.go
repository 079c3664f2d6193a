package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"apex-guard/internal/db"
)

func (h *Handler) historyEnabled(c *gin.Context) bool {
	if h.History == nil {
		fail(c, http.StatusNotImplemented, "HISTORY_DISABLED", "scan history requires a database")
		return false
	}
	return true
}

// ListScans returns recent stored scans, newest first.
func (h *Handler) ListScans(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	filter := db.ListFilter{Fingerprint: c.Query("fingerprint")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	records, err := h.History.ListScans(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, gin.H{"scans": records, "count": len(records)})
}

// GetScan returns one stored scan with its findings.
func (h *Handler) GetScan(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}

	record, err := h.History.GetScan(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		fail(c, http.StatusNotFound, "SCAN_NOT_FOUND", "Scan not found")
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, record)
}
