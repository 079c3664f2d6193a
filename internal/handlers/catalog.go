package handlers

import (
	"github.com/gin-gonic/gin"

	"apex-guard/internal/security"
)

// ListRules returns the active rule catalog in evaluation order.
func (h *Handler) ListRules(c *gin.Context) {
	rules := h.Scanner.Catalog().Infos()
	ok(c, gin.H{
		"rules":           rules,
		"total":           len(rules),
		"feature_version": h.Scanner.FeatureVersion(),
	})
}

// ListFrameworks returns the supported compliance frameworks.
func (h *Handler) ListFrameworks(c *gin.Context) {
	ok(c, gin.H{"frameworks": security.ListFrameworks()})
}
