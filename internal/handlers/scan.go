package handlers

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"

	"apex-guard/internal/security"
)

// ScanOptions are per-request scan switches.
type ScanOptions struct {
	ForceRescan bool `json:"forceRescan"`
}

// ScanRequest is the body of POST /api/v1/scan.
type ScanRequest struct {
	Code     *string      `json:"code"`
	FilePath string       `json:"filePath"`
	Options  *ScanOptions `json:"options"`
}

// BatchRequest is the body of POST /api/v1/scan/batch.
type BatchRequest struct {
	Files   []security.BatchFile `json:"files"`
	Options *ScanOptions         `json:"options"`
}

// QuantumRequest is the body of POST /api/v1/quantum.
type QuantumRequest struct {
	Code      *string `json:"code"`
	Algorithm string  `json:"algorithm"`
}

// QuantumResponse is the standalone quantum assessment.
type QuantumResponse struct {
	QuantumThreats []security.QuantumThreat     `json:"quantum_threats"`
	Vulnerable     bool                         `json:"vulnerable"`
	ScorePenalty   int                          `json:"score_penalty"`
	Algorithm      *security.AlgorithmAssessment `json:"algorithm,omitempty"`
}

// ComplianceRequest is the body of POST /api/v1/compliance. ScanResults is
// either one scan result or an array of them; findings are pooled.
type ComplianceRequest struct {
	Framework   string          `json:"framework"`
	ScanResults json.RawMessage `json:"scanResults"`
}

func (o *ScanOptions) force() bool {
	return o != nil && o.ForceRescan
}

// Scan handles single-file scans.
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	if req.Code == nil {
		badRequest(c, "code is required")
		return
	}

	result, err := h.Scanner.Scan(c.Request.Context(), security.ScanRequest{
		Source:      *req.Code,
		FilePath:    req.FilePath,
		ForceRescan: req.Options.force(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, result)
}

// ScanBatch handles multi-file scans.
func (h *Handler) ScanBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	result, err := h.Scanner.ScanBatch(c.Request.Context(), req.Files, req.Options.force())
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, result)
}

// Quantum assesses cryptographic primitives without running the full scan.
func (h *Handler) Quantum(c *gin.Context) {
	var req QuantumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	if req.Code == nil {
		badRequest(c, "code is required")
		return
	}

	resp := QuantumResponse{QuantumThreats: security.AssessQuantum(*req.Code)}
	if strings.TrimSpace(req.Algorithm) != "" {
		a, err := security.AssessAlgorithm(*req.Code, req.Algorithm)
		if err != nil {
			h.respondError(c, err)
			return
		}
		resp.Algorithm = &a
	}
	resp.Vulnerable = len(resp.QuantumThreats) > 0
	resp.ScorePenalty = quantumPenalty(resp.QuantumThreats)
	ok(c, resp)
}

func quantumPenalty(threats []security.QuantumThreat) int {
	p := 0
	for _, t := range threats {
		switch t.RiskTier {
		case security.RiskHigh:
			p += 10
		case security.RiskMedium:
			p += 5
		}
	}
	return p
}

// Compliance maps previously produced findings onto one framework.
func (h *Handler) Compliance(c *gin.Context) {
	var req ComplianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	findings, err := pooledFindings(req.ScanResults)
	if security.IsInputError(err) {
		h.respondError(c, err)
		return
	}
	if err != nil {
		badRequest(c, "scanResults must be a scan result or an array of scan results")
		return
	}

	report, err := security.MapCompliance(findings, req.Framework)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, report)
}

func pooledFindings(raw json.RawMessage) ([]security.Finding, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, security.NewInputError("scanResults", "scanResults is required")
	}
	if raw[0] == '[' {
		var many []security.ScanResult
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		var out []security.Finding
		for _, r := range many {
			out = append(out, r.Findings...)
		}
		return out, nil
	}
	var one security.ScanResult
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return one.Findings, nil
}
