package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"apex-guard/internal/security"
)

func renderReport(w io.Writer, res *security.BatchResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("File", "Score", "Critical", "High", "Medium", "Low", "Quantum", "Status")

	rows := make([][]string, 0, len(res.PerFile))
	for _, it := range res.PerFile {
		if !it.Succeeded() {
			rows = append(rows, []string{it.FilePath, "-", "-", "-", "-", "-", "-", "error: " + it.Error})
			continue
		}
		r := it.Result
		counts := r.CountByTier()
		rows = append(rows, []string{
			it.FilePath,
			strconv.Itoa(r.SecurityScore),
			strconv.Itoa(counts[security.TierCritical]),
			strconv.Itoa(counts[security.TierHigh]),
			strconv.Itoa(counts[security.TierMedium]),
			strconv.Itoa(counts[security.TierLow]),
			quantumSummary(r.QuantumThreats),
			scanStatus(r),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	s := res.Summary
	_, err := fmt.Fprintf(w, "\n%d/%d files scanned, %d findings (%d critical), average score %.1f, %dms\n",
		s.ScannedFiles, s.TotalFiles, s.TotalFindings, s.CriticalFindings, s.AverageSecurityScore, res.ProcessingTimeMs)
	return err
}

func quantumSummary(threats []security.QuantumThreat) string {
	if len(threats) == 0 {
		return "-"
	}
	names := make([]string, 0, len(threats))
	for _, t := range threats {
		names = append(names, fmt.Sprintf("%s×%d", t.AlgorithmName, t.OccurrenceCount))
	}
	return strings.Join(names, " ")
}

func scanStatus(r *security.ScanResult) string {
	if len(r.Warnings) == 0 {
		return "ok"
	}
	kinds := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		kinds = append(kinds, string(w.Kind))
	}
	return "degraded: " + strings.Join(kinds, ",")
}

func renderRules(w io.Writer, rules []security.RuleInfo) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Tier", "Severity", "CWE", "Kind", "Polarity", "Quantum")
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, []string{
			r.Name,
			string(r.Tier),
			strconv.FormatFloat(r.SeverityScore, 'f', 1, 64),
			r.CWEID,
			string(r.Kind),
			string(r.Polarity),
			strconv.FormatBool(r.QuantumThreat),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
