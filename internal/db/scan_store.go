package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"apex-guard/internal/security"
	"apex-guard/pkg/models"
)

// Listing bounds for ListScans.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ScanStore persists scan results. It implements security.ResultStore.
type ScanStore struct {
	db *Database
}

// NewScanStore creates a store over an open database.
func NewScanStore(database *Database) *ScanStore {
	return &ScanStore{db: database}
}

var _ security.ResultStore = (*ScanStore)(nil)

// SaveScan writes the scan row and its findings in one transaction.
func (s *ScanStore) SaveScan(ctx context.Context, result *security.ScanResult) error {
	if result == nil {
		return errors.New("nil scan result")
	}
	record := ToRecord(result)
	err := s.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findings := record.Findings
		record.Findings = nil
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if len(findings) == 0 {
			return nil
		}
		return tx.CreateInBatches(findings, 100).Error
	})
	if err != nil {
		return fmt.Errorf("save scan %s: %w", result.ScanID, err)
	}
	return nil
}

// GetScan loads one scan with its findings in line order.
func (s *ScanStore) GetScan(ctx context.Context, id string) (*models.ScanRecord, error) {
	var record models.ScanRecord
	err := s.db.DB.WithContext(ctx).
		Preload("Findings", func(tx *gorm.DB) *gorm.DB { return tx.Order("id ASC") }).
		First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	return &record, nil
}

// ListFilter narrows ListScans.
type ListFilter struct {
	Fingerprint string
	Limit       int
}

// ListScans returns the newest scans first, without findings.
func (s *ScanStore) ListScans(ctx context.Context, filter ListFilter) ([]models.ScanRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := s.db.DB.WithContext(ctx).Order("scanned_at DESC").Limit(limit)
	if filter.Fingerprint != "" {
		q = q.Where("fingerprint = ?", filter.Fingerprint)
	}

	var records []models.ScanRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return records, nil
}

// ToRecord flattens a scan result into its stored form.
func ToRecord(r *security.ScanResult) models.ScanRecord {
	counts := r.CountByTier()
	record := models.ScanRecord{
		ID:               r.ScanID,
		Fingerprint:      r.Fingerprint,
		FilePath:         r.FilePath,
		FeatureVersion:   r.FeatureVersion,
		SecurityScore:    r.SecurityScore,
		AnomalyScore:     r.ClassifierOutput.AnomalyScore,
		Classifier:       r.ClassifierOutput.Classifier,
		TopCategory:      topCategory(r.ClassifierOutput.CategoryDistribution),
		FindingCount:     len(r.Findings),
		CriticalCount:    counts[security.TierCritical],
		HighCount:        counts[security.TierHigh],
		MediumCount:      counts[security.TierMedium],
		LowCount:         counts[security.TierLow],
		QuantumThreats:   make([]models.QuantumThreatRecord, 0, len(r.QuantumThreats)),
		Compliance:       make(map[string]models.ComplianceRecord, len(r.ComplianceByFramework)),
		Warnings:         make([]string, 0, len(r.Warnings)),
		ProcessingTimeMs: r.ProcessingTimeMs,
		ScannedAt:        r.ScannedAt,
	}

	for _, q := range r.QuantumThreats {
		record.QuantumThreats = append(record.QuantumThreats, models.QuantumThreatRecord{
			Algorithm:   q.AlgorithmName,
			RiskTier:    string(q.RiskTier),
			Occurrences: q.OccurrenceCount,
		})
	}
	for name, rep := range r.ComplianceByFramework {
		record.Compliance[name] = models.ComplianceRecord{Score: rep.Score, Status: string(rep.Status)}
	}
	for _, w := range r.Warnings {
		record.Warnings = append(record.Warnings, string(w.Kind)+": "+w.Message)
	}
	for _, f := range r.Findings {
		record.Findings = append(record.Findings, models.FindingRecord{
			ScanID:        r.ScanID,
			RuleName:      f.RuleName,
			SeverityTier:  string(f.SeverityTier),
			CWEID:         f.CWEID,
			Score:         f.Score,
			QuantumThreat: f.QuantumThreat,
			Line:          int(f.Line),
			Evidence:      f.Evidence,
		})
	}
	return record
}

// topCategory picks the highest-probability category; ties go to the
// lexically smaller name so the choice is stable.
func topCategory(dist map[string]float64) string {
	best, bestP := "", -1.0
	for name, p := range dist {
		if p > bestP || (p == bestP && name < best) {
			best, bestP = name, p
		}
	}
	return best
}
