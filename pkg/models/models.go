package models

import (
	"time"
)

// ScanRecord is one completed scan in the durable store.
type ScanRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at"`

	Fingerprint    string `json:"fingerprint" gorm:"size:64;index;not null"`
	FilePath       string `json:"file_path"`
	FeatureVersion string `json:"feature_version" gorm:"size:64;not null"`

	SecurityScore int     `json:"security_score" gorm:"index"`
	AnomalyScore  float64 `json:"anomaly_score"`
	Classifier    string  `json:"classifier" gorm:"size:64"`
	TopCategory   string  `json:"top_category" gorm:"size:64"`

	// Counts by tier for history listings without joining findings
	FindingCount  int `json:"finding_count"`
	CriticalCount int `json:"critical_count"`
	HighCount     int `json:"high_count"`
	MediumCount   int `json:"medium_count"`
	LowCount      int `json:"low_count"`

	QuantumThreats   []QuantumThreatRecord       `json:"quantum_threats" gorm:"serializer:json"`
	Compliance       map[string]ComplianceRecord `json:"compliance" gorm:"serializer:json"`
	Warnings         []string                    `json:"warnings" gorm:"serializer:json"`
	ProcessingTimeMs int64                       `json:"processing_time_ms"`
	ScannedAt        time.Time                   `json:"scanned_at" gorm:"index"`

	// Relationships
	Findings []FindingRecord `json:"findings,omitempty" gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE"`
}

// TableName pins the table name used by the SQL migrations.
func (ScanRecord) TableName() string { return "scans" }

// FindingRecord is one rule hit belonging to a scan.
type FindingRecord struct {
	ID     uint   `json:"id" gorm:"primarykey"`
	ScanID string `json:"scan_id" gorm:"size:36;index;not null"`

	RuleName      string  `json:"rule_name" gorm:"size:128;index;not null"`
	SeverityTier  string  `json:"severity_tier" gorm:"size:16;not null"`
	CWEID         string  `json:"cwe_id" gorm:"size:32"`
	Score         float64 `json:"score"`
	QuantumThreat bool    `json:"quantum_threat"`
	// 0 for presence-required findings that have no line
	Line     int    `json:"line"`
	Evidence string `json:"evidence"`
}

// TableName pins the table name used by the SQL migrations.
func (FindingRecord) TableName() string { return "findings" }

// QuantumThreatRecord is the stored form of a quantum threat.
type QuantumThreatRecord struct {
	Algorithm   string `json:"algorithm"`
	RiskTier    string `json:"risk_tier"`
	Occurrences int    `json:"occurrences"`
}

// ComplianceRecord is the stored per-framework outcome.
type ComplianceRecord struct {
	Score  int    `json:"score"`
	Status string `json:"status"`
}
