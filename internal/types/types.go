// Package types provides shared type definitions used across patlas packages.
// This package exists to break import cycles between the orchestration layer,
// the analyzers, and the quality/report pipelines. Types in this package are
// foundational data records with no behavior beyond small derivations.
package types

import (
	"time"
)

// =============================================================================
// PATENT RECORDS
// =============================================================================

// PatentRecord is the normalized patent document consumed by the search and
// analysis layers. ApplicationDate and PublicationDate keep the raw string
// form ("YYYY-MM-DD", "YYYY-MM" or "YYYY"); analyzers parse what they need.
type PatentRecord struct {
	ApplicationNumber string   `json:"application_number"`
	Title             string   `json:"title"`
	Abstract          string   `json:"abstract,omitempty"`
	Applicants        []string `json:"applicants"`
	Inventors         []string `json:"inventors,omitempty"`
	ApplicationDate   string   `json:"application_date"`
	PublicationDate   string   `json:"publication_date,omitempty"`
	IPCClasses        []string `json:"ipc_classes"`
	Country           string   `json:"country"`
	Status            string   `json:"status,omitempty"`
}

// RequiredFieldRatio reports the fraction of mandatory fields that are set.
// Mandatory: application number, title, applicants, application date, IPC
// classes, country.
func (p *PatentRecord) RequiredFieldRatio() float64 {
	total, set := 6, 0
	if p.ApplicationNumber != "" {
		set++
	}
	if p.Title != "" {
		set++
	}
	if len(p.Applicants) > 0 {
		set++
	}
	if p.ApplicationDate != "" {
		set++
	}
	if len(p.IPCClasses) > 0 {
		set++
	}
	if p.Country != "" {
		set++
	}
	return float64(set) / float64(total)
}

// OptionalFieldRatio reports the fraction of optional fields that are set.
// Optional: abstract, inventors, publication date, status.
func (p *PatentRecord) OptionalFieldRatio() float64 {
	total, set := 4, 0
	if p.Abstract != "" {
		set++
	}
	if len(p.Inventors) > 0 {
		set++
	}
	if p.PublicationDate != "" {
		set++
	}
	if p.Status != "" {
		set++
	}
	return float64(set) / float64(total)
}

// =============================================================================
// WORKERS
// =============================================================================

// WorkerStatus tracks worker liveness.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
)

// SpecialtyGeneral marks a worker that accepts any task type.
const SpecialtyGeneral = "general"

// WorkerRecord describes a registered worker agent. Load and performance
// samples are owned by the load balancer; this record carries the static
// registration facts plus liveness.
type WorkerRecord struct {
	WorkerID      string       `json:"worker_id"`
	WorkerType    string       `json:"worker_type"`
	Capabilities  []string     `json:"capabilities"`
	Status        WorkerStatus `json:"status"`
	RegisteredAt  time.Time    `json:"registered_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Capacity      int          `json:"capacity"`
	Specialties   []string     `json:"specialties"`
}

// HasSpecialty reports whether the worker claims the given task type or is a
// generalist.
func (w *WorkerRecord) HasSpecialty(taskType string) bool {
	for _, s := range w.Specialties {
		if s == taskType || s == SpecialtyGeneral {
			return true
		}
	}
	return false
}

// =============================================================================
// QUALITY REPORTS
// =============================================================================

// QualityGrade buckets an overall quality score.
type QualityGrade string

const (
	GradeExcellent  QualityGrade = "excellent"
	GradeGood       QualityGrade = "good"
	GradeAcceptable QualityGrade = "acceptable"
	GradePoor       QualityGrade = "poor"
	GradeFailed     QualityGrade = "failed"
)

// GradeFor maps an overall quality score in [0,1] onto its grade band.
func GradeFor(score float64) QualityGrade {
	switch {
	case score >= 0.9:
		return GradeExcellent
	case score >= 0.8:
		return GradeGood
	case score >= 0.7:
		return GradeAcceptable
	case score >= 0.6:
		return GradePoor
	default:
		return GradeFailed
	}
}

// QualityIssue describes one problem found during validation.
type QualityIssue struct {
	Dimension string `json:"dimension"`
	Severity  string `json:"severity"` // critical | warning | info
	Message   string `json:"message"`
}

// QualityReport is the outcome of a quality validation pass (analysis-level
// or workflow-level).
type QualityReport struct {
	ResultID        string             `json:"result_id,omitempty"`
	OverallQuality  float64            `json:"overall_quality"`
	Grade           QualityGrade       `json:"grade"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Issues          []QualityIssue     `json:"issues,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Risks           map[string]int     `json:"risks"` // high | medium | low -> count
	Passed          bool               `json:"passed"`
	Timestamp       time.Time          `json:"timestamp"`
}

// =============================================================================
// REPORT VERSIONS
// =============================================================================

// VersionStatus tracks a report version through its write cycle.
type VersionStatus string

const (
	VersionCreating  VersionStatus = "creating"
	VersionCompleted VersionStatus = "completed"
	VersionFailed    VersionStatus = "failed"
)

// VersionFile records one exported artifact of a report version.
type VersionFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// ReportVersion is one immutable snapshot of an exported report.
type ReportVersion struct {
	VersionID     string                 `json:"version_id"`
	ReportID      string                 `json:"report_id"`
	VersionNumber int                    `json:"version_number"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Status        VersionStatus          `json:"status"`
	Files         map[string]VersionFile `json:"files"` // format -> file
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}
