package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Validation Status
// ============================================================================

// FileValidationStatus tracks the dataset validation job for a file.
// State machine:
//
//	pending → requested → completed
//	              ↓
//	        job_failed | request_failed | stale
//
// request_failed and job_failed may be re-requested; stale is final.
type FileValidationStatus string

const (
	FileValidationStatusPending       FileValidationStatus = "pending"
	FileValidationStatusRequested     FileValidationStatus = "requested"
	FileValidationStatusCompleted     FileValidationStatus = "completed"
	FileValidationStatusJobFailed     FileValidationStatus = "job_failed"
	FileValidationStatusRequestFailed FileValidationStatus = "request_failed"
	FileValidationStatusStale         FileValidationStatus = "stale"
)

// ValidFileValidationStatuses contains all valid status values.
var ValidFileValidationStatuses = []FileValidationStatus{
	FileValidationStatusPending,
	FileValidationStatusRequested,
	FileValidationStatusCompleted,
	FileValidationStatusJobFailed,
	FileValidationStatusRequestFailed,
	FileValidationStatusStale,
}

// IsValidFileValidationStatus checks if the given status is valid.
func IsValidFileValidationStatus(s FileValidationStatus) bool {
	for _, v := range ValidFileValidationStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanRequest reports whether a validation job may be submitted from this status.
func (s FileValidationStatus) CanRequest() bool {
	switch s {
	case FileValidationStatusPending,
		FileValidationStatusCompleted,
		FileValidationStatusJobFailed,
		FileValidationStatusRequestFailed:
		return true
	}
	return false
}

// IntegrityStatus tracks structural file integrity separately from content
// validation.
//
//	pending → requested → valid | invalid | error
type IntegrityStatus string

const (
	IntegrityStatusPending   IntegrityStatus = "pending"
	IntegrityStatusRequested IntegrityStatus = "requested"
	IntegrityStatusValid     IntegrityStatus = "valid"
	IntegrityStatusInvalid   IntegrityStatus = "invalid"
	IntegrityStatusError     IntegrityStatus = "error"
)

// ============================================================================
// File
// ============================================================================

// File is one immutable record per physical object-storage upload. Only the
// validation fields and the archived flag change after ingestion.
type File struct {
	ID                        uuid.UUID            `json:"id"`
	Bucket                    string               `json:"bucket"`
	Key                       string               `json:"key"`
	VersionID                 *string              `json:"version_id,omitempty"`
	ETag                      string               `json:"etag"`
	SizeBytes                 int64                `json:"size_bytes"`
	SHA256Client              *string              `json:"sha256_client,omitempty"`
	FileType                  FileType             `json:"file_type"`
	IntegrityStatus           IntegrityStatus      `json:"integrity_status"`
	ValidationStatus          FileValidationStatus `json:"validation_status"`
	ValidationInfo            *FileValidationInfo  `json:"validation_info,omitempty"`
	DatasetInfo               *DatasetInfo         `json:"dataset_info,omitempty"`
	ValidationReports         ValidationReports    `json:"validation_reports,omitempty"`
	ValidationSummary         *ValidationSummary   `json:"validation_summary,omitempty"`
	IsArchived                bool                 `json:"is_archived"`
	SNSMessageID              string               `json:"sns_message_id"`
	ValidationSNSMessageID    *string              `json:"validation_sns_message_id,omitempty"`
	ConceptID                 *uuid.UUID           `json:"concept_id,omitempty"`
	SourceDatasetVersionID    *uuid.UUID           `json:"source_dataset_version_id,omitempty"`
	IntegratedObjectVersionID *uuid.UUID           `json:"integrated_object_version_id,omitempty"`
	CreatedAt                 time.Time            `json:"created_at"`
	UpdatedAt                 time.Time            `json:"updated_at"`
}

// OwningVersionID returns the version row that this file produced, if linked.
func (f *File) OwningVersionID() *uuid.UUID {
	if f.SourceDatasetVersionID != nil {
		return f.SourceDatasetVersionID
	}
	return f.IntegratedObjectVersionID
}

// FileValidationInfo holds batch job bookkeeping for the latest validation request.
type FileValidationInfo struct {
	BatchJobID   string     `json:"batchJobId,omitempty"`
	BatchJobName string     `json:"batchJobName,omitempty"`
	RequestedAt  *time.Time `json:"requestedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// DatasetInfo is metadata the validator reads out of the dataset itself.
type DatasetInfo struct {
	Title          string   `json:"title,omitempty"`
	CellCount      int64    `json:"cellCount"`
	GeneCount      int64    `json:"geneCount"`
	Assay          []string `json:"assay,omitempty"`
	Disease        []string `json:"disease,omitempty"`
	Tissue         []string `json:"tissue,omitempty"`
	SuspensionType []string `json:"suspensionType,omitempty"`
}

// Validate checks the shape of validator-supplied dataset metadata.
func (d *DatasetInfo) Validate() error {
	if d == nil {
		return nil
	}
	if d.CellCount < 0 {
		return fmt.Errorf("dataset info: cellCount must not be negative")
	}
	if d.GeneCount < 0 {
		return fmt.Errorf("dataset info: geneCount must not be negative")
	}
	return nil
}

// ValidatorReport is the structured output of one validator tool.
type ValidatorReport struct {
	Valid      bool      `json:"valid"`
	Errors     []string  `json:"errors"`
	Warnings   []string  `json:"warnings"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ValidationReports maps validator name to its report.
type ValidationReports map[string]ValidatorReport

// ValidationSummary condenses ValidationReports for listing views.
type ValidationSummary struct {
	OverallValid bool            `json:"overallValid"`
	Validators   map[string]bool `json:"validators"`
	ErrorCount   int             `json:"errorCount"`
	WarningCount int             `json:"warningCount"`
}

// Summarize derives a summary from a set of reports.
func (r ValidationReports) Summarize() *ValidationSummary {
	s := &ValidationSummary{OverallValid: true, Validators: make(map[string]bool, len(r))}
	for name, report := range r {
		s.Validators[name] = report.Valid
		s.ErrorCount += len(report.Errors)
		s.WarningCount += len(report.Warnings)
		if !report.Valid {
			s.OverallValid = false
		}
	}
	return s
}
