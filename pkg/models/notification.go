package models

import (
	"github.com/google/uuid"
)

// StorageNotification is a normalized object-created event.
type StorageNotification struct {
	Bucket    string
	Key       string
	VersionID string
	ETag      string
	Size      int64
	SHA256    string
	// MessageID is the delivery id used to make ingestion idempotent.
	MessageID string
}

// ValidatorStatus is the overall outcome reported by the dataset validator.
type ValidatorStatus string

const (
	ValidatorStatusValid   ValidatorStatus = "VALID"
	ValidatorStatusInvalid ValidatorStatus = "INVALID"
	ValidatorStatusError   ValidatorStatus = "ERROR"
)

// IntegrityValidatorName is the validator that checks structural file integrity.
const IntegrityValidatorName = "integrity"

// ValidatorCallback is a normalized validator result message.
type ValidatorCallback struct {
	MessageID       string
	FileID          uuid.UUID
	ValidatorName   string
	Status          ValidatorStatus
	IntegrityStatus IntegrityStatus
	BatchJobID      string
	Reports         ValidationReports
	DatasetInfo     *DatasetInfo
	ErrorMessage    string
}

// SubmittedJob identifies a batch job accepted by the compute service.
type SubmittedJob struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
}

// ApplyOutcome describes what ApplyValidationResult did with a callback.
type ApplyOutcome string

const (
	ApplyOutcomeApplied   ApplyOutcome = "applied"
	ApplyOutcomeDuplicate ApplyOutcome = "duplicate"
	ApplyOutcomeStale     ApplyOutcome = "stale"
)

// IngestResult is what IngestFile returns.
type IngestResult struct {
	File      *File       `json:"file"`
	Concept   *Concept    `json:"concept,omitempty"`
	Version   *VersionRow `json:"version,omitempty"`
	Duplicate bool        `json:"duplicate"`
}

// StorageObject is one entry of an object-storage listing.
type StorageObject struct {
	Bucket    string
	Key       string
	ETag      string
	Size      int64
	VersionID string
}

// SyncReport summarizes a bucket prefix sync.
type SyncReport struct {
	Listed     int      `json:"listed"`
	Ingested   int      `json:"ingested"`
	Duplicates int      `json:"duplicates"`
	Malformed  []string `json:"malformed"`
	Failed     []string `json:"failed"`
}
