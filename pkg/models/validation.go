package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationStatus is the outcome of one validation rule for one entity.
type ValidationStatus string

const (
	ValidationStatusPassed     ValidationStatus = "PASSED"
	ValidationStatusFailed     ValidationStatus = "FAILED"
	ValidationStatusBlocked    ValidationStatus = "BLOCKED"
	ValidationStatusOverridden ValidationStatus = "OVERRIDDEN"
)

// Systems a validation task can belong to.
const (
	SystemCAP       = "CAP"
	SystemCELLxGENE = "CELLXGENE"
	SystemHCA       = "HCA_DATA_REPOSITORY"
)

// EntityType is the kind of entity a validation record targets.
type EntityType string

const (
	EntityTypeSourceDataset    EntityType = "SOURCE_DATASET"
	EntityTypeIntegratedObject EntityType = "INTEGRATED_OBJECT"
)

// EntityTypeForFileType maps a version-chain file type to a validation target type.
func EntityTypeForFileType(t FileType) EntityType {
	if t == FileTypeIntegratedObject {
		return EntityTypeIntegratedObject
	}
	return EntityTypeSourceDataset
}

// Validation is one row per (entity, rule). Rows are written by whatever
// process evaluates the rule and read by the atlas aggregate builder.
type Validation struct {
	ID               uuid.UUID        `json:"id"`
	EntityID         uuid.UUID        `json:"entity_id"`
	ValidationID     string           `json:"validation_id"`
	EntityType       EntityType       `json:"entity_type"`
	AtlasIDs         []uuid.UUID      `json:"atlas_ids"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationInfo   ValidationInfo   `json:"validation_info"`
	CommentThreadID  *uuid.UUID       `json:"comment_thread_id,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	TargetCompletion *time.Time       `json:"target_completion,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ValidationInfo is the typed view of the validation info blob.
type ValidationInfo struct {
	System         string     `json:"system"`
	ValidationType string     `json:"validationType"`
	Description    string     `json:"description"`
	FileID         *uuid.UUID `json:"fileId,omitempty"`
	Differences    []string   `json:"differences,omitempty"`
}

// Validate checks the fields the aggregate builder groups on.
func (v *ValidationInfo) Validate() error {
	if v.System == "" {
		return fmt.Errorf("validation info: system is required")
	}
	return nil
}
