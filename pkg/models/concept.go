// Package models contains domain types for the atlas tracker.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// File Types
// ============================================================================

// FileType classifies an uploaded object by the directory it was uploaded into.
type FileType string

const (
	FileTypeSourceDataset    FileType = "source_dataset"
	FileTypeIntegratedObject FileType = "integrated_object"
	FileTypeIngestManifest   FileType = "ingest_manifest"
)

// ValidFileTypes contains all valid file type values.
var ValidFileTypes = []FileType{
	FileTypeSourceDataset,
	FileTypeIntegratedObject,
	FileTypeIngestManifest,
}

// IsValidFileType checks if the given type is valid.
func IsValidFileType(t FileType) bool {
	for _, v := range ValidFileTypes {
		if v == t {
			return true
		}
	}
	return false
}

// HasConcept reports whether files of this type belong to a version chain.
// Ingest manifests are tracked as files only.
func (t FileType) HasConcept() bool {
	return t == FileTypeSourceDataset || t == FileTypeIntegratedObject
}

// ============================================================================
// Concept
// ============================================================================

// ConceptIdentity is the natural key of a concept. Two uploads with the same
// identity are revisions of the same logical dataset or object.
type ConceptIdentity struct {
	Network        string   `json:"network"`
	AtlasShortName string   `json:"atlas_short_name"`
	Generation     int      `json:"generation"`
	BaseFilename   string   `json:"base_filename"`
	FileType       FileType `json:"file_type"`
}

// Concept is the stable logical identity of a source dataset or integrated
// object lineage. Rows are immutable once created.
type Concept struct {
	ID uuid.UUID `json:"id"`
	ConceptIdentity
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
