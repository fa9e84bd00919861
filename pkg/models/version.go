package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionRow is one work-in-progress revision of a source dataset or an
// integrated object.
//
// ID is the logical id shared by every revision of the concept, so atlas
// membership and validation records keep resolving across re-uploads.
// VersionID is unique per physical revision and never reused.
type VersionRow struct {
	VersionID            uuid.UUID             `json:"version_id"`
	ID                   uuid.UUID             `json:"id"`
	ConceptID            uuid.UUID             `json:"concept_id"`
	Kind                 FileType              `json:"kind"`
	IsLatest             bool                  `json:"is_latest"`
	WIPNumber            int                   `json:"wip_number"`
	Revision             int                   `json:"revision"`
	FileID               uuid.UUID             `json:"file_id"`
	SourceDatasetInfo    *SourceDatasetInfo    `json:"sd_info,omitempty"`
	IntegratedObjectInfo *IntegratedObjectInfo `json:"io_info,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// SourceDatasetInfo is curated metadata for a source dataset revision.
type SourceDatasetInfo struct {
	Title                  string `json:"title"`
	CellCount              int64  `json:"cellCount"`
	PublicationDOI         string `json:"publicationDoi,omitempty"`
	MetadataSpreadsheetURL string `json:"metadataSpreadsheetUrl,omitempty"`
	CapURL                 string `json:"capUrl,omitempty"`
}

// Validate checks the shape of the info blob.
func (i *SourceDatasetInfo) Validate() error {
	if i == nil {
		return nil
	}
	if i.CellCount < 0 {
		return fmt.Errorf("source dataset info: cellCount must not be negative")
	}
	return nil
}

// IntegratedObjectInfo is curated metadata for an integrated object revision.
type IntegratedObjectInfo struct {
	Title     string `json:"title"`
	CellCount int64  `json:"cellCount"`
	CapURL    string `json:"capUrl,omitempty"`
}

// Validate checks the shape of the info blob.
func (i *IntegratedObjectInfo) Validate() error {
	if i == nil {
		return nil
	}
	if i.CellCount < 0 {
		return fmt.Errorf("integrated object info: cellCount must not be negative")
	}
	return nil
}

// NextRevision builds the row that supersedes prev. The logical id is kept,
// a fresh version id is assigned and curated info is carried forward.
func (prev *VersionRow) NextRevision(fileID uuid.UUID, contentChanged bool) *VersionRow {
	next := &VersionRow{
		VersionID: uuid.New(),
		ID:        prev.ID,
		ConceptID: prev.ConceptID,
		Kind:      prev.Kind,
		IsLatest:  true,
		WIPNumber: prev.WIPNumber + 1,
		Revision:  prev.Revision,
		FileID:    fileID,
	}
	if contentChanged {
		next.Revision++
	}
	if prev.SourceDatasetInfo != nil {
		info := *prev.SourceDatasetInfo
		next.SourceDatasetInfo = &info
	}
	if prev.IntegratedObjectInfo != nil {
		info := *prev.IntegratedObjectInfo
		next.IntegratedObjectInfo = &info
	}
	return next
}

// FirstRevision builds the initial row of a new lineage.
func FirstRevision(conceptID, fileID uuid.UUID, kind FileType) *VersionRow {
	row := &VersionRow{
		VersionID: uuid.New(),
		ID:        uuid.New(),
		ConceptID: conceptID,
		Kind:      kind,
		IsLatest:  true,
		WIPNumber: 1,
		Revision:  1,
		FileID:    fileID,
	}
	switch kind {
	case FileTypeSourceDataset:
		row.SourceDatasetInfo = &SourceDatasetInfo{}
	case FileTypeIntegratedObject:
		row.IntegratedObjectInfo = &IntegratedObjectInfo{}
	}
	return row
}
