package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AtlasStatus is the curation lifecycle of an atlas.
type AtlasStatus string

const (
	AtlasStatusDraft      AtlasStatus = "DRAFT"
	AtlasStatusInProgress AtlasStatus = "IN_PROGRESS"
	AtlasStatusComplete   AtlasStatus = "COMPLETE"
	AtlasStatusOCEndorsed AtlasStatus = "OC_ENDORSED"
)

// Atlas is the aggregation root. It references source datasets and
// integrated objects by logical id; it does not own them.
type Atlas struct {
	ID                uuid.UUID     `json:"id"`
	Overview          AtlasOverview `json:"overview"`
	Generation        int           `json:"generation"`
	Revision          int           `json:"revision"`
	Status            AtlasStatus   `json:"status"`
	SourceDatasets    []uuid.UUID   `json:"source_datasets"`
	IntegratedObjects []uuid.UUID   `json:"integrated_objects"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// AtlasOverview is the typed view of the atlas overview blob. Task counts are
// a cache that can always be rebuilt from validation rows.
type AtlasOverview struct {
	Network   string `json:"network"`
	ShortName string `json:"shortName"`
	Version   string `json:"version"`
	Wave      string `json:"wave,omitempty"`
	AtlasTaskCounts
}

// Validate checks the fields the tracker relies on.
func (o *AtlasOverview) Validate() error {
	if o.ShortName == "" {
		return fmt.Errorf("atlas overview: shortName is required")
	}
	if o.Network == "" {
		return fmt.Errorf("atlas overview: network is required")
	}
	if o.TaskCount < 0 || o.CompletedTaskCount < 0 || o.CompletedTaskCount > o.TaskCount {
		return fmt.Errorf("atlas overview: inconsistent task counts %d/%d", o.CompletedTaskCount, o.TaskCount)
	}
	return nil
}

// AtlasTaskCounts is the rollup written by the aggregate builder.
type AtlasTaskCounts struct {
	TaskCount           int               `json:"taskCount"`
	CompletedTaskCount  int               `json:"completedTaskCount"`
	IngestionTaskCounts []SystemTaskCount `json:"ingestionTaskCounts"`
}

// SystemTaskCount is the per-system slice of AtlasTaskCounts.
type SystemTaskCount struct {
	System             string `json:"system"`
	TaskCount          int    `json:"taskCount"`
	CompletedTaskCount int    `json:"completedTaskCount"`
}
