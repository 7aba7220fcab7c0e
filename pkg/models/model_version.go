package models

import (
	"time"

	"github.com/google/uuid"
)

// ModelVersion is a named, versioned scoring artifact registered by the
// training pipeline. At most one version per model name is active at a time;
// the pipeline only ever reads these rows.
type ModelVersion struct {
	ID          uuid.UUID          `db:"id"           json:"id"`
	Name        string             `db:"name"         json:"name"`
	Version     string             `db:"version"      json:"version"`
	ArtifactRef string             `db:"artifact_ref" json:"artifact_ref"`
	Metrics     map[string]float64 `db:"metrics"      json:"metrics"`
	Active      bool               `db:"active"       json:"active"`
	CreatedAt   time.Time          `db:"created_at"   json:"created_at"`
}
