package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// EntityVersion is one append-only row per (entityType, entityId, version).
// Versions form a gapless increasing sequence per entity starting at 0.
type EntityVersion struct {
	ID         string          `json:"id" db:"id"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	Version    int             `json:"version" db:"version"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty" db:"snapshot"`
	ChangeIDs  pq.StringArray  `json:"change_ids" db:"change_ids"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// VersionListResponse is the response for listing an entity's versions
type VersionListResponse struct {
	Items      []EntityVersion `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
