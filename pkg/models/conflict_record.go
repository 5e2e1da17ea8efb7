package models

import (
	"time"
)

// ConflictType classifies how two concurrent changes collided
type ConflictType string

const (
	ConflictTypeConcurrentEdit ConflictType = "concurrent_edit"
	ConflictTypeDeleteUpdate   ConflictType = "delete_update"
	ConflictTypeMoveEdit       ConflictType = "move_edit"
	ConflictTypeFormatConflict ConflictType = "format_conflict"
	// ConflictTypeNone means no conflict was detected
	ConflictTypeNone ConflictType = ""
)

// ResolutionStrategy is the policy used to resolve a conflict
type ResolutionStrategy string

const (
	ResolutionStrategyAutoMerge       ResolutionStrategy = "auto_merge"
	ResolutionStrategyLastWriterWins  ResolutionStrategy = "last_writer_wins"
	ResolutionStrategyFirstWriterWins ResolutionStrategy = "first_writer_wins"
	ResolutionStrategyManual          ResolutionStrategy = "manual"
	ResolutionStrategyFork            ResolutionStrategy = "fork"
)

// ConflictRecord links a local and remote change that collided, with the
// strategy chosen and the value it produced.
type ConflictRecord struct {
	ID                 string             `json:"id" db:"id"`
	LocalChangeID      string             `json:"local_change_id" db:"local_change_id"`
	RemoteChangeID     string             `json:"remote_change_id" db:"remote_change_id"`
	ConflictType       ConflictType       `json:"conflict_type" db:"conflict_type"`
	FieldPath          string             `json:"field_path" db:"field_path"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy" db:"resolution_strategy"`
	ResolvedValue      string             `json:"resolved_value" db:"resolved_value"`
	ResolvedBy         string             `json:"resolved_by" db:"resolved_by"`
	ResolvedAt         time.Time          `json:"resolved_at" db:"resolved_at"`
}

// ConflictListResponse is the response for listing conflict records
type ConflictListResponse struct {
	Items      []ConflictRecord `json:"items"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
}
