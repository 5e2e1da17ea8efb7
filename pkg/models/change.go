package models

import (
	"time"
)

// ChangeType is the kind of edit operation a change represents
type ChangeType string

const (
	ChangeTypeInsert  ChangeType = "insert"
	ChangeTypeDelete  ChangeType = "delete"
	ChangeTypeReplace ChangeType = "replace"
	ChangeTypeMove    ChangeType = "move"
	ChangeTypeFormat  ChangeType = "format"
)

// IsTextOperation reports whether the change type carries a text range
// (position/length semantics).
func (t ChangeType) IsTextOperation() bool {
	switch t {
	case ChangeTypeInsert, ChangeTypeDelete, ChangeTypeReplace:
		return true
	}
	return false
}

// ConflictResolution is the outcome recorded on a conflicted change
type ConflictResolution string

const (
	ConflictResolutionAccepted ConflictResolution = "accepted"
	ConflictResolutionRejected ConflictResolution = "rejected"
	ConflictResolutionMerged   ConflictResolution = "merged"
	ConflictResolutionManual   ConflictResolution = "manual"
)

// CollaborationChange is an atomic edit against a session's target entity.
// Immutable once created; conflict fields are set at creation, not mutated.
type CollaborationChange struct {
	ID                 string              `json:"id" db:"id"`
	SessionID          string              `json:"session_id" db:"session_id"`
	ParticipantID      string              `json:"participant_id" db:"participant_id"`
	ChangeType         ChangeType          `json:"change_type" db:"change_type"`
	FieldPath          string              `json:"field_path" db:"field_path"`
	OldValue           string              `json:"old_value" db:"old_value"`
	NewValue           string              `json:"new_value" db:"new_value"`
	Position           int                 `json:"position" db:"position"`
	Length             int                 `json:"length" db:"length"`
	BaseVersion        int                 `json:"base_version" db:"base_version"`
	ResultVersion      int                 `json:"result_version" db:"result_version"`
	IsConflicted       bool                `json:"is_conflicted" db:"is_conflicted"`
	ConflictResolution *ConflictResolution `json:"conflict_resolution,omitempty" db:"conflict_resolution"`
	CreatedAt          time.Time           `json:"created_at" db:"created_at"`
	AppliedAt          *time.Time          `json:"applied_at,omitempty" db:"applied_at"`
}

// ApplyChangeRequest is the request to apply an edit to a session's entity.
// BaseVersion is the entity version the client edited against; concurrent
// edits are other applied changes that assumed the same base.
type ApplyChangeRequest struct {
	SessionID   string     `json:"session_id" validate:"required"`
	FieldPath   string     `json:"field_path" validate:"required"`
	ChangeType  ChangeType `json:"change_type" validate:"required,oneof=insert delete replace move format"`
	OldValue    string     `json:"old_value"`
	NewValue    string     `json:"new_value"`
	Position    int        `json:"position"`
	Length      int        `json:"length"`
	BaseVersion int        `json:"base_version"`
}

// ApplyChangeResponse is the outcome of applying a change
type ApplyChangeResponse struct {
	Change   *CollaborationChange `json:"change"`
	Conflict *ConflictRecord      `json:"conflict,omitempty"`
}

// ChangeListResponse is the response for listing changes
type ChangeListResponse struct {
	Items      []CollaborationChange `json:"items"`
	TotalCount int                   `json:"total_count"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
}
