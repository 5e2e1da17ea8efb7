package models

import (
	"encoding/json"
	"time"
)

// ParticipantStatus is the liveness state of a session participant
type ParticipantStatus string

const (
	ParticipantStatusActive       ParticipantStatus = "active"
	ParticipantStatusIdle         ParticipantStatus = "idle"
	ParticipantStatusAway         ParticipantStatus = "away"
	ParticipantStatusDisconnected ParticipantStatus = "disconnected"
)

// ParticipantRole determines what a participant may do within a session
type ParticipantRole string

const (
	ParticipantRoleOwner     ParticipantRole = "owner"
	ParticipantRoleEditor    ParticipantRole = "editor"
	ParticipantRoleCommenter ParticipantRole = "commenter"
	ParticipantRoleViewer    ParticipantRole = "viewer"
)

// SessionParticipant is the (session, user) membership row, unique per pair.
// Soft-closed on disconnect; never hard-deleted while changes reference it.
type SessionParticipant struct {
	ID            string            `json:"id" db:"id"`
	SessionID     string            `json:"session_id" db:"session_id"`
	UserID        string            `json:"user_id" db:"user_id"`
	Status        ParticipantStatus `json:"status" db:"status"`
	Role          ParticipantRole   `json:"role" db:"role"`
	CursorPosition json.RawMessage  `json:"cursor_position,omitempty" db:"cursor_position"`
	TextSelection  json.RawMessage  `json:"text_selection,omitempty" db:"text_selection"`
	JoinedAt      time.Time         `json:"joined_at" db:"joined_at"`
	LastSeenAt    time.Time         `json:"last_seen_at" db:"last_seen_at"`
	LeftAt        *time.Time        `json:"left_at,omitempty" db:"left_at"`
}

// JoinSessionRequest is the request to join an existing session
type JoinSessionRequest struct {
	Role ParticipantRole `json:"role,omitempty"`
}
