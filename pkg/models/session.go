package models

import (
	"time"
)

// CollaborationSession is a bounded collaborative context scoped to one entity.
// Created on first join to an entity with no active session; ended explicitly
// or by the idle sweeper.
type CollaborationSession struct {
	ID              string     `json:"id" db:"id"`
	EntityType      string     `json:"entity_type" db:"entity_type"`
	EntityID        string     `json:"entity_id" db:"entity_id"`
	Name            string     `json:"name" db:"name"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	AllowAnonymous  bool       `json:"allow_anonymous" db:"allow_anonymous"`
	MaxParticipants int        `json:"max_participants" db:"max_participants"`
	RequireLockForEdit bool    `json:"require_lock_for_edit" db:"require_lock_for_edit"`
	OwnerUserID     string     `json:"owner_user_id" db:"owner_user_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	LastActivityAt  time.Time  `json:"last_activity_at" db:"last_activity_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// SessionOptions are the caller-supplied settings for a new session
type SessionOptions struct {
	Name               string `json:"name,omitempty"`
	AllowAnonymous     bool   `json:"allow_anonymous"`
	MaxParticipants    int    `json:"max_participants"`
	RequireLockForEdit bool   `json:"require_lock_for_edit"`
}

// CreateSessionRequest is the request to create a collaboration session
type CreateSessionRequest struct {
	EntityType string         `json:"entity_type" validate:"required"`
	EntityID   string         `json:"entity_id" validate:"required"`
	Options    SessionOptions `json:"options"`
}

// SessionResponse bundles a session with its current participant roster
type SessionResponse struct {
	Session      *CollaborationSession `json:"session"`
	Participants []SessionParticipant  `json:"participants"`
	WasCreated   bool                  `json:"was_created"`
}

// SessionListResponse is the response for listing sessions
type SessionListResponse struct {
	Items      []CollaborationSession `json:"items"`
	TotalCount int                    `json:"total_count"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
}
