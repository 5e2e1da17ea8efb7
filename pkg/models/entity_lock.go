package models

import (
	"time"
)

// LockType determines how a lock interacts with other locks on the same path
type LockType string

const (
	// LockTypeExclusive excludes all other locks on the same or broader path
	LockTypeExclusive LockType = "exclusive"
	// LockTypeShared coexists with other shared/intent locks
	LockTypeShared LockType = "shared"
	// LockTypeIntent signals planned edits without blocking shared access
	LockTypeIntent LockType = "intent"
)

// EntityLock is a durable lock on an entity or one of its fields. An empty
// FieldPath means the whole entity. Active iff ReleasedAt is null and
// ExpiresAt is in the future.
type EntityLock struct {
	ID                      string     `json:"id" db:"id"`
	EntityType              string     `json:"entity_type" db:"entity_type"`
	EntityID                string     `json:"entity_id" db:"entity_id"`
	FieldPath               string     `json:"field_path" db:"field_path"`
	UserID                  string     `json:"user_id" db:"user_id"`
	SessionID               *string    `json:"session_id,omitempty" db:"session_id"`
	LockType                LockType   `json:"lock_type" db:"lock_type"`
	AcquiredAt              time.Time  `json:"acquired_at" db:"acquired_at"`
	ExpiresAt               time.Time  `json:"expires_at" db:"expires_at"`
	ReleasedAt              *time.Time `json:"released_at,omitempty" db:"released_at"`
	AutoReleaseOnDisconnect bool       `json:"auto_release_on_disconnect" db:"auto_release_on_disconnect"`
	MaxDurationSeconds      int        `json:"max_duration_seconds" db:"max_duration_seconds"`
}

// IsActive reports whether the lock is currently held
func (l *EntityLock) IsActive(now time.Time) bool {
	return l.ReleasedAt == nil && l.ExpiresAt.After(now)
}

// AcquireLockRequest is the request to acquire an entity or field lock
type AcquireLockRequest struct {
	EntityType      string   `json:"entity_type" validate:"required"`
	EntityID        string   `json:"entity_id" validate:"required"`
	FieldPath       string   `json:"field_path"`
	LockType        LockType `json:"lock_type,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	SessionID       *string  `json:"session_id,omitempty"`
}

// LockDenial names the holder that blocked a lock acquisition. Contention is
// an expected outcome, returned as data rather than an error.
type LockDenial struct {
	HolderUserID string   `json:"holder_user_id"`
	LockID       string   `json:"lock_id"`
	LockType     LockType `json:"lock_type"`
	FieldPath    string   `json:"field_path"`
}

// AcquireLockResponse carries either the granted lock or the denial
type AcquireLockResponse struct {
	Lock   *EntityLock `json:"lock,omitempty"`
	Denial *LockDenial `json:"denial,omitempty"`
}

// LockListResponse is the response for listing active locks on an entity
type LockListResponse struct {
	Items []EntityLock `json:"items"`
}
