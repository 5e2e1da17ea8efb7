// Package repositories defines the persistence interfaces consumed by the
// collaboration services. Implementations live in the per-table subpackages;
// tests substitute in-memory fakes.
package repositories

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// SessionRepository persists collaboration sessions
type SessionRepository interface {
	Create(ctx context.Context, session *models.CollaborationSession) error
	Get(ctx context.Context, id string) (*models.CollaborationSession, error)
	GetActiveByEntity(ctx context.Context, entityType, entityID string) (*models.CollaborationSession, error)
	List(ctx context.Context, entityType *string, page, pageSize int) ([]models.CollaborationSession, int, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	End(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context) ([]models.CollaborationSession, error)
	ListIdleActive(ctx context.Context, idleSince time.Time) ([]models.CollaborationSession, error)
}

// ParticipantRepository persists session membership
type ParticipantRepository interface {
	Upsert(ctx context.Context, participant *models.SessionParticipant) (*models.SessionParticipant, error)
	Get(ctx context.Context, sessionID, userID string) (*models.SessionParticipant, error)
	GetByID(ctx context.Context, id string) (*models.SessionParticipant, error)
	ListBySession(ctx context.Context, sessionID string, activeOnly bool) ([]models.SessionParticipant, error)
	Leave(ctx context.Context, sessionID, userID string, at time.Time) error
	UpdateCursor(ctx context.Context, sessionID, userID string, cursor []byte, at time.Time) error
	UpdateSelection(ctx context.Context, sessionID, userID string, selection []byte, at time.Time) error
}

// ChangeRepository persists collaboration changes
type ChangeRepository interface {
	Create(ctx context.Context, change *models.CollaborationChange) error
	Get(ctx context.Context, id string) (*models.CollaborationChange, error)
	ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]models.CollaborationChange, int, error)
	ListConcurrent(ctx context.Context, sessionID, fieldPath string, baseVersion int, excludeParticipantID string) ([]models.CollaborationChange, error)
}

// VersionRepository persists entity versions
type VersionRepository interface {
	Create(ctx context.Context, version *models.EntityVersion) error
	GetLatest(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error)
	GetByVersion(ctx context.Context, entityType, entityID string, version int) (*models.EntityVersion, error)
	List(ctx context.Context, entityType, entityID string, page, pageSize int) ([]models.EntityVersion, int, error)
}

// LockRepository persists entity locks
type LockRepository interface {
	Create(ctx context.Context, lock *models.EntityLock) error
	Get(ctx context.Context, id string) (*models.EntityLock, error)
	ListActive(ctx context.Context, entityType, entityID string, now time.Time) ([]models.EntityLock, error)
	FindBlocking(ctx context.Context, entityType, entityID, fieldPath string, now time.Time) ([]models.EntityLock, error)
	Release(ctx context.Context, id, userID string, at time.Time) (bool, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
	ReleaseOnDisconnect(ctx context.Context, userID string, at time.Time) (int, error)
}

// ConflictRepository persists conflict records
type ConflictRepository interface {
	Create(ctx context.Context, record *models.ConflictRecord) error
	Get(ctx context.Context, id string) (*models.ConflictRecord, error)
	ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]models.ConflictRecord, int, error)
}

// CommentRepository persists comments
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	Get(ctx context.Context, id string) (*models.Comment, error)
	ListByEntity(ctx context.Context, entityType, entityID string, fieldPath *string, page, pageSize int) ([]models.Comment, int, error)
	ListThread(ctx context.Context, threadRootID string) ([]models.Comment, error)
	Update(ctx context.Context, id string, req models.UpdateCommentRequest) (*models.Comment, error)
	SetStatus(ctx context.Context, id string, status models.CommentStatus, userID string, at time.Time) (*models.Comment, error)
}
