// Package locks manages durable entity and field locks. Acquisition is
// non-blocking: contention returns the holder's identity as data, never an
// error, because "locked by someone else" is an expected outcome the caller
// branches on.
package locks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/coordinator"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultLockDuration applies when the caller does not request one
const DefaultLockDuration = 30 * time.Minute

// Registry coordinates lock acquisition and release
type Registry struct {
	locks      repositories.LockRepository
	guard      coordinator.EntityGuard
	hub        *realtime.Hub
	defaultTTL time.Duration
	logger     ectologger.Logger
}

// NewRegistry creates a lock registry. The guard serializes acquisitions per
// entity so two racing exclusive requests cannot both pass the blocking
// check.
func NewRegistry(locks repositories.LockRepository, guard coordinator.EntityGuard, hub *realtime.Hub, defaultTTL time.Duration, logger ectologger.Logger) *Registry {
	if defaultTTL <= 0 {
		defaultTTL = DefaultLockDuration
	}
	return &Registry{
		locks:      locks,
		guard:      guard,
		hub:        hub,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// AcquireLock attempts to take a lock. Exclusive requests are denied when any
// active lock covers the path; shared/intent requests are denied only by an
// active exclusive lock. A whole-entity request (empty path) conflicts with
// every active lock on the entity.
func (r *Registry) AcquireLock(ctx context.Context, userID string, req models.AcquireLockRequest) (*models.EntityLock, *models.LockDenial, error) {
	ctx, span := tracing.StartSpan(ctx, "locks.Registry.AcquireLock")
	defer span.End()

	lockType := req.LockType
	if lockType == "" {
		lockType = models.LockTypeExclusive
	}
	duration := r.defaultTTL
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}

	unlock, err := r.guard.Lock(ctx, "lockreg:"+req.EntityType+":"+req.EntityID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	now := time.Now().UTC()
	blocking, err := r.locks.FindBlocking(ctx, req.EntityType, req.EntityID, req.FieldPath, now)
	if err != nil {
		return nil, nil, err
	}

	for i := range blocking {
		holder := &blocking[i]
		if lockType != models.LockTypeExclusive && holder.LockType != models.LockTypeExclusive {
			// Shared and intent locks coexist
			continue
		}

		denial := &models.LockDenial{
			HolderUserID: holder.UserID,
			LockID:       holder.ID,
			LockType:     holder.LockType,
			FieldPath:    holder.FieldPath,
		}
		metrics.RecordLockAttempt(string(lockType), "denied")
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_type": req.EntityType,
			"entity_id":   req.EntityID,
			"field_path":  req.FieldPath,
			"holder":      holder.UserID,
		}).Info("Lock denied")

		r.hub.SendToUser(userID, realtime.EventLockDenied, denial)
		return nil, denial, nil
	}

	lock := &models.EntityLock{
		ID:                      uuid.New().String(),
		EntityType:              req.EntityType,
		EntityID:                req.EntityID,
		FieldPath:               req.FieldPath,
		UserID:                  userID,
		SessionID:               req.SessionID,
		LockType:                lockType,
		AcquiredAt:              now,
		ExpiresAt:               now.Add(duration),
		AutoReleaseOnDisconnect: true,
		MaxDurationSeconds:      int(duration.Seconds()),
	}
	if err := r.locks.Create(ctx, lock); err != nil {
		metrics.RecordLockAttempt(string(lockType), "error")
		return nil, nil, err
	}

	metrics.RecordLockAttempt(string(lockType), "acquired")
	r.hub.Broadcast(realtime.NewEvent(
		realtime.EntityChannel(req.EntityType, req.EntityID),
		realtime.EventLockAcquired,
		lock,
		userID,
	))

	return lock, nil, nil
}

// ReleaseLock releases a lock held by userID
func (r *Registry) ReleaseLock(ctx context.Context, lockID, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "locks.Registry.ReleaseLock")
	defer span.End()

	lock, err := r.locks.Get(ctx, lockID)
	if err != nil {
		return err
	}

	released, err := r.locks.Release(ctx, lockID, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !released {
		if lock.UserID != userID {
			return httperror.NewHTTPError(http.StatusForbidden, fmt.Sprintf("lock %s is held by another user", lockID))
		}
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("lock %s is already released", lockID))
	}

	r.hub.Broadcast(realtime.NewEvent(
		realtime.EntityChannel(lock.EntityType, lock.EntityID),
		realtime.EventLockReleased,
		map[string]any{
			"lock_id":     lockID,
			"entity_type": lock.EntityType,
			"entity_id":   lock.EntityID,
			"field_path":  lock.FieldPath,
			"user_id":     userID,
		},
		userID,
	))

	return nil
}

// GetLocks returns the entity's currently-active locks
func (r *Registry) GetLocks(ctx context.Context, entityType, entityID string) ([]models.EntityLock, error) {
	ctx, span := tracing.StartSpan(ctx, "locks.Registry.GetLocks")
	defer span.End()

	return r.locks.ListActive(ctx, entityType, entityID, time.Now().UTC())
}

// CleanupExpiredLocks flips every expired, unreleased lock to released. A
// maintenance sweep, not a user action: no per-lock broadcast.
func (r *Registry) CleanupExpiredLocks(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "locks.Registry.CleanupExpiredLocks")
	defer span.End()

	count, err := r.locks.ReleaseExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.LocksExpired.Add(float64(count))
		r.logger.WithContext(ctx).WithField("count", count).Info("Released expired locks")
	}
	return count, nil
}

// ReleaseOnDisconnect releases the user's auto-release locks when their last
// connection drops
func (r *Registry) ReleaseOnDisconnect(ctx context.Context, userID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "locks.Registry.ReleaseOnDisconnect")
	defer span.End()

	return r.locks.ReleaseOnDisconnect(ctx, userID, time.Now().UTC())
}
