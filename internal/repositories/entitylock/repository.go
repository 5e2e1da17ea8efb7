package entitylock

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "entity_locks"

var columns = []string{
	"id", "entity_type", "entity_id", "field_path", "user_id", "session_id",
	"lock_type", "acquired_at", "expires_at", "released_at",
	"auto_release_on_disconnect", "max_duration_seconds",
}

// Repository handles entity lock persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity lock repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new lock row
func (r *Repository) Create(ctx context.Context, l *models.EntityLock) error {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "Create",
		"entity_type": l.EntityType,
		"entity_id":   l.EntityID,
		"field_path":  l.FieldPath,
		"lock_type":   l.LockType,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		l.ID, l.EntityType, l.EntityID, l.FieldPath, l.UserID, l.SessionID,
		l.LockType, l.AcquiredAt, l.ExpiresAt, l.ReleasedAt,
		l.AutoReleaseOnDisconnect, l.MaxDurationSeconds,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create lock")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create lock")
	}

	log.WithFields(map[string]any{"id": l.ID}).Info("Created lock")
	return nil
}

// Get retrieves a lock by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.EntityLock, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var l models.EntityLock
	if err := r.db.GetContext(ctx, &l, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("lock %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get lock")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lock")
	}

	return &l, nil
}

// ListActive retrieves all currently-active locks for an entity
func (r *Repository) ListActive(ctx context.Context, entityType, entityID string, now time.Time) ([]models.EntityLock, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.ListActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
		sb.IsNull("released_at"),
		sb.GreaterThan("expires_at", now),
	)
	sb.OrderBy("acquired_at ASC")

	query, args := sb.Build()
	var locks []models.EntityLock
	if err := r.db.SelectContext(ctx, &locks, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active locks")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active locks")
	}

	return locks, nil
}

// FindBlocking retrieves active locks that cover the requested path: locks on
// the exact field plus whole-entity locks (empty path). A whole-entity request
// matches every active lock on the entity.
func (r *Repository) FindBlocking(ctx context.Context, entityType, entityID, fieldPath string, now time.Time) ([]models.EntityLock, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.FindBlocking")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	where := []string{
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
		sb.IsNull("released_at"),
		sb.GreaterThan("expires_at", now),
	}
	if fieldPath != "" {
		where = append(where, sb.Or(
			sb.Equal("field_path", ""),
			sb.Equal("field_path", fieldPath),
		))
	}
	sb.Where(where...)
	sb.OrderBy("acquired_at ASC")

	query, args := sb.Build()
	var locks []models.EntityLock
	if err := r.db.SelectContext(ctx, &locks, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find blocking locks")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find blocking locks")
	}

	return locks, nil
}

// Release marks a lock released if it is held by userID and still unreleased.
// Returns false when no row matched (wrong holder or already released).
func (r *Repository) Release(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.Release")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(sb.Assign("released_at", at))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("user_id", userID),
		sb.IsNull("released_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to release lock")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to release lock")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ReleaseExpired marks every expired, unreleased lock as released. Returns
// the number of locks swept.
func (r *Repository) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.ReleaseExpired")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(sb.Assign("released_at", now))
	sb.Where(
		sb.IsNull("released_at"),
		sb.LessEqualThan("expires_at", now),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to release expired locks")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to release expired locks")
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// ReleaseOnDisconnect releases a user's active locks that were acquired with
// auto_release_on_disconnect set
func (r *Repository) ReleaseOnDisconnect(ctx context.Context, userID string, at time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entitylock.Repository.ReleaseOnDisconnect")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(sb.Assign("released_at", at))
	sb.Where(
		sb.Equal("user_id", userID),
		sb.Equal("auto_release_on_disconnect", true),
		sb.IsNull("released_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to release locks on disconnect")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to release locks on disconnect")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"user_id": userID,
			"count":   rows,
		}).Info("Released locks on disconnect")
	}
	return int(rows), nil
}
