package session

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

const table = "collaboration_sessions"

var columns = []string{
	"id", "entity_type", "entity_id", "name", "is_active",
	"allow_anonymous", "max_participants", "require_lock_for_edit",
	"owner_user_id", "started_at", "last_activity_at", "ended_at",
}

// Repository handles collaboration session persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new session repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new collaboration session
func (r *Repository) Create(ctx context.Context, session *models.CollaborationSession) error {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "Create",
		"entity_type": session.EntityType,
		"entity_id":   session.EntityID,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		session.ID, session.EntityType, session.EntityID, session.Name, session.IsActive,
		session.AllowAnonymous, session.MaxParticipants, session.RequireLockForEdit,
		session.OwnerUserID, session.StartedAt, session.LastActivityAt, session.EndedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create session")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create session")
	}

	log.WithFields(map[string]any{"id": session.ID}).Info("Created session")
	return nil
}

// Get retrieves a session by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.CollaborationSession, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var session models.CollaborationSession
	if err := r.db.GetContext(ctx, &session, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get session")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get session")
	}

	return &session, nil
}

// GetActiveByEntity retrieves the active session for an entity, if one exists
func (r *Repository) GetActiveByEntity(ctx context.Context, entityType, entityID string) (*models.CollaborationSession, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.GetActiveByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("started_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var session models.CollaborationSession
	if err := r.db.GetContext(ctx, &session, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no active session for %s/%s", entityType, entityID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get active session")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active session")
	}

	return &session, nil
}

// List retrieves sessions, optionally filtered by entity type
func (r *Repository) List(ctx context.Context, entityType *string, page, pageSize int) ([]models.CollaborationSession, int, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(table)
	if entityType != nil {
		countSb.Where(countSb.Equal("entity_type", *entityType))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count sessions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count sessions")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	if entityType != nil {
		sb.Where(sb.Equal("entity_type", *entityType))
	}
	sb.OrderBy("started_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var sessions []models.CollaborationSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list sessions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}

	return sessions, totalCount, nil
}

// TouchActivity bumps the session's last activity timestamp
func (r *Repository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.TouchActivity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(sb.Assign("last_activity_at", at))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("is_active", true),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to touch session activity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update session activity")
	}

	return nil
}

// End marks a session ended
func (r *Repository) End(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.End")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("is_active", false),
		sb.Assign("ended_at", at),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("is_active", true),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to end session")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to end session")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("active session %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Ended session")
	return nil
}

// ListActive retrieves all currently active sessions
func (r *Repository) ListActive(ctx context.Context) ([]models.CollaborationSession, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.ListActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("is_active", true))

	query, args := sb.Build()
	var sessions []models.CollaborationSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active sessions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active sessions")
	}

	return sessions, nil
}

// ListIdleActive retrieves active sessions with no activity since the cutoff
func (r *Repository) ListIdleActive(ctx context.Context, idleSince time.Time) ([]models.CollaborationSession, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Repository.ListIdleActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("is_active", true),
		sb.LessThan("last_activity_at", idleSince),
	)

	query, args := sb.Build()
	var sessions []models.CollaborationSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list idle sessions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list idle sessions")
	}

	return sessions, nil
}
