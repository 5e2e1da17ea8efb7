package change

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "collaboration_changes"

var columns = []string{
	"id", "session_id", "participant_id", "change_type", "field_path",
	"old_value", "new_value", "position", "length",
	"base_version", "result_version", "is_conflicted", "conflict_resolution",
	"created_at", "applied_at",
}

// Repository handles collaboration change persistence. Changes are immutable
// once created, so there is no update path.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new change repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new change
func (r *Repository) Create(ctx context.Context, c *models.CollaborationChange) error {
	ctx, span := tracing.StartSpan(ctx, "change.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Create",
		"session_id": c.SessionID,
		"field_path": c.FieldPath,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		c.ID, c.SessionID, c.ParticipantID, c.ChangeType, c.FieldPath,
		c.OldValue, c.NewValue, c.Position, c.Length,
		c.BaseVersion, c.ResultVersion, c.IsConflicted, c.ConflictResolution,
		c.CreatedAt, c.AppliedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create change")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create change")
	}

	log.WithFields(map[string]any{"id": c.ID, "result_version": c.ResultVersion}).Debug("Created change")
	return nil
}

// Get retrieves a change by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.CollaborationChange, error) {
	ctx, span := tracing.StartSpan(ctx, "change.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var c models.CollaborationChange
	if err := r.db.GetContext(ctx, &c, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("change %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get change")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get change")
	}

	return &c, nil
}

// ListBySession retrieves a session's changes, newest first
func (r *Repository) ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]models.CollaborationChange, int, error) {
	ctx, span := tracing.StartSpan(ctx, "change.Repository.ListBySession")
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
	countSb.Where(countSb.Equal("session_id", sessionID))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count changes")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count changes")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("session_id", sessionID))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var changes []models.CollaborationChange
	if err := r.db.SelectContext(ctx, &changes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list changes")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list changes")
	}

	return changes, totalCount, nil
}

// ListConcurrent retrieves applied changes on the same field with the same
// base version, authored by a different participant. These are the concurrent
// candidates checked for conflicts.
func (r *Repository) ListConcurrent(ctx context.Context, sessionID, fieldPath string, baseVersion int, excludeParticipantID string) ([]models.CollaborationChange, error) {
	ctx, span := tracing.StartSpan(ctx, "change.Repository.ListConcurrent")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("session_id", sessionID),
		sb.Equal("field_path", fieldPath),
		sb.Equal("base_version", baseVersion),
		sb.NotEqual("participant_id", excludeParticipantID),
		sb.IsNotNull("applied_at"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var changes []models.CollaborationChange
	if err := r.db.SelectContext(ctx, &changes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list concurrent changes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list concurrent changes")
	}

	return changes, nil
}
