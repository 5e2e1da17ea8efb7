package conflictrecord

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

const table = "conflict_records"

var columns = []string{
	"id", "local_change_id", "remote_change_id", "conflict_type", "field_path",
	"resolution_strategy", "resolved_value", "resolved_by", "resolved_at",
}

// Repository handles conflict record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new conflict record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new conflict record
func (r *Repository) Create(ctx context.Context, rec *models.ConflictRecord) error {
	ctx, span := tracing.StartSpan(ctx, "conflictrecord.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "Create",
		"conflict_type": rec.ConflictType,
		"field_path":    rec.FieldPath,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		rec.ID, rec.LocalChangeID, rec.RemoteChangeID, rec.ConflictType, rec.FieldPath,
		rec.ResolutionStrategy, rec.ResolvedValue, rec.ResolvedBy, rec.ResolvedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create conflict record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create conflict record")
	}

	log.WithFields(map[string]any{"id": rec.ID}).Info("Created conflict record")
	return nil
}

// Get retrieves a conflict record by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.ConflictRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "conflictrecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var rec models.ConflictRecord
	if err := r.db.GetContext(ctx, &rec, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("conflict record %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get conflict record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conflict record")
	}

	return &rec, nil
}

// ListBySession retrieves conflict records whose local change belongs to the
// session, newest first
func (r *Repository) ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]models.ConflictRecord, int, error) {
	ctx, span := tracing.StartSpan(ctx, "conflictrecord.Repository.ListBySession")
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
	countSb.From(table + " cr")
	countSb.JoinWithOption(sqlbuilder.InnerJoin, "collaboration_changes cc", "cc.id = cr.local_change_id")
	countSb.Where(countSb.Equal("cc.session_id", sessionID))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count conflict records")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count conflict records")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = "cr." + c
	}
	sb.Select(cols...)
	sb.From(table + " cr")
	sb.JoinWithOption(sqlbuilder.InnerJoin, "collaboration_changes cc", "cc.id = cr.local_change_id")
	sb.Where(sb.Equal("cc.session_id", sessionID))
	sb.OrderBy("cr.resolved_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var records []models.ConflictRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list conflict records")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list conflict records")
	}

	return records, totalCount, nil
}
