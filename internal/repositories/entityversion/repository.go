package entityversion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "entity_versions"

var columns = []string{
	"id", "entity_type", "entity_id", "version", "snapshot", "change_ids", "created_at",
}

// Repository handles entity version persistence. Versions are append-only;
// the unique (entity_type, entity_id, version) constraint backs the gapless
// sequence guarantee.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity version repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create appends a new version row. A unique violation surfaces as a 409 so
// the coordinator can distinguish a lost race from a storage fault.
func (r *Repository) Create(ctx context.Context, v *models.EntityVersion) error {
	ctx, span := tracing.StartSpan(ctx, "entityversion.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "Create",
		"entity_type": v.EntityType,
		"entity_id":   v.EntityID,
		"version":     v.Version,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(v.ID, v.EntityType, v.EntityID, v.Version, v.Snapshot, v.ChangeIDs, v.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("version %d already exists for %s/%s", v.Version, v.EntityType, v.EntityID))
		}
		log.WithError(err).Error("Failed to create entity version")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create entity version")
	}

	log.Debug("Created entity version")
	return nil
}

// GetLatest retrieves the highest version for an entity
func (r *Repository) GetLatest(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error) {
	ctx, span := tracing.StartSpan(ctx, "entityversion.Repository.GetLatest")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
	)
	sb.OrderBy("version DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var v models.EntityVersion
	if err := r.db.GetContext(ctx, &v, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no versions for %s/%s", entityType, entityID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get latest version")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest version")
	}

	return &v, nil
}

// GetByVersion retrieves one specific version of an entity
func (r *Repository) GetByVersion(ctx context.Context, entityType, entityID string, version int) (*models.EntityVersion, error) {
	ctx, span := tracing.StartSpan(ctx, "entityversion.Repository.GetByVersion")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
		sb.Equal("version", version),
	)

	query, args := sb.Build()
	var v models.EntityVersion
	if err := r.db.GetContext(ctx, &v, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("version %d not found for %s/%s", version, entityType, entityID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get version")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get version")
	}

	return &v, nil
}

// List retrieves an entity's versions, newest first
func (r *Repository) List(ctx context.Context, entityType, entityID string, page, pageSize int) ([]models.EntityVersion, int, error) {
	ctx, span := tracing.StartSpan(ctx, "entityversion.Repository.List")
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
	countSb.Where(
		countSb.Equal("entity_type", entityType),
		countSb.Equal("entity_id", entityID),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count versions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count versions")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
	)
	sb.OrderBy("version DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var versions []models.EntityVersion
	if err := r.db.SelectContext(ctx, &versions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list versions")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list versions")
	}

	return versions, totalCount, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
