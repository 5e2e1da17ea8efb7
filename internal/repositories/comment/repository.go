package comment

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

const table = "comments"

var columns = []string{
	"id", "entity_type", "entity_id", "field_path", "text_range",
	"author_user_id", "body", "status", "parent_id", "thread_root_id",
	"created_at", "updated_at", "resolved_at", "resolved_by",
}

// Repository handles comment persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new comment repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new comment
func (r *Repository) Create(ctx context.Context, c *models.Comment) error {
	ctx, span := tracing.StartSpan(ctx, "comment.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "Create",
		"entity_type": c.EntityType,
		"entity_id":   c.EntityID,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		c.ID, c.EntityType, c.EntityID, c.FieldPath, c.TextRange,
		c.AuthorUserID, c.Body, c.Status, c.ParentID, c.ThreadRootID,
		c.CreatedAt, c.UpdatedAt, c.ResolvedAt, c.ResolvedBy,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create comment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create comment")
	}

	log.WithFields(map[string]any{"id": c.ID}).Info("Created comment")
	return nil
}

// Get retrieves a comment by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comment.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var c models.Comment
	if err := r.db.GetContext(ctx, &c, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("comment %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get comment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get comment")
	}

	return &c, nil
}

// ListByEntity retrieves comments on an entity, optionally scoped to a field
func (r *Repository) ListByEntity(ctx context.Context, entityType, entityID string, fieldPath *string, page, pageSize int) ([]models.Comment, int, error) {
	ctx, span := tracing.StartSpan(ctx, "comment.Repository.ListByEntity")
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
	countWhere := []string{
		countSb.Equal("entity_type", entityType),
		countSb.Equal("entity_id", entityID),
	}
	if fieldPath != nil {
		countWhere = append(countWhere, countSb.Equal("field_path", *fieldPath))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count comments")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count comments")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	where := []string{
		sb.Equal("entity_type", entityType),
		sb.Equal("entity_id", entityID),
	}
	if fieldPath != nil {
		where = append(where, sb.Equal("field_path", *fieldPath))
	}
	sb.Where(where...)
	sb.OrderBy("created_at ASC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list comments")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list comments")
	}

	return comments, totalCount, nil
}

// ListThread retrieves a comment thread: the root plus every reply referencing it
func (r *Repository) ListThread(ctx context.Context, threadRootID string) ([]models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comment.Repository.ListThread")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Or(
		sb.Equal("id", threadRootID),
		sb.Equal("thread_root_id", threadRootID),
	))
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list comment thread")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list comment thread")
	}

	return comments, nil
}

// Update edits a comment's body
func (r *Repository) Update(ctx context.Context, id string, req models.UpdateCommentRequest) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comment.Repository.Update")
	defer span.End()

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Body != nil {
		existing.Body = *req.Body
	}
	existing.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("body", existing.Body),
		sb.Assign("updated_at", existing.UpdatedAt),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update comment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update comment")
	}

	return existing, nil
}

// SetStatus resolves or reopens a comment thread
func (r *Repository) SetStatus(ctx context.Context, id string, status models.CommentStatus, userID string, at time.Time) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comment.Repository.SetStatus")
	defer span.End()

	existing, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.Status = status
	existing.UpdatedAt = at
	if status == models.CommentStatusOpen {
		existing.ResolvedAt = nil
		existing.ResolvedBy = nil
	} else {
		existing.ResolvedAt = &at
		existing.ResolvedBy = &userID
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("status", existing.Status),
		sb.Assign("updated_at", existing.UpdatedAt),
		sb.Assign("resolved_at", existing.ResolvedAt),
		sb.Assign("resolved_by", existing.ResolvedBy),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set comment status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to set comment status")
	}

	return existing, nil
}
