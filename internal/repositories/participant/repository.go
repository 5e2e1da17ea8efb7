package participant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "session_participants"

var columns = []string{
	"id", "session_id", "user_id", "status", "role",
	"cursor_position", "text_selection", "joined_at", "last_seen_at", "left_at",
}

// Repository handles session participant persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new participant repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates the (session, user) membership row or re-activates it on
// re-entry, resetting left_at and status.
func (r *Repository) Upsert(ctx context.Context, p *models.SessionParticipant) (*models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Upsert",
		"session_id": p.SessionID,
		"user_id":    p.UserID,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		p.ID, p.SessionID, p.UserID, p.Status, p.Role,
		p.CursorPosition, p.TextSelection, p.JoinedAt, p.LastSeenAt, p.LeftAt,
	)
	// Re-entry keeps the original id, joined_at, and role
	sb.SQL(`ON CONFLICT (session_id, user_id) DO UPDATE SET
		status = EXCLUDED.status,
		last_seen_at = EXCLUDED.last_seen_at,
		left_at = NULL`)
	sb.SQL("RETURNING " + columnList())

	query, args := sb.Build()
	var stored models.SessionParticipant
	if err := r.db.GetContext(ctx, &stored, query, args...); err != nil {
		log.WithError(err).Error("Failed to upsert participant")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert participant")
	}

	log.WithFields(map[string]any{"id": stored.ID}).Info("Upserted participant")
	return &stored, nil
}

// Get retrieves a participant by (session, user)
func (r *Repository) Get(ctx context.Context, sessionID, userID string) (*models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("session_id", sessionID),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()
	var p models.SessionParticipant
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("participant %s not found in session %s", userID, sessionID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get participant")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get participant")
	}

	return &p, nil
}

// GetByID retrieves a participant by row id
func (r *Repository) GetByID(ctx context.Context, id string) (*models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var p models.SessionParticipant
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("participant %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get participant")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get participant")
	}

	return &p, nil
}

// ListBySession retrieves a session's participants; activeOnly excludes
// disconnected members
func (r *Repository) ListBySession(ctx context.Context, sessionID string, activeOnly bool) ([]models.SessionParticipant, error) {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.ListBySession")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	where := []string{sb.Equal("session_id", sessionID)}
	if activeOnly {
		where = append(where, sb.NotEqual("status", string(models.ParticipantStatusDisconnected)))
	}
	sb.Where(where...)
	sb.OrderBy("joined_at ASC")

	query, args := sb.Build()
	var participants []models.SessionParticipant
	if err := r.db.SelectContext(ctx, &participants, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list participants")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list participants")
	}

	return participants, nil
}

// Leave soft-closes the membership row
func (r *Repository) Leave(ctx context.Context, sessionID, userID string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.Leave")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("status", string(models.ParticipantStatusDisconnected)),
		sb.Assign("left_at", at),
		sb.Assign("last_seen_at", at),
	)
	sb.Where(
		sb.Equal("session_id", sessionID),
		sb.Equal("user_id", userID),
		sb.IsNull("left_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark participant left")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to leave session")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("participant %s not found in session %s", userID, sessionID))
	}

	return nil
}

// UpdateCursor persists the participant's latest cursor position
func (r *Repository) UpdateCursor(ctx context.Context, sessionID, userID string, cursor []byte, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.UpdateCursor")
	defer span.End()

	return r.updatePosition(ctx, sessionID, userID, "cursor_position", cursor, at)
}

// UpdateSelection persists the participant's latest text selection
func (r *Repository) UpdateSelection(ctx context.Context, sessionID, userID string, selection []byte, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "participant.Repository.UpdateSelection")
	defer span.End()

	return r.updatePosition(ctx, sessionID, userID, "text_selection", selection, at)
}

func (r *Repository) updatePosition(ctx context.Context, sessionID, userID, column string, value []byte, at time.Time) error {
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign(column, value),
		sb.Assign("last_seen_at", at),
	)
	sb.Where(
		sb.Equal("session_id", sessionID),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to update %s", column)
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update participant position")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("participant %s not found in session %s", userID, sessionID))
	}

	return nil
}

func columnList() string {
	return strings.Join(columns, ", ")
}
