// Package comments manages entity annotations and their threads. Parent and
// thread-root references are non-owning: resolving or removing a parent never
// cascades to replies.
package comments

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/broadcast"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Service coordinates comment storage and event fan-out
type Service struct {
	comments    repositories.CommentRepository
	broadcaster *broadcast.Broadcaster
	logger      ectologger.Logger
}

// NewService creates a comment service
func NewService(comments repositories.CommentRepository, broadcaster *broadcast.Broadcaster, logger ectologger.Logger) *Service {
	return &Service{
		comments:    comments,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Create adds a comment. Replies inherit the parent's entity and field so a
// thread can never span entities; the thread root is the parent's root, or the
// parent itself when the parent started the thread.
func (s *Service) Create(ctx context.Context, userID string, req models.CreateCommentRequest) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.Create")
	defer span.End()

	now := time.Now().UTC()
	comment := &models.Comment{
		ID:           uuid.New().String(),
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		FieldPath:    req.FieldPath,
		TextRange:    req.TextRange,
		AuthorUserID: userID,
		Body:         req.Body,
		Status:       models.CommentStatusOpen,
		ParentID:     req.ParentID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.ParentID != nil {
		parent, err := s.comments.Get(ctx, *req.ParentID)
		if err != nil {
			return nil, err
		}
		comment.EntityType = parent.EntityType
		comment.EntityID = parent.EntityID
		comment.FieldPath = parent.FieldPath
		root := parent.ID
		if parent.ThreadRootID != nil {
			root = *parent.ThreadRootID
		}
		comment.ThreadRootID = &root
	}

	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"comment_id":  comment.ID,
		"entity_type": comment.EntityType,
		"entity_id":   comment.EntityID,
	}).Info("Comment added")

	s.broadcaster.PublishCommentEvent(ctx, realtime.EventCommentAdded, comment, userID)
	return comment, nil
}

// Get returns one comment
func (s *Service) Get(ctx context.Context, id string) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.Get")
	defer span.End()

	return s.comments.Get(ctx, id)
}

// ListByEntity returns the entity's comments, optionally scoped to one field
func (s *Service) ListByEntity(ctx context.Context, entityType, entityID string, fieldPath *string, page, pageSize int) ([]models.Comment, int, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.ListByEntity")
	defer span.End()

	return s.comments.ListByEntity(ctx, entityType, entityID, fieldPath, page, pageSize)
}

// GetThread returns the root comment and all of its replies
func (s *Service) GetThread(ctx context.Context, id string) ([]models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.GetThread")
	defer span.End()

	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	root := comment.ID
	if comment.ThreadRootID != nil {
		root = *comment.ThreadRootID
	}
	return s.comments.ListThread(ctx, root)
}

// Update edits a comment body. Only the author may edit.
func (s *Service) Update(ctx context.Context, id, userID string, req models.UpdateCommentRequest) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.Update")
	defer span.End()

	existing, err := s.comments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.AuthorUserID != userID {
		return nil, httperror.NewHTTPError(http.StatusForbidden, fmt.Sprintf("comment %s belongs to another user", id))
	}

	comment, err := s.comments.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.broadcaster.PublishCommentEvent(ctx, realtime.EventCommentUpdated, comment, userID)
	return comment, nil
}

// Resolve marks a comment thread resolved. Any participant may resolve, not
// just the author.
func (s *Service) Resolve(ctx context.Context, id, userID string) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.Resolve")
	defer span.End()

	comment, err := s.comments.SetStatus(ctx, id, models.CommentStatusResolved, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.broadcaster.PublishCommentEvent(ctx, realtime.EventCommentResolved, comment, userID)
	return comment, nil
}

// Reopen reverts a resolved comment to open
func (s *Service) Reopen(ctx context.Context, id, userID string) (*models.Comment, error) {
	ctx, span := tracing.StartSpan(ctx, "comments.Service.Reopen")
	defer span.End()

	comment, err := s.comments.SetStatus(ctx, id, models.CommentStatusOpen, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.broadcaster.PublishCommentEvent(ctx, realtime.EventCommentUpdated, comment, userID)
	return comment, nil
}
