package models

import (
	"encoding/json"
	"time"
)

// CommentStatus is the lifecycle state of a comment thread
type CommentStatus string

const (
	CommentStatusOpen     CommentStatus = "open"
	CommentStatusResolved CommentStatus = "resolved"
	CommentStatusWontFix  CommentStatus = "wont_fix"
)

// Comment is a thread-capable annotation on an entity, field, or text range.
// ParentID and ThreadRootID are non-owning references; deleting the referenced
// comment must not cascade-delete replies.
type Comment struct {
	ID           string          `json:"id" db:"id"`
	EntityType   string          `json:"entity_type" db:"entity_type"`
	EntityID     string          `json:"entity_id" db:"entity_id"`
	FieldPath    string          `json:"field_path" db:"field_path"`
	TextRange    json.RawMessage `json:"text_range,omitempty" db:"text_range"`
	AuthorUserID string          `json:"author_user_id" db:"author_user_id"`
	Body         string          `json:"body" db:"body"`
	Status       CommentStatus   `json:"status" db:"status"`
	ParentID     *string         `json:"parent_id,omitempty" db:"parent_id"`
	ThreadRootID *string         `json:"thread_root_id,omitempty" db:"thread_root_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy   *string         `json:"resolved_by,omitempty" db:"resolved_by"`
}

// CreateCommentRequest is the request to add a comment
type CreateCommentRequest struct {
	EntityType string          `json:"entity_type" validate:"required"`
	EntityID   string          `json:"entity_id" validate:"required"`
	FieldPath  string          `json:"field_path"`
	TextRange  json.RawMessage `json:"text_range,omitempty"`
	Body       string          `json:"body" validate:"required"`
	ParentID   *string         `json:"parent_id,omitempty"`
}

// UpdateCommentRequest is the request to edit a comment body
type UpdateCommentRequest struct {
	Body *string `json:"body,omitempty"`
}

// CommentListResponse is the response for listing comments on an entity
type CommentListResponse struct {
	Items      []Comment `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}
