package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/comments"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// CommentHandler serves the comment and thread endpoints
type CommentHandler struct {
	comments *comments.Service
	logger   ectologger.Logger
}

// NewCommentHandler creates a comment handler
func NewCommentHandler(service *comments.Service, logger ectologger.Logger) *CommentHandler {
	return &CommentHandler{
		comments: service,
		logger:   logger,
	}
}

// Register registers the comment routes
func (h *CommentHandler) Register(g *echo.Group) {
	g.POST("/comments", h.Create)
	g.GET("/comments", h.List)
	g.GET("/comments/:id", h.Get)
	g.GET("/comments/:id/thread", h.Thread)
	g.PATCH("/comments/:id", h.Update)
	g.POST("/comments/:id/resolve", h.Resolve)
	g.POST("/comments/:id/reopen", h.Reopen)
}

// Create adds a comment or a reply
func (h *CommentHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.CreateCommentRequest](c)
	if err != nil {
		return err
	}

	comment, err := h.comments.Create(ctx, userID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, comment)
}

// List returns an entity's comments, optionally scoped to one field
func (h *CommentHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	entityType := c.QueryParam("entity_type")
	entityID := c.QueryParam("entity_id")
	if entityType == "" || entityID == "" {
		return BadRequest("entity_type and entity_id are required")
	}

	var fieldPath *string
	if v := c.QueryParam("field_path"); v != "" {
		fieldPath = &v
	}
	page, pageSize := parsePagination(c)

	items, total, err := h.comments.ListByEntity(ctx, entityType, entityID, fieldPath, page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.CommentListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// Get returns one comment
func (h *CommentHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	comment, err := h.comments.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, comment)
}

// Thread returns the comment's full thread, root first
func (h *CommentHandler) Thread(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.Thread")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	items, err := h.comments.GetThread(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, models.CommentListResponse{Items: items, TotalCount: len(items)})
}

// Update edits a comment body
func (h *CommentHandler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.Update")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.UpdateCommentRequest](c)
	if err != nil {
		return err
	}

	comment, err := h.comments.Update(ctx, c.Param("id"), userID, req)
	if err != nil {
		return err
	}
	return SuccessResponse(c, comment)
}

// Resolve marks a comment resolved
func (h *CommentHandler) Resolve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.Resolve")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	comment, err := h.comments.Resolve(ctx, c.Param("id"), userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, comment)
}

// Reopen reverts a resolved comment to open
func (h *CommentHandler) Reopen(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CommentHandler.Reopen")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	comment, err := h.comments.Reopen(ctx, c.Param("id"), userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, comment)
}
