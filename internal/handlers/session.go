package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sessions"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// SessionHandler serves the session lifecycle and history endpoints
type SessionHandler struct {
	manager   *sessions.Manager
	sessions  repositories.SessionRepository
	changes   repositories.ChangeRepository
	conflicts repositories.ConflictRepository
	logger    ectologger.Logger
}

// NewSessionHandler creates a session handler
func NewSessionHandler(manager *sessions.Manager, sessionRepo repositories.SessionRepository, changes repositories.ChangeRepository, conflicts repositories.ConflictRepository, logger ectologger.Logger) *SessionHandler {
	return &SessionHandler{
		manager:   manager,
		sessions:  sessionRepo,
		changes:   changes,
		conflicts: conflicts,
		logger:    logger,
	}
}

// Register registers the session routes
func (h *SessionHandler) Register(g *echo.Group) {
	g.POST("/sessions", h.Create)
	g.GET("/sessions", h.List)
	g.GET("/sessions/:id", h.Get)
	g.POST("/sessions/:id/join", h.Join)
	g.POST("/sessions/:id/leave", h.Leave)
	g.POST("/sessions/:id/end", h.End)
	g.GET("/sessions/:id/changes", h.ListChanges)
	g.GET("/sessions/:id/conflicts", h.ListConflicts)
	g.GET("/entities/:entityType/:entityId/session", h.GetByEntity)
}

// Create returns the entity's active session, joining the caller, or starts a
// new one. 201 only when a session was actually created.
func (h *SessionHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.CreateSessionRequest](c)
	if err != nil {
		return err
	}

	var session *models.CollaborationSession
	var created bool
	if req.Options != (models.SessionOptions{}) {
		session, _, err = h.manager.CreateSession(ctx, req.EntityType, req.EntityID, userID, req.Options)
		created = true
	} else {
		session, created, err = h.manager.GetOrCreateSession(ctx, req.EntityType, req.EntityID, userID)
	}
	if err != nil {
		return err
	}

	_, participants, err := h.manager.GetSession(ctx, session.ID)
	if err != nil {
		return err
	}

	resp := models.SessionResponse{
		Session:      session,
		Participants: participants,
		WasCreated:   created,
	}
	if created {
		return CreatedResponse(c, resp)
	}
	return SuccessResponse(c, resp)
}

// List returns sessions, optionally filtered by entity type
func (h *SessionHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var entityType *string
	if v := c.QueryParam("entity_type"); v != "" {
		entityType = &v
	}
	page, pageSize := parsePagination(c)

	items, total, err := h.sessions.List(ctx, entityType, page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.SessionListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// Get returns a session with its active roster
func (h *SessionHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	session, participants, err := h.manager.GetSession(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.SessionResponse{
		Session:      session,
		Participants: participants,
	})
}

// GetByEntity returns the entity's active session, if any
func (h *SessionHandler) GetByEntity(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.GetByEntity")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	session, err := h.sessions.GetActiveByEntity(ctx, c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		return err
	}

	_, participants, err := h.manager.GetSession(ctx, session.ID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.SessionResponse{
		Session:      session,
		Participants: participants,
	})
}

// Join adds the caller to an existing session
func (h *SessionHandler) Join(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.Join")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.JoinSessionRequest](c)
	if err != nil {
		return err
	}

	participant, err := h.manager.JoinSession(ctx, c.Param("id"), userID, req.Role)
	if err != nil {
		return err
	}

	return SuccessResponse(c, participant)
}

// Leave removes the caller from a session
func (h *SessionHandler) Leave(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.Leave")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	if err := h.manager.LeaveSession(ctx, c.Param("id"), userID); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// End ends a session
func (h *SessionHandler) End(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.End")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	if err := h.manager.EndSession(ctx, c.Param("id"), userID); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// ListChanges returns a session's change history, oldest first
func (h *SessionHandler) ListChanges(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.ListChanges")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	page, pageSize := parsePagination(c)
	items, total, err := h.changes.ListBySession(ctx, c.Param("id"), page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.ChangeListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// ListConflicts returns a session's conflict records
func (h *SessionHandler) ListConflicts(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SessionHandler.ListConflicts")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	page, pageSize := parsePagination(c)
	items, total, err := h.conflicts.ListBySession(ctx, c.Param("id"), page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.ConflictListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}
