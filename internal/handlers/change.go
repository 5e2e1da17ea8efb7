package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/broadcast"
	"github.com/Ramsey-B/fern/pkg/coordinator"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// ChangeHandler serves the HTTP change surface. The WebSocket path is the
// primary one; this exists for clients that batch offline edits.
type ChangeHandler struct {
	coordinator *coordinator.Coordinator
	sessions    repositories.SessionRepository
	changes     repositories.ChangeRepository
	broadcaster *broadcast.Broadcaster
	logger      ectologger.Logger
}

// NewChangeHandler creates a change handler
func NewChangeHandler(coord *coordinator.Coordinator, sessionRepo repositories.SessionRepository, changes repositories.ChangeRepository, broadcaster *broadcast.Broadcaster, logger ectologger.Logger) *ChangeHandler {
	return &ChangeHandler{
		coordinator: coord,
		sessions:    sessionRepo,
		changes:     changes,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Register registers the change routes
func (h *ChangeHandler) Register(g *echo.Group) {
	g.POST("/changes", h.Apply)
	g.GET("/changes/:id", h.Get)
}

// Apply applies one edit through the coordinator and fans the outcome out
func (h *ChangeHandler) Apply(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ChangeHandler.Apply")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.ApplyChangeRequest](c)
	if err != nil {
		return err
	}

	change, record, err := h.coordinator.ApplyChange(ctx, userID, req)
	if err != nil {
		return err
	}

	session, err := h.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return err
	}
	h.broadcaster.PublishChangeApplied(ctx, session, userID, change, record)
	if record != nil && change.ConflictResolution != nil && *change.ConflictResolution == models.ConflictResolutionRejected {
		h.broadcaster.PublishChangeRejected(ctx, userID, "superseded by a concurrent change")
	}

	return CreatedResponse(c, models.ApplyChangeResponse{Change: change, Conflict: record})
}

// Get returns one change
func (h *ChangeHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ChangeHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	change, err := h.changes.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, change)
}
