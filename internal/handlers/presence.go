package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/presence"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// PresenceHandler serves the read and update surface for presence. Live
// updates flow over the WebSocket; this exists for dashboards and initial
// page loads.
type PresenceHandler struct {
	tracker *presence.Tracker
	logger  ectologger.Logger
}

// NewPresenceHandler creates a presence handler
func NewPresenceHandler(tracker *presence.Tracker, logger ectologger.Logger) *PresenceHandler {
	return &PresenceHandler{
		tracker: tracker,
		logger:  logger,
	}
}

// Register registers the presence routes
func (h *PresenceHandler) Register(g *echo.Group) {
	g.GET("/presence", h.List)
	g.PUT("/presence", h.Update)
}

// List returns online users, optionally filtered to one entity
func (h *PresenceHandler) List(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "PresenceHandler.List")
	defer span.End()

	items := h.tracker.GetOnlineUsers(c.QueryParam("entity_type"), c.QueryParam("entity_id"))
	return SuccessResponse(c, models.PresenceListResponse{Items: items})
}

// Update changes the caller's availability status
func (h *PresenceHandler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "PresenceHandler.Update")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.UpdatePresenceRequest](c)
	if err != nil {
		return err
	}

	h.tracker.UpdateStatus(ctx, userID, req.Status, req.StatusMessage)

	p, ok := h.tracker.Get(userID)
	if !ok {
		return NoContentResponse(c)
	}
	return SuccessResponse(c, p)
}
