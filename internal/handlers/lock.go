package handlers

import (
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/broadcast"
	"github.com/Ramsey-B/fern/pkg/locks"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// LockHandler serves lock acquisition, release, and inspection
type LockHandler struct {
	registry    *locks.Registry
	broadcaster *broadcast.Broadcaster
	logger      ectologger.Logger
}

// NewLockHandler creates a lock handler
func NewLockHandler(registry *locks.Registry, broadcaster *broadcast.Broadcaster, logger ectologger.Logger) *LockHandler {
	return &LockHandler{
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Register registers the lock routes
func (h *LockHandler) Register(g *echo.Group) {
	g.POST("/locks", h.Acquire)
	g.DELETE("/locks/:id", h.Release)
	g.GET("/locks", h.List)
}

// Acquire attempts to take a lock. A denial is a normal outcome: the response
// carries the holder's identity with a 409 status, not an error body.
func (h *LockHandler) Acquire(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "LockHandler.Acquire")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[models.AcquireLockRequest](c)
	if err != nil {
		return err
	}

	lock, denial, err := h.registry.AcquireLock(ctx, userID, req)
	if err != nil {
		return err
	}
	if denial != nil {
		return c.JSON(http.StatusConflict, models.AcquireLockResponse{Denial: denial})
	}

	h.broadcaster.PublishLockEvent(ctx, "lock.acquired", lock)
	return CreatedResponse(c, models.AcquireLockResponse{Lock: lock})
}

// Release releases a lock held by the caller
func (h *LockHandler) Release(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "LockHandler.Release")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	if err := h.registry.ReleaseLock(ctx, c.Param("id"), userID); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// List returns the active locks on an entity
func (h *LockHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "LockHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	entityType := c.QueryParam("entity_type")
	entityID := c.QueryParam("entity_id")
	if entityType == "" || entityID == "" {
		return BadRequest("entity_type and entity_id are required")
	}

	items, err := h.registry.GetLocks(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, models.LockListResponse{Items: items})
}
