package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// VersionHandler serves the entity version history
type VersionHandler struct {
	versions repositories.VersionRepository
	logger   ectologger.Logger
}

// NewVersionHandler creates a version handler
func NewVersionHandler(versions repositories.VersionRepository, logger ectologger.Logger) *VersionHandler {
	return &VersionHandler{
		versions: versions,
		logger:   logger,
	}
}

// Register registers the version routes
func (h *VersionHandler) Register(g *echo.Group) {
	g.GET("/entities/:entityType/:entityId/versions", h.List)
	g.GET("/entities/:entityType/:entityId/versions/latest", h.Latest)
	g.GET("/entities/:entityType/:entityId/versions/:version", h.Get)
}

// List returns an entity's versions, newest first
func (h *VersionHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "VersionHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	page, pageSize := parsePagination(c)
	items, total, err := h.versions.List(ctx, c.Param("entityType"), c.Param("entityId"), page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, models.VersionListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// Latest returns the entity's most recent version
func (h *VersionHandler) Latest(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "VersionHandler.Latest")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	version, err := h.versions.GetLatest(ctx, c.Param("entityType"), c.Param("entityId"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, version)
}

// Get returns one specific version
func (h *VersionHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "VersionHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	number, err := strconv.Atoi(c.Param("version"))
	if err != nil || number < 0 {
		return BadRequest("version must be a non-negative integer")
	}

	version, err := h.versions.GetByVersion(ctx, c.Param("entityType"), c.Param("entityId"), number)
	if err != nil {
		return err
	}
	return SuccessResponse(c, version)
}
