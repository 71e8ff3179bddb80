package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/clearchain/policy-engine/cmd/policy-engine/service"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/clearchain/policy-engine/common/models"
	"github.com/clearchain/policy-engine/engine/block"
	"github.com/clearchain/policy-engine/engine/docs"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// InstanceHandler handles live-instance requests: event intake, document
// queries, and archival.
type InstanceHandler struct {
	instances *service.InstanceService
	docs      *docs.Service
	log       *logger.Logger
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(instances *service.InstanceService, docSvc *docs.Service, log *logger.Logger) *InstanceHandler {
	return &InstanceHandler{instances: instances, docs: docSvc, log: log}
}

type eventRequest struct {
	UserID  string                 `json:"user_id"`
	Roles   []models.Role          `json:"roles"`
	BlockID uuid.UUID              `json:"block_id"`
	Type    models.EventType       `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// SubmitEvent delivers one event into an instance and waits for the
// dispatch to complete
// POST /api/v1/instances/:id/events
func (h *InstanceHandler) SubmitEvent(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if req.UserID == "" || req.BlockID == uuid.Nil || req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id, block_id, and type are required")
	}

	user := block.User{ID: req.UserID, Roles: req.Roles}
	err = h.instances.Emit(c.Request().Context(), instanceID, user, req.BlockID, req.Type, req.Payload)
	if err != nil {
		return mapEngineError(err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "dispatched"})
}

// GetDocuments returns one user's document slice with pagination
// GET /api/v1/instances/:id/documents?owner=alice&page=1&size=20
func (h *InstanceHandler) GetDocuments(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	owner := c.QueryParam("owner")
	if owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	documents, total, err := h.docs.Page(c.Request().Context(), instanceID, owner, page, size)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"documents": documents,
		"total":     total,
		"page":      page,
		"size":      size,
	})
}

// ArchiveInstance stops an instance and destroys its execution state
// POST /api/v1/instances/:id/archive
func (h *InstanceHandler) ArchiveInstance(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	if err := h.instances.Archive(c.Request().Context(), instanceID); err != nil {
		return mapEngineError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "archived"})
}

// mapEngineError translates engine sentinels into HTTP errors
func mapEngineError(err error) error {
	switch {
	case errors.Is(err, service.ErrInstanceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "instance not found")
	case errors.Is(err, enginerrors.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, enginerrors.ErrUnsupportedEvent),
		errors.Is(err, enginerrors.ErrInvalidStatusTransition),
		errors.Is(err, enginerrors.ErrInvalidStepTarget):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, enginerrors.ErrUnknownBlockType):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
