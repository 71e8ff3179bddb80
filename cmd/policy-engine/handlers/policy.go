// Package handlers holds the echo request handlers for the policy-engine
// HTTP surface.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/clearchain/policy-engine/cmd/policy-engine/service"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/labstack/echo/v4"
)

// PolicyHandler handles definition validation and publishing
type PolicyHandler struct {
	instances *service.InstanceService
	log       *logger.Logger
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(instances *service.InstanceService, log *logger.Logger) *PolicyHandler {
	return &PolicyHandler{instances: instances, log: log}
}

// ValidateDefinition checks a definition without publishing it
// POST /api/v1/policies/validate
func (h *PolicyHandler) ValidateDefinition(c echo.Context) error {
	definition, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	reports, err := h.instances.Validate(c.Request().Context(), definition)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":   len(reports) == 0,
		"reports": reports,
	})
}

// PublishPolicy validates a definition and starts a live instance
// POST /api/v1/policies
func (h *PolicyHandler) PublishPolicy(c echo.Context) error {
	definition, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	instanceID, err := h.instances.Publish(c.Request().Context(), definition)
	if err != nil {
		var validationErr *enginerrors.ValidationError
		if errors.As(err, &validationErr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"valid":   false,
				"reports": validationErr.Reports,
			})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"instance_id": instanceID,
	})
}

// RegisterSchema declares a document schema ref as known
// POST /api/v1/schemas
func (h *PolicyHandler) RegisterSchema(c echo.Context) error {
	var req struct {
		Ref string `json:"ref"`
	}
	if err := c.Bind(&req); err != nil || req.Ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ref is required")
	}

	h.instances.RegisterSchema(req.Ref)
	return c.JSON(http.StatusCreated, map[string]string{"ref": req.Ref})
}

// RegisterTokenTemplate declares a token template as known
// POST /api/v1/tokens
func (h *PolicyHandler) RegisterTokenTemplate(c echo.Context) error {
	var req struct {
		TemplateID string `json:"template_id"`
	}
	if err := c.Bind(&req); err != nil || req.TemplateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "template_id is required")
	}

	h.instances.RegisterTokenTemplate(req.TemplateID)
	return c.JSON(http.StatusCreated, map[string]string{"template_id": req.TemplateID})
}
