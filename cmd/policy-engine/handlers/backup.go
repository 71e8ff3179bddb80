package handlers

import (
	"errors"
	"net/http"

	"github.com/clearchain/policy-engine/cmd/policy-engine/service"
	enginerrors "github.com/clearchain/policy-engine/common/errors"
	"github.com/clearchain/policy-engine/common/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// BackupHandler handles backup cycles, chain inspection, and restores
type BackupHandler struct {
	backups *service.BackupService
	log     *logger.Logger
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(backups *service.BackupService, log *logger.Logger) *BackupHandler {
	return &BackupHandler{backups: backups, log: log}
}

// RunBackup executes one backup cycle for an instance
// POST /api/v1/instances/:id/backup
func (h *BackupHandler) RunBackup(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	report, err := h.backups.RunCycle(c.Request().Context(), instanceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, report)
}

// GetChain returns a collection's ordered diff action log
// GET /api/v1/instances/:id/chain/:collection
func (h *BackupHandler) GetChain(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	actions, err := h.backups.Chain(c.Request().Context(), instanceID, c.Param("collection"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"actions": actions,
		"length":  len(actions),
	})
}

// VerifyChain recomputes a collection's hash chain
// GET /api/v1/instances/:id/chain/:collection/verify
func (h *BackupHandler) VerifyChain(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	if err := h.backups.VerifyChain(c.Request().Context(), instanceID, c.Param("collection")); err != nil {
		if errors.Is(err, enginerrors.ErrHashMismatch) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"valid": false,
				"error": err.Error(),
			})
		}
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true})
}

// Restore verifies and replays a collection's diff log
// POST /api/v1/instances/:id/restore
func (h *BackupHandler) Restore(c echo.Context) error {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid instance id")
	}

	var req struct {
		Collection string `json:"collection"`
	}
	if err := c.Bind(&req); err != nil || req.Collection == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection is required")
	}

	report, err := h.backups.Restore(c.Request().Context(), instanceID, req.Collection)
	if err != nil {
		if errors.Is(err, enginerrors.ErrHashMismatch) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	status := http.StatusOK
	if len(report.Failed) > 0 {
		// Partial success still returns the report
		status = http.StatusMultiStatus
	}
	return c.JSON(status, report)
}
