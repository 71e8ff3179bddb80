// Package routes binds the policy-engine handlers to their paths.
package routes

import (
	"github.com/clearchain/policy-engine/cmd/policy-engine/container"
	"github.com/clearchain/policy-engine/cmd/policy-engine/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterPolicyRoutes registers definition validation and publishing
func RegisterPolicyRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPolicyHandler(c.Instances, c.Components.Logger)

	api := e.Group("/api/v1")
	api.POST("/policies/validate", h.ValidateDefinition)
	api.POST("/policies", h.PublishPolicy)
	api.POST("/schemas", h.RegisterSchema)
	api.POST("/tokens", h.RegisterTokenTemplate)
}

// RegisterInstanceRoutes registers event intake, document queries, and
// archival
func RegisterInstanceRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewInstanceHandler(c.Instances, c.Docs, c.Components.Logger)

	api := e.Group("/api/v1/instances")
	api.POST("/:id/events", h.SubmitEvent)
	api.GET("/:id/documents", h.GetDocuments)
	api.POST("/:id/archive", h.ArchiveInstance)
}

// RegisterBackupRoutes registers backup cycles, chain inspection, and
// restores
func RegisterBackupRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewBackupHandler(c.Backups, c.Components.Logger)

	api := e.Group("/api/v1/instances")
	api.POST("/:id/backup", h.RunBackup)
	api.GET("/:id/chain/:collection", h.GetChain)
	api.GET("/:id/chain/:collection/verify", h.VerifyChain)
	api.POST("/:id/restore", h.Restore)
}
