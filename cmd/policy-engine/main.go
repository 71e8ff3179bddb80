package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/clearchain/policy-engine/cmd/policy-engine/container"
	"github.com/clearchain/policy-engine/cmd/policy-engine/routes"
	"github.com/clearchain/policy-engine/common/bootstrap"
	"github.com/clearchain/policy-engine/common/db"
	"github.com/clearchain/policy-engine/common/server"
	"github.com/clearchain/policy-engine/store"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "policy-engine",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return store.InitSchema(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap policy-engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	srv := server.New("policy-engine", components.Config.Service.Port, e, components.Logger)
	srv.OnShutdown(func(ctx context.Context) {
		serviceContainer.Shutdown(ctx)
	})

	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "policy-engine",
		})
	})
}

func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterPolicyRoutes(e, serviceContainer)
	routes.RegisterInstanceRoutes(e, serviceContainer)
	routes.RegisterBackupRoutes(e, serviceContainer)
}
