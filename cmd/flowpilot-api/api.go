// Package main provides the Flowpilot API server implementation.
package main

import (
	"log/slog"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/services"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    registry.Registry
	planner     services.FlowPlanner
	driver      services.FlowDriver
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry registry.Registry,
	planner services.FlowPlanner,
	driver services.FlowDriver,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		planner:     planner,
		driver:      driver,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlow(a.logger, a.persistence, a.planner, a.driver)
	capabilityService := services.NewCapability(a.registry)

	handlers := web.NewAPIHandlers(flowService, capabilityService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowpilot API")
	})

	handlers.Register(app)

	return app
}
