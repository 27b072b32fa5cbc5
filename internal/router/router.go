package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-coding-session/internal/config"
	"github.com/noah-isme/gema-coding-session/internal/handler"
	"github.com/noah-isme/gema-coding-session/internal/middleware"
	"github.com/noah-isme/gema-coding-session/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	CodingSessionHandler    *handler.CodingSessionHandler
	ChallengeCatalogHandler *handler.ChallengeCatalogHandler
	JWTMiddleware           fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.CodingSessionHandler != nil {
		sessions := app.Group("/api/v2/coding-sessions", jwtMiddleware)
		deps.CodingSessionHandler.RegisterExecution(sessions, middleware.RateLimit("coding-execution", cfg.RunRateLimit, cfg.RunRateWindow))
		deps.CodingSessionHandler.Register(sessions)
	}

	if deps.ChallengeCatalogHandler != nil {
		catalog := app.Group("/api/v2/coding-tests", jwtMiddleware, middleware.StaffOnly())
		catalog.Use(middleware.RateLimit("coding-catalog", 10, time.Minute))
		deps.ChallengeCatalogHandler.Register(catalog)
	}
}
