package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/teamhub-realtime/internal/config"
	"github.com/noah-isme/teamhub-realtime/internal/handler"
	"github.com/noah-isme/teamhub-realtime/internal/middleware"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
	Health              handler.HealthProbes
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg, deps.Health))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Health))

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", jwtMiddleware, middleware.RateLimit("chat", cfg.RateLimitMax, cfg.RateLimitWindow))
		deps.ChatHandler.Register(chat)
	}

	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware, middleware.RateLimit("notifications", cfg.RateLimitMax, cfg.RateLimitWindow))
		deps.NotificationHandler.Register(notifications)
	}
}
