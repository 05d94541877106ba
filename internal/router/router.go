package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat-client/internal/config"
	"github.com/noah-isme/gema-chat-client/internal/handler"
	"github.com/noah-isme/gema-chat-client/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	State        handler.StateView
	ChatHandler  *handler.ChatHandler
	MediaHandler *handler.MediaHandler
	GatewayAuth  fiber.Handler
}

// Register wires the gateway routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.State))

	gatewayAuth := deps.GatewayAuth
	if gatewayAuth == nil {
		gatewayAuth = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", gatewayAuth)
		deps.ChatHandler.Register(chat)
	}

	if deps.MediaHandler != nil {
		media := api.Group("/media", gatewayAuth)
		deps.MediaHandler.Register(media)
	}
}
