package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-forum/internal/config"
	"github.com/noah-isme/gema-forum/internal/handler"
	"github.com/noah-isme/gema-forum/internal/middleware"
	"github.com/noah-isme/gema-forum/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RealtimeHandler  *handler.RealtimeHandler
	ForumHandler     *handler.ForumHandler
	AssistantHandler *handler.AssistantHandler
	HealthProbes     map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())
	app.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	forum := app.Group("/api/v2/forum", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})

	// The socket is registered first: browsers pass the token as a query parameter and
	// the upgrade handler never falls through to the REST middleware below.
	if deps.RealtimeHandler != nil {
		socket := forum.Group("/ws", middleware.JWT(middleware.JWTConfig{
			Secret:     cfg.JWTSecret,
			QueryParam: "token",
			Optional:   cfg.AllowAnonymousSocket,
		}))
		deps.RealtimeHandler.RegisterSocket(socket)
	}

	// Reads are public when anonymous access is enabled; writes still need an identity.
	rest := forum.Group("", middleware.JWT(middleware.JWTConfig{
		Secret:   cfg.JWTSecret,
		Optional: cfg.AllowAnonymousSocket,
	}))

	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.RegisterHistory(rest)
	}
	if deps.ForumHandler != nil {
		deps.ForumHandler.Register(rest)
	}
	if deps.AssistantHandler != nil {
		deps.AssistantHandler.Register(rest, middleware.RateLimit("assistant", cfg.AssistantRateLimit, cfg.AssistantRateWindow))
	}
}
