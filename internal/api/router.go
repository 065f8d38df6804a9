package api

import (
	"chatwiki/docs"
	"chatwiki/internal/api/handlers"
	"chatwiki/pkg/auth"
	"chatwiki/pkg/config"
	"chatwiki/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"go.uber.org/zap"
)

type Handlers struct {
	Messages    *handlers.MessageHandler
	Knowledge   *handlers.KnowledgeHandler
	DeadLetters *handlers.DeadLetterHandler
	Health      *handlers.HealthHandler
}

func SetupRouter(h Handlers, serverCfg *config.ServerConfig, jwtManager *auth.JWTManager, appLogger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "chatwiki",
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code == fiber.StatusInternalServerError {
				appLogger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
				return c.Status(code).JSON(fiber.Map{
					"error": "Internal server error",
				})
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(logger.New())

	// Importing docs registers the generated spec with swag.
	_ = docs.SwaggerInfo
	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", h.Health.Health)

	// Protected routes
	protected := app.Group("/api/v1", middleware.AuthMiddleware(jwtManager, appLogger))

	protected.Post("/messages", h.Messages.Enqueue)
	protected.Get("/entries/:topic", h.Knowledge.GetEntry)
	protected.Get("/units/:unit_id", h.Knowledge.GetOutcome)
	protected.Get("/stats", h.Knowledge.Stats)

	deadLetters := protected.Group("/dead-letters")
	deadLetters.Get("", h.DeadLetters.List)
	deadLetters.Post("/:id/retry", h.DeadLetters.Retry)

	return app
}
