package router

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/config"
	"github.com/petmerch/api/internal/handler"
	"github.com/petmerch/api/internal/middleware"
	"github.com/petmerch/api/pkg/response"
)

// Deps are the handlers and middleware the HTTP surface is built from
type Deps struct {
	Config   *config.Config
	Log      zerolog.Logger
	Auth     *middleware.AuthMiddleware
	Limiter  *middleware.RateLimiter
	Health   *handler.HealthHandler
	Catalog  *handler.CatalogHandler
	Designs  *handler.DesignHandler
	Webhooks *handler.WebhookHandler
	Checkout *handler.CheckoutHandler
}

// New builds the fiber app with every route registered
func New(d Deps) *fiber.App {
	cfg := d.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(d.Log),
		BodyLimit:             cfg.Upload.MaxFiles*int(cfg.Upload.MaxFileSize) + 1024*1024,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New(recover.Config{EnableStackTrace: cfg.Server.Env == "development"}))
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(d.Log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", d.Health.Root)
	app.Get("/health", d.Health.Health)

	// The generation backend authenticates with the webhook secret, not a user
	// token, so these routes sit ahead of the /api auth middleware.
	app.Get("/api/webhooks/runpod", d.Webhooks.Verify)
	app.Post("/api/webhooks/runpod", d.Webhooks.Receive)

	api := app.Group("/api", d.Auth.Authenticate())

	api.Get("/config", d.Catalog.Config)
	api.Get("/styles", d.Catalog.Styles)
	api.Get("/products", d.Catalog.Products)

	// Design routes
	api.Post("/designs", d.Limiter.DesignLimit(cfg.RateLimit.DesignsPerHour), d.Designs.Submit)
	api.Get("/designs/:designId", d.Designs.Status)

	// Checkout routes
	co := api.Group("/checkout")
	co.Post("/", d.Checkout.Create)
	co.Get("/:sessionId", d.Checkout.Get)
	co.Post("/:sessionId/continue", d.Checkout.Continue)
	co.Post("/:sessionId/back", d.Checkout.Back)
	co.Put("/:sessionId/shipping", d.Checkout.Shipping)
	co.Put("/:sessionId/payment-method", d.Checkout.PaymentMethod)
	co.Put("/:sessionId/terms", d.Checkout.Terms)
	co.Post("/:sessionId/pay", d.Limiter.PaymentLimit(cfg.RateLimit.PaymentsPerHour), d.Checkout.Pay)

	// WebSocket routes
	app.Get("/ws/designs/:designId", d.Designs.Upgrade, d.Designs.Stream())

	return app
}

// ErrorHandler renders errors that escaped the handlers in the API error shape
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}

		errCode := response.CodeServiceError
		switch code {
		case fiber.StatusNotFound:
			errCode = response.CodeNotFound
		case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest:
			errCode = response.CodeValidationError
		case fiber.StatusUnauthorized:
			errCode = response.CodeUnauthorized
		case fiber.StatusForbidden:
			errCode = response.CodeForbidden
		case fiber.StatusUpgradeRequired:
			errCode = response.CodeValidationError
		}

		return response.Error(c, code, errCode, message, nil)
	}
}
