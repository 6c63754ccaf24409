package router

import (
	"time"

	"github.com/elevate-workforce/enrollpay/app/controllers"
	"github.com/elevate-workforce/enrollpay/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	limited := h.publicLimiter()
	requireAuth := middleware.RequireJWT(h.deps.JWT)
	billing := h.deps.Billing

	v1.Post("/pricing/apprenticeship/preview", limited, billing.HandlePricingPreview)
	v1.Post("/checkout/apprenticeship", limited, requireAuth, billing.HandleCreateCheckout)

	// signature authenticated, not rate limited
	v1.Post("/webhooks/stripe", billing.HandleStripeWebhook)
	v1.Get("/webhooks/stats", requireAuth, middleware.RequireAdmin, billing.HandleWebhookStats)
}

func (h ApiRouter) publicLimiter() fiber.Handler {
	limit := h.deps.RateLimitMax
	if limit <= 0 {
		limit = 60
	}
	window := h.deps.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:          limit,
		Expiration:   window,
		KeyGenerator: controllers.ClientIP,
		Storage:      h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
