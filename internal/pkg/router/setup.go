package router

import (
	"time"

	"github.com/elevate-workforce/enrollpay/app/controllers"
	"github.com/elevate-workforce/enrollpay/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routes are bound to.
type Dependencies struct {
	Billing *controllers.BillingController
	JWT     middleware.JWTConfig

	// LimiterStorage keeps rate limit counters; nil keeps them in memory.
	LimiterStorage  fiber.Storage
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// TrustProxies makes c.IP() read the client address from header, for
// requests arriving from one of proxies only. Without proxies the header is
// never honored.
func TrustProxies(cfg fiber.Config, header string, proxies []string) fiber.Config {
	if header == "" || len(proxies) == 0 {
		return cfg
	}
	cfg.ProxyHeader = header
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = proxies
	cfg.EnableIPValidation = true
	return cfg
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHealthRouter(), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

type HealthRouter struct {
}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", controllers.HandleHealth)
}

func NewHealthRouter() *HealthRouter {
	return &HealthRouter{}
}
