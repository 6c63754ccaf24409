package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/elevate-workforce/enrollpay/app/controllers"
	"github.com/elevate-workforce/enrollpay/app/repository"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/cache"
	"github.com/elevate-workforce/enrollpay/internal/pkg/config"
	"github.com/elevate-workforce/enrollpay/internal/pkg/database"
	"github.com/elevate-workforce/enrollpay/internal/pkg/env"
	"github.com/elevate-workforce/enrollpay/internal/pkg/jobqueue"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mail"
	"github.com/elevate-workforce/enrollpay/internal/pkg/metrics/counter"
	"github.com/elevate-workforce/enrollpay/internal/pkg/middleware"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mq"
	"github.com/elevate-workforce/enrollpay/internal/pkg/provisioning"
	"github.com/elevate-workforce/enrollpay/internal/pkg/router"
)

// Application is the wired service with everything that needs a shutdown.
type Application struct {
	App       *fiber.App
	Addr      string
	manager   *jobqueue.Manager
	publisher *mq.Publisher
	cache     *redis.Client
}

func main() {
	application, err := NewApplication()
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	go func() {
		if err := application.App.Listen(application.Addr); err != nil {
			log.Fatalf("[Main] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	application.Shutdown()
}

func NewApplication() (*Application, error) {
	if err := env.SetupEnvFile(); err != nil {
		log.Warnf("[Main] %v, using process environment", err)
	}
	env.Export()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pricing, err := cfg.Pricing()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if cfg.IsDev() {
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	repos := repository.NewFactory(db).GetRepositories()

	provider, err := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:  cfg.StripeSecretKey,
		MaxRetries: cfg.StripeMaxRetries,
	})
	if err != nil {
		return nil, err
	}

	application := &Application{Addr: cfg.HTTPAddr}

	// alerts
	var publisher provisioning.Publisher = mq.LogPublisher{}
	if cfg.AMQPURL != "" {
		p, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Warnf("[Main] RabbitMQ unavailable, alerts go to the log: %v", err)
		} else {
			application.publisher = p
			publisher = p
		}
	}

	// welcome email
	var mailer provisioning.Mailer = mail.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	}

	pipeline := provisioning.NewPipeline(repos, provider, mailer, publisher, provisioning.Config{
		Provider:          provider.Name(),
		Pricing:           pricing,
		ActivationBaseURL: cfg.BaseURL + "/activate/",
	})
	guard := billing.NewGuard(repos.Billing)
	processor := provisioning.NewProcessor(guard, pipeline)

	// dispatch through the Redis job queue when the cache is available
	var (
		dispatcher     provisioning.Dispatcher = provisioning.NewInlineDispatcher(processor)
		limiterStorage fiber.Storage
		counters       *counter.Counters
	)
	if cfg.CacheEnabled {
		client, err := cache.NewClient(cfg.CacheAddr(), cfg.CachePassword)
		if err != nil {
			log.Warnf("[Main] Cache unavailable, processing webhooks inline: %v", err)
			_ = client.Close()
		} else {
			application.cache = client
			queue := jobqueue.NewQueue(client, jobqueue.Options{Workers: cfg.WorkerCount})
			queued := provisioning.NewQueueDispatcher(queue, processor)
			dispatcher = queued
			redriver := provisioning.NewRedriver(guard, queued, provisioning.RedriveOptions{})
			application.manager = jobqueue.NewManager(queue, redriver, 5*time.Minute)
			application.manager.Start()

			limiterStorage = cache.NewStorage(client, 1)
			counters = counter.New(client)
		}
	}

	billingController := controllers.NewBillingController(
		billing.NewCheckoutBuilder(repos.Billing, provider, pricing, billing.CheckoutConfig{
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
		}),
		&billing.Verifier{Secret: cfg.StripeWebhookSecret, Tolerance: cfg.WebhookTolerance, Now: time.Now},
		guard,
		dispatcher,
		counters,
	)

	// init fiber app
	app := fiber.New(router.TrustProxies(fiber.Config{
		BodyLimit: 1 << 20,
	}, cfg.ProxyHeader, cfg.TrustedProxies))

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:         billingController,
		JWT:             middleware.JWTConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		LimiterStorage:  limiterStorage,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	})

	application.App = app
	return application, nil
}

// Shutdown stops accepting requests, drains the workers and closes
// connections.
func (a *Application) Shutdown() {
	if err := a.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
	if a.manager != nil {
		a.manager.Stop()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

func findOpenAPISpec() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/enrollpay to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		candidate := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	log.Warn("[Main] OpenAPI description not found, /docs/api disabled")
	return ""
}
