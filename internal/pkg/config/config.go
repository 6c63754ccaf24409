package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	Env      string `envconfig:"APP_ENV" default:"prod"`
	HTTPAddr string `envconfig:"APP_ADDR" default:":4000"`
	BaseURL  string `envconfig:"PUBLIC_DOMAIN" default:"http://localhost:4000"`

	// DB
	DBHost     string `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort     string `envconfig:"DB_PORT" default:"3306"`
	DBUser     string `envconfig:"DB_USER" default:""`
	DBPassword string `envconfig:"DB_PASSWORD" default:""`
	DBName     string `envconfig:"DB_NAME" default:"enrollpay"`

	// Cache / queue
	CacheEnabled  bool   `envconfig:"CACHE_ENABLED" default:"true"`
	CacheHost     string `envconfig:"CACHE_HOST" default:"localhost"`
	CachePort     string `envconfig:"CACHE_PORT" default:"6379"`
	CachePassword string `envconfig:"CACHE_PASSWORD" default:""`
	WorkerCount   int    `envconfig:"JOBQUEUE_WORKERS" default:"3"`

	// Public endpoint rate limit per client IP
	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"60"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	// ProxyHeader carries the client IP, honored only from TRUSTED_PROXIES (IPs or CIDRs)
	ProxyHeader    string   `envconfig:"PROXY_HEADER" default:"X-Forwarded-For"`
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	// Payments provider
	StripeSecretKey     string        `envconfig:"STRIPE_SECRET_KEY" default:""`
	StripeWebhookSecret string        `envconfig:"STRIPE_WEBHOOK_SECRET" default:""`
	StripeMaxRetries    int64         `envconfig:"STRIPE_MAX_RETRIES" default:"2"`
	WebhookTolerance    time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	CheckoutSuccessURL  string        `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:4000/enroll/success?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelURL   string        `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:4000/enroll/cancel"`

	// Hosted auth
	JWTSecret string `envconfig:"AUTH_JWT_SECRET" default:""`
	JWTIssuer string `envconfig:"AUTH_JWT_ISSUER" default:""`

	// Program pricing, cents and hours
	ProgramSlug        string `envconfig:"PROGRAM_SLUG" default:"barber-apprenticeship"`
	TotalTuitionCents  int64  `envconfig:"PROGRAM_TUITION_CENTS" default:"498000"`
	SetupFeeCents      int64  `envconfig:"PROGRAM_SETUP_FEE_CENTS" default:"174300"`
	TotalHoursRequired int    `envconfig:"PROGRAM_TOTAL_HOURS" default:"2000"`
	MinHoursPerWeek    int    `envconfig:"PROGRAM_MIN_HOURS_PER_WEEK" default:"20"`
	MaxHoursPerWeek    int    `envconfig:"PROGRAM_MAX_HOURS_PER_WEEK" default:"50"`
	BillingWeekday     string `envconfig:"BILLING_WEEKDAY" default:"Friday"`
	BillingHour        int    `envconfig:"BILLING_HOUR" default:"10"`
	BillingTimezone    string `envconfig:"BILLING_TIMEZONE" default:"America/New_York"`

	// Mail
	SMTPHost     string `envconfig:"SMTP_HOST" default:""`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"no-reply@localhost"`
	SMTPFromName string `envconfig:"SMTP_FROM_NAME" default:"Enrollment"`

	// Alerts
	AMQPURL      string `envconfig:"AMQP_URL" default:""`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"enrollpay.events"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}

// IsDev reports whether the service runs in development mode.
func (c App) IsDev() bool {
	return c.Env == "dev"
}

// MySQLDSN builds the GORM MySQL data source name.
func (c App) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// CacheAddr is the host:port of the Redis-compatible cache.
func (c App) CacheAddr() string {
	return fmt.Sprintf("%s:%s", c.CacheHost, c.CachePort)
}

// ParseWeekday resolves a weekday name such as "Friday" or "fri".
func ParseWeekday(name string) (time.Weekday, error) {
	name = strings.TrimSpace(name)
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := d.String()
		if strings.EqualFold(name, full) || strings.EqualFold(name, full[:3]) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}

// Pricing builds the program pricing from configuration.
func (c App) Pricing() (billing.Pricing, error) {
	weekday, err := ParseWeekday(c.BillingWeekday)
	if err != nil {
		return billing.Pricing{}, err
	}
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		return billing.Pricing{}, fmt.Errorf("load billing timezone: %w", err)
	}

	p := billing.DefaultPricing()
	p.ProgramSlug = c.ProgramSlug
	p.TotalTuitionCents = c.TotalTuitionCents
	p.SetupFeeCents = c.SetupFeeCents
	p.TotalHoursRequired = c.TotalHoursRequired
	p.MinHoursPerWeek = c.MinHoursPerWeek
	p.MaxHoursPerWeek = c.MaxHoursPerWeek
	p.Anchor = billing.AnchorConfig{Weekday: weekday, Hour: c.BillingHour, Location: loc}
	if err := p.Validate(); err != nil {
		return billing.Pricing{}, fmt.Errorf("invalid pricing: %w", err)
	}
	return p, nil
}
