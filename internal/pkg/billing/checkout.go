package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// CheckoutRequest is the input to a checkout for one enrollment.
type CheckoutRequest struct {
	UserID                   string
	Email                    string
	Name                     string
	HoursPerWeek             int
	TransferredHoursVerified int
	EnrollmentID             string
}

// Calculation is the schedule summary returned to the client.
type Calculation struct {
	SetupFee              float64 `json:"setupFee"`
	SetupFeeCents         int64   `json:"setupFeeCents"`
	WeeklyPayment         float64 `json:"weeklyPayment"`
	WeeklyPaymentCents    int64   `json:"weeklyPaymentCents"`
	WeeksRemaining        int     `json:"weeksRemaining"`
	HoursRemaining        int     `json:"hoursRemaining"`
	RemainingBalanceCents int64   `json:"remainingBalanceCents"`
	OverCollectionCents   int64   `json:"overCollectionCents"`
	FirstBillingDate      string  `json:"firstBillingDate"`
	BillingDay            string  `json:"billingDay"`
}

// BillingInfo describes when and how weekly payments are charged.
type BillingInfo struct {
	BillingDay  string `json:"billingDay"`
	BillingHour int    `json:"billingHour"`
	Timezone    string `json:"timezone"`
	ProgramSlug string `json:"programSlug"`
	Currency    string `json:"currency"`
}

// Preview is the side-effect free pricing response.
type Preview struct {
	Calculation Calculation `json:"calculation"`
	Billing     BillingInfo `json:"billing"`
}

// CheckoutResult is returned after a checkout session was created.
type CheckoutResult struct {
	SessionID          string      `json:"sessionId"`
	RedirectURL        string      `json:"redirectUrl"`
	Calculation        Calculation `json:"calculation"`
	PersistenceWarning bool        `json:"-"`
}

// CheckoutConfig holds the redirect targets of the hosted checkout page.
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutBuilder creates hosted checkout sessions for enrollments.
type CheckoutBuilder struct {
	repo     Repository
	provider PaymentsProvider
	pricing  Pricing
	config   CheckoutConfig
	now      func() time.Time
}

// NewCheckoutBuilder wires a builder with an injected provider and repository.
func NewCheckoutBuilder(repo Repository, provider PaymentsProvider, pricing Pricing, config CheckoutConfig) *CheckoutBuilder {
	return &CheckoutBuilder{repo: repo, provider: provider, pricing: pricing, config: config, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (b *CheckoutBuilder) WithClock(now func() time.Time) *CheckoutBuilder {
	b.now = now
	return b
}

// Preview computes the schedule and billing metadata without side effects.
func (b *CheckoutBuilder) Preview(now time.Time, hoursPerWeek, transferredHours int) (*Preview, error) {
	schedule, err := b.pricing.Compute(hoursPerWeek, transferredHours)
	if err != nil {
		return nil, err
	}
	anchor := NextBillingAnchor(now, b.pricing.Anchor)
	return &Preview{
		Calculation: b.calculation(schedule, anchor),
		Billing: BillingInfo{
			BillingDay:  b.pricing.Anchor.Weekday.String(),
			BillingHour: b.pricing.Anchor.Hour,
			Timezone:    b.pricing.Anchor.Location.String(),
			ProgramSlug: b.pricing.ProgramSlug,
			Currency:    b.pricing.Currency,
		},
	}, nil
}

// Build validates the request, resolves the billing customer and creates a
// subscription checkout session. Nothing is persisted when the provider call
// fails. Failing to persist the pending session afterwards is reported via
// PersistenceWarning and never fails the checkout.
func (b *CheckoutBuilder) Build(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, invalidInput("checkout.build", "user id is required")
	}
	schedule, err := b.pricing.Compute(req.HoursPerWeek, req.TransferredHoursVerified)
	if err != nil {
		return nil, err
	}
	anchor := NextBillingAnchor(b.now(), b.pricing.Anchor)

	customerID, err := b.resolveCustomer(ctx, req)
	if err != nil {
		return nil, err
	}

	meta := EnrollmentMetadata{
		Kind:               MetadataKindApprenticeship,
		UserID:             req.UserID,
		EnrollmentID:       req.EnrollmentID,
		ProgramSlug:        b.pricing.ProgramSlug,
		HoursPerWeek:       schedule.HoursPerWeek,
		TransferredHours:   schedule.TransferredHours,
		WeeklyPaymentCents: schedule.WeeklyPaymentCents,
		WeeksRemaining:     schedule.WeeksRemaining,
		SetupFeeCents:      schedule.SetupFeeCents,
		BillingAnchor:      anchor,
	}

	session, err := b.provider.CreateCheckoutSession(ctx, CheckoutSessionInput{
		CustomerID: customerID,
		Currency:   b.pricing.Currency,
		LineItems: []LineItem{
			{Name: "Apprenticeship setup fee", UnitAmountCent: schedule.SetupFeeCents, Quantity: 1},
			// 1 cent x quantity keeps a single reusable unit price for every schedule.
			{Name: "Apprenticeship weekly tuition", UnitAmountCent: 1, Quantity: schedule.WeeklyPaymentCents, Recurring: true},
		},
		BillingCycleAnchor: anchor,
		Metadata:           meta.ToMap(),
		SuccessURL:         b.config.SuccessURL,
		CancelURL:          b.config.CancelURL,
		IdempotencyKey:     checkoutIdempotencyKey(req, anchor),
	})
	if err != nil {
		return nil, err
	}

	result := &CheckoutResult{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		Calculation: b.calculation(schedule, anchor),
	}

	if err := b.persistPending(ctx, req, session, schedule, anchor); err != nil {
		log.Warnf("[Checkout] Failed to persist pending session %s: %v", session.ID, err)
		result.PersistenceWarning = true
	}
	return result, nil
}

func (b *CheckoutBuilder) resolveCustomer(ctx context.Context, req CheckoutRequest) (string, error) {
	provider := b.provider.Name()
	account, err := b.repo.GetBillingAccount(ctx, req.UserID, provider)
	if err == nil && account.ProviderCustomerID != "" {
		return account.ProviderCustomerID, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("load billing account: %w", err)
	}

	customerID, err := b.provider.CreateCustomer(ctx, CustomerInput{
		UserID:         req.UserID,
		Email:          req.Email,
		Name:           req.Name,
		IdempotencyKey: "customer:" + req.UserID,
	})
	if err != nil {
		return "", err
	}

	if err := b.repo.UpsertBillingAccount(ctx, &models.BillingAccount{
		UserID:             req.UserID,
		Provider:           provider,
		ProviderCustomerID: customerID,
		Email:              req.Email,
	}); err != nil {
		// The provider idempotency key returns the same customer next time.
		log.Warnf("[Checkout] Failed to store billing account for user %s: %v", req.UserID, err)
	}
	return customerID, nil
}

func (b *CheckoutBuilder) persistPending(ctx context.Context, req CheckoutRequest, session *CheckoutSession, schedule Schedule, anchor time.Time) error {
	snapshot, err := json.Marshal(schedule)
	if err != nil {
		return err
	}
	ps := &models.PaymentSession{
		Provider:           b.provider.Name(),
		ExternalSessionID:  session.ID,
		UserID:             req.UserID,
		EnrollmentID:       req.EnrollmentID,
		ProgramSlug:        b.pricing.ProgramSlug,
		Status:             models.PaymentSessionStatusPending,
		SetupFeeCents:      schedule.SetupFeeCents,
		WeeklyPaymentCents: schedule.WeeklyPaymentCents,
		WeeksRemaining:     schedule.WeeksRemaining,
		HoursPerWeek:       schedule.HoursPerWeek,
		TransferredHours:   schedule.TransferredHours,
		HoursRemaining:     schedule.HoursRemaining,
		AmountTotalCents:   session.AmountTotal,
		BillingAnchorAt:    anchor.UTC(),
		ScheduleSnapshot:   snapshot,
	}
	return b.repo.CreatePaymentSession(ctx, ps, "checkout created")
}

func (b *CheckoutBuilder) calculation(s Schedule, anchor time.Time) Calculation {
	return Calculation{
		SetupFee:              s.SetupFeeDollars(),
		SetupFeeCents:         s.SetupFeeCents,
		WeeklyPayment:         s.WeeklyPaymentDollars(),
		WeeklyPaymentCents:    s.WeeklyPaymentCents,
		WeeksRemaining:        s.WeeksRemaining,
		HoursRemaining:        s.HoursRemaining,
		RemainingBalanceCents: s.RemainingBalanceCents,
		OverCollectionCents:   s.OverCollectionCents,
		FirstBillingDate:      anchor.Format(time.RFC3339),
		BillingDay:            b.pricing.Anchor.Weekday.String(),
	}
}

// checkoutIdempotencyKey is stable for retries of the same logical checkout.
// The schedule inputs are always part of the key: the provider rejects a
// reused key whose parameters changed.
func checkoutIdempotencyKey(req CheckoutRequest, anchor time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d", req.HoursPerWeek, req.TransferredHoursVerified)))
	parts := []string{"checkout", req.UserID}
	if ref := strings.TrimSpace(req.EnrollmentID); ref != "" {
		parts = append(parts, ref)
	}
	parts = append(parts, hex.EncodeToString(sum[:8]), anchor.Format("2006-01-02"))
	return strings.Join(parts, ":")
}
