package controllers

import (
	"context"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/metrics/counter"
	"github.com/elevate-workforce/enrollpay/internal/pkg/provisioning"
	"github.com/elevate-workforce/enrollpay/internal/pkg/usercontext"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	webhookTimeout        = 30 * time.Second
	checkoutTimeout       = 20 * time.Second
)

// CheckoutRequest is the body of the checkout and preview endpoints.
type CheckoutRequest struct {
	HoursPerWeek             int    `json:"hoursPerWeek" validate:"required,min=1,max=168"`
	TransferredHoursVerified int    `json:"transferredHoursVerified" validate:"min=0"`
	EnrollmentID             string `json:"enrollmentId" validate:"omitempty,max=64"`
}

// BillingController serves checkout creation, pricing previews and the
// payments provider webhook.
type BillingController struct {
	checkout   *billing.CheckoutBuilder
	verifier   *billing.Verifier
	guard      *billing.Guard
	dispatcher provisioning.Dispatcher
	counters   *counter.Counters
	provider   string
	validate   *validator.Validate
	now        func() time.Time
}

// NewBillingController creates a billing controller. counters may be nil.
func NewBillingController(checkout *billing.CheckoutBuilder, verifier *billing.Verifier, guard *billing.Guard, dispatcher provisioning.Dispatcher, counters *counter.Counters) *BillingController {
	return &BillingController{
		checkout:   checkout,
		verifier:   verifier,
		guard:      guard,
		dispatcher: dispatcher,
		counters:   counters,
		provider:   models.BillingProviderStripe,
		validate:   validator.New(),
		now:        time.Now,
	}
}

func (bc *BillingController) parseRequest(c *fiber.Ctx) (*CheckoutRequest, error) {
	req := &CheckoutRequest{}
	if err := c.BodyParser(req); err != nil {
		return nil, billing.NewError(billing.KindInvalidInput, "checkout.request", err)
	}
	if err := bc.validate.Struct(req); err != nil {
		return nil, billing.NewError(billing.KindInvalidInput, "checkout.request", err)
	}
	return req, nil
}

// HandleCreateCheckout creates a hosted checkout session for the caller.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	req, err := bc.parseRequest(c)
	if err != nil {
		return errorResponse(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()

	result, err := bc.checkout.Build(ctx, billing.CheckoutRequest{
		UserID:                   userCtx.UserID,
		Email:                    userCtx.Email,
		Name:                     userCtx.Name,
		HoursPerWeek:             req.HoursPerWeek,
		TransferredHoursVerified: req.TransferredHoursVerified,
		EnrollmentID:             req.EnrollmentID,
	})
	if err != nil {
		log.Warnf("[Checkout] Checkout for user %s failed: %v", userCtx.UserID, err)
		return errorResponse(c, err)
	}
	if result.PersistenceWarning {
		c.Set("X-Persistence-Warning", "pending session not stored")
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandlePricingPreview returns the schedule for the given hours without any
// side effects.
func (bc *BillingController) HandlePricingPreview(c *fiber.Ctx) error {
	req, err := bc.parseRequest(c)
	if err != nil {
		return errorResponse(c, err)
	}
	preview, err := bc.checkout.Preview(bc.now(), req.HoursPerWeek, req.TransferredHoursVerified)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(preview)
}

// HandleStripeWebhook verifies, claims and dispatches one webhook delivery.
// Nothing outside the ledger is touched before the claim is won.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	bc.count(ctx, counter.WebhookReceived)

	ev, err := bc.verifier.Verify(rawBody, c.Get(stripeSignatureHeader))
	if err != nil {
		if billing.KindOf(err) == billing.KindSignatureInvalid {
			bc.count(ctx, counter.WebhookSignatureInvalid)
			log.Warnf("[Webhook] Rejected delivery: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		bc.count(ctx, counter.WebhookInvalidPayload)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	claim, err := bc.guard.Claim(ctx, billing.ClaimInput{
		Provider:  bc.provider,
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   ev.Raw,
	})
	if err != nil {
		if billing.KindOf(err) == billing.KindInvalidInput {
			bc.count(ctx, counter.WebhookInvalidPayload)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		log.Errorf("[Webhook] Failed to claim event %s: %v", ev.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !claim.Acquired {
		if claim.Reason == billing.ClaimInProgress {
			bc.count(ctx, counter.WebhookInProgress)
		} else {
			bc.count(ctx, counter.WebhookDuplicate)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	}

	if err := bc.dispatcher.Dispatch(ctx, claim.Event); err != nil {
		bc.count(ctx, counter.WebhookDispatchFailed)
		log.Errorf("[Webhook] Failed to dispatch event %s (%s): %v", ev.ID, ev.Type, err)
		// Inline processing already recorded the failure.
		if claim.Event.Outcome == models.EventOutcomeProcessing {
			if rerr := bc.guard.Release(ctx, claim.Event, err); rerr != nil {
				log.Errorf("[Webhook] Failed to release event %s: %v", ev.ID, rerr)
			}
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	bc.count(ctx, counter.WebhookAccepted)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// HandleWebhookStats reports delivery counters and the ledger outcome
// counts. ?reset=true drains the delivery counters.
func (bc *BillingController) HandleWebhookStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		deliveries map[string]int64
		err        error
	)
	if c.QueryBool("reset") {
		deliveries, err = bc.counters.Drain(ctx)
	} else {
		deliveries, err = bc.counters.Snapshot(ctx)
	}
	if err != nil {
		log.Errorf("[Webhook] Failed to read counters: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}

	events, err := bc.guard.Stats(ctx)
	if err != nil {
		log.Errorf("[Webhook] Failed to count events: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deliveries": deliveries,
		"events":     events,
	})
}

func (bc *BillingController) count(ctx context.Context, outcome string) {
	if err := bc.counters.Add(ctx, outcome); err != nil {
		log.Warnf("[Webhook] Failed to count %s: %v", outcome, err)
	}
}
