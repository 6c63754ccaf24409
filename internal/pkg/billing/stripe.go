package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/charge"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/subscription"
)

// StripeConfig holds the credentials for the Stripe provider.
type StripeConfig struct {
	SecretKey  string
	MaxRetries int64
}

// StripeProvider implements PaymentsProvider on top of stripe-go.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider configures the Stripe SDK and returns a provider.
// The SDK key is process-global; one provider per process is expected.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if strings.TrimSpace(config.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = config.SecretKey
	if config.MaxRetries > 0 {
		stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(config.MaxRetries),
		}))
	}
	return &StripeProvider{config: config}, nil
}

func (s *StripeProvider) Name() string { return "stripe" }

func (s *StripeProvider) CreateCustomer(ctx context.Context, in CustomerInput) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
	}
	params.Context = ctx
	if in.Name != "" {
		params.Name = stripe.String(in.Name)
	}
	params.AddMetadata("user_id", in.UserID)
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}

	c, err := customer.New(params)
	if err != nil {
		return "", providerError("stripe.customer.create", wrapStripeError(err))
	}
	return c.ID, nil
}

func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(in.CustomerID),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		Metadata:   in.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			BillingCycleAnchor: stripe.Int64(in.BillingCycleAnchor.Unix()),
			ProrationBehavior:  stripe.String("none"),
			Metadata:           in.Metadata,
		},
	}
	params.Context = ctx

	for _, item := range in.LineItems {
		priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(in.Currency),
			UnitAmount: stripe.Int64(item.UnitAmountCent),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(item.Name),
			},
		}
		if item.Recurring {
			priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripe.String("week"),
			}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: priceData,
			Quantity:  stripe.Int64(item.Quantity),
		})
	}
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(in.IdempotencyKey)
	}

	cs, err := session.New(params)
	if err != nil {
		return nil, providerError("stripe.checkout.create", wrapStripeError(err))
	}
	return &CheckoutSession{ID: cs.ID, RedirectURL: cs.URL, AmountTotal: cs.AmountTotal}, nil
}

func (s *StripeProvider) ChargeCustomer(ctx context.Context, chargeID string) (string, string, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := charge.Get(chargeID, params)
	if err != nil {
		return "", "", providerError("stripe.charge.get", wrapStripeError(err))
	}
	var customerID, paymentIntentID string
	if ch.Customer != nil {
		customerID = ch.Customer.ID
	}
	if ch.PaymentIntent != nil {
		paymentIntentID = ch.PaymentIntent.ID
	}
	return customerID, paymentIntentID, nil
}

func (s *StripeProvider) SetSubscriptionEnd(ctx context.Context, subscriptionID string, cancelAt time.Time) error {
	params := &stripe.SubscriptionParams{
		CancelAt:          stripe.Int64(cancelAt.Unix()),
		ProrationBehavior: stripe.String("none"),
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return providerError("stripe.subscription.update", wrapStripeError(err))
	}
	return nil
}

func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	return fmt.Errorf("stripe %s (status %d, request %s): %s",
		stripeErr.Code, stripeErr.HTTPStatusCode, stripeErr.RequestID, stripeErr.Msg)
}
