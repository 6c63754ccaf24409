package billing

import (
	"context"
	"time"
)

// CustomerInput describes a billing customer to create at the provider.
type CustomerInput struct {
	UserID         string
	Email          string
	Name           string
	IdempotencyKey string
}

// LineItem is one line of a hosted checkout. Recurring items bill weekly.
type LineItem struct {
	Name           string
	UnitAmountCent int64
	Quantity       int64
	Recurring      bool
}

// CheckoutSessionInput is the provider-neutral checkout request.
type CheckoutSessionInput struct {
	CustomerID         string
	Currency           string
	LineItems          []LineItem
	BillingCycleAnchor time.Time
	Metadata           map[string]string
	SuccessURL         string
	CancelURL          string
	IdempotencyKey     string
}

// CheckoutSession is what the provider returns for a created checkout.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	AmountTotal int64
}

// PaymentsProvider is the narrow surface of the external payments provider
// used by checkout and provisioning. All calls that create resources carry an
// idempotency key so a retried request cannot duplicate them.
type PaymentsProvider interface {
	Name() string
	CreateCustomer(ctx context.Context, in CustomerInput) (string, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	// ChargeCustomer resolves the customer and payment intent a charge belongs to.
	ChargeCustomer(ctx context.Context, chargeID string) (customerID, paymentIntentID string, err error)
	// SetSubscriptionEnd schedules a subscription to stop billing at cancelAt.
	SetSubscriptionEnd(ctx context.Context, subscriptionID string, cancelAt time.Time) error
}
