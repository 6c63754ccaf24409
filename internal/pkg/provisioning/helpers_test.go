package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/app/repository"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/database/dbtest"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mail"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 2024-01-10 12:00 New York, a Wednesday.
var eventTime = time.Date(2024, 1, 10, 17, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu        sync.Mutex
	cancelAts map[string]time.Time
	charges   map[string][2]string
	endErr    error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{cancelAts: map[string]time.Time{}, charges: map[string][2]string{}}
}

func (f *fakeProvider) Name() string { return models.BillingProviderStripe }

func (f *fakeProvider) CreateCustomer(context.Context, billing.CustomerInput) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeProvider) CreateCheckoutSession(context.Context, billing.CheckoutSessionInput) (*billing.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) ChargeCustomer(_ context.Context, chargeID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.charges[chargeID]
	if !ok {
		return "", "", billing.NewError(billing.KindExternalProvider, "charge.get", errors.New("no such charge"))
	}
	return c[0], c[1], nil
}

func (f *fakeProvider) SetSubscriptionEnd(_ context.Context, subscriptionID string, cancelAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	f.cancelAts[subscriptionID] = cancelAt
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Welcome
	err  error
}

func (f *fakeMailer) SendWelcome(_ context.Context, w mail.Welcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, w)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMailer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePublisher) PublishJSON(_ context.Context, key string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

type fixture struct {
	db        *gorm.DB
	repos     *repository.Repositories
	provider  *fakeProvider
	mailer    *fakeMailer
	publisher *fakePublisher
	pipeline  *Pipeline
	guard     *billing.Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:        db,
		repos:     repository.NewRepositories(db),
		provider:  newFakeProvider(),
		mailer:    &fakeMailer{},
		publisher: &fakePublisher{},
	}
	f.pipeline = NewPipeline(f.repos, f.provider, f.mailer, f.publisher, Config{
		Provider:          models.BillingProviderStripe,
		Pricing:           billing.DefaultPricing(),
		ActivationBaseURL: "https://app.example.com/activate/",
	}).WithClock(func() time.Time { return eventTime })
	f.guard = billing.NewGuard(f.repos.Billing)
	return f
}

func enrollmentMetadata() billing.EnrollmentMetadata {
	schedule, _ := billing.DefaultPricing().Compute(40, 0)
	return billing.EnrollmentMetadata{
		Kind:               billing.MetadataKindApprenticeship,
		UserID:             "user-1",
		EnrollmentID:       "enr-1",
		ProgramSlug:        billing.ProgramApprenticeship,
		HoursPerWeek:       40,
		TransferredHours:   0,
		WeeklyPaymentCents: schedule.WeeklyPaymentCents,
		WeeksRemaining:     schedule.WeeksRemaining,
		SetupFeeCents:      schedule.SetupFeeCents,
		BillingAnchor:      billing.NextBillingAnchor(eventTime, billing.DefaultAnchorConfig()),
	}
}

// seedPending stores the pending session the checkout builder would have written.
func (f *fixture) seedPending(t *testing.T, sessionID string) *models.PaymentSession {
	t.Helper()
	m := enrollmentMetadata()
	ps := &models.PaymentSession{
		Provider:           models.BillingProviderStripe,
		ExternalSessionID:  sessionID,
		UserID:             m.UserID,
		EnrollmentID:       m.EnrollmentID,
		ProgramSlug:        m.ProgramSlug,
		Status:             models.PaymentSessionStatusPending,
		SetupFeeCents:      m.SetupFeeCents,
		WeeklyPaymentCents: m.WeeklyPaymentCents,
		WeeksRemaining:     m.WeeksRemaining,
		HoursPerWeek:       m.HoursPerWeek,
		HoursRemaining:     2000,
		BillingAnchorAt:    m.BillingAnchor.UTC(),
	}
	require.NoError(t, f.repos.Billing.CreatePaymentSession(context.Background(), ps, "checkout created"))
	return ps
}

func event(t *testing.T, id, eventType string, object map[string]interface{}) *billing.VerifiedEvent {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":       id,
		"type":     eventType,
		"created":  eventTime.Unix(),
		"livemode": false,
		"data":     map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	ev, err := billing.ParseEvent(raw)
	require.NoError(t, err)
	return ev
}

func checkoutObject(sessionID, paymentStatus string, md map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"mode":           "subscription",
		"customer":       "cus_1",
		"subscription":   "sub_1",
		"payment_status": paymentStatus,
		"amount_total":   180774,
		"customer_details": map[string]interface{}{
			"email": "Jordan@Example.com",
			"name":  "Jordan Lee",
		},
		"metadata": md,
	}
}

func completedEvent(t *testing.T, id, sessionID string) *billing.VerifiedEvent {
	return event(t, id, billing.EventCheckoutCompleted, checkoutObject(sessionID, "paid", enrollmentMetadata().ToMap()))
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
