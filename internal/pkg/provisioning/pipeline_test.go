package provisioning

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/billing"
	"github.com/elevate-workforce/enrollpay/internal/pkg/mq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allSteps = []string{
	models.AuditStepPaymentReceived,
	models.AuditStepTenantCreated,
	models.AuditStepLicenseCreated,
	models.AuditStepAdminCreated,
	models.AuditStepEmailSent,
	models.AuditStepComplete,
}

func TestProvisionCreatesEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "cs_1")

	res, err := f.pipeline.Process(ctx, completedEvent(t, "evt_1", "cs_1"))
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeProcessed, res.Outcome)
	assert.Equal(t, allSteps, res.Steps)
	assert.Empty(t, res.Skipped)

	ps, err := f.repos.PaymentSession.GetByExternalID(ctx, "stripe", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSessionStatusCompleted, ps.Status)
	assert.Equal(t, "cus_1", ps.CustomerID)
	assert.Equal(t, "sub_1", ps.SubscriptionID)
	assert.NotNil(t, ps.CompletedAt)

	transitions, err := f.repos.PaymentSession.ListTransitions(ctx, ps.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.PaymentSessionStatusPending, transitions[1].FromStatus)
	assert.Equal(t, models.PaymentSessionStatusCompleted, transitions[1].ToStatus)
	assert.Equal(t, "evt_1", transitions[1].ExternalEventID)

	tenant, err := f.repos.Tenant.GetBySourcePaymentRef(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, res.TenantID, tenant.ID)
	assert.Equal(t, "Jordan Lee", tenant.Name)
	assert.Equal(t, "user-1", tenant.OwnerUserID)

	license, err := f.repos.License.GetByPaymentSession(ctx, ps.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, license.Status)
	assert.Equal(t, 50, license.WeeksTotal)
	assert.Equal(t, int64(6474), license.WeeklyPaymentCents)
	assert.Equal(t, "cus_1", license.StripeCustomerID)
	assert.Equal(t, tenant.ID, license.TenantID)

	cancelAt, ok := f.provider.cancelAts["sub_1"]
	require.True(t, ok)
	want := billing.SubscriptionEnd(enrollmentMetadata().BillingAnchor, 50)
	assert.True(t, want.Equal(cancelAt), "cancel_at %s, want %s", cancelAt, want)
	// the 51st weekly cycle is never opened
	assert.True(t, cancelAt.Before(enrollmentMetadata().BillingAnchor.AddDate(0, 0, 50*7)))

	admin, err := f.repos.User.GetByEmail(ctx, "jordan@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ROLE_TENANT_ADMIN, admin.Role)
	assert.Equal(t, models.STATUS_INACTIVE, admin.Status)
	require.NotNil(t, admin.TenantID)
	assert.Equal(t, tenant.ID, *admin.TenantID)

	require.Equal(t, 1, f.mailer.count())
	sent := f.mailer.sent[0]
	assert.Equal(t, "jordan@example.com", sent.To)
	assert.Equal(t, "https://app.example.com/activate/"+admin.ActivationToken, sent.ActivationURL)
	assert.Equal(t, int64(6474), sent.WeeklyPaymentCents)

	entries, err := f.repos.Audit.ListByCorrelation(ctx, "evt_1")
	require.NoError(t, err)
	require.Len(t, entries, len(allSteps))
	for i, step := range allSteps {
		assert.Equal(t, step, entries[i].Step)
	}
	assert.Empty(t, f.publisher.published())
}

func TestProvisionTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "cs_1")
	ev := completedEvent(t, "evt_1", "cs_1")

	_, err := f.pipeline.Process(ctx, ev)
	require.NoError(t, err)

	res, err := f.pipeline.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeProcessed, res.Outcome)
	assert.Equal(t, "already provisioned", res.Reason)
	assert.Empty(t, res.Steps)

	assert.Equal(t, 1, f.mailer.count())
	assert.Equal(t, int64(1), count(t, f.db, &models.Tenant{}))
	assert.Equal(t, int64(1), count(t, f.db, &models.License{}))
	assert.Equal(t, int64(1), count(t, f.db, &models.User{}))
}

func TestProvisionResumesAfterEmailFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "cs_1")
	ev := completedEvent(t, "evt_1", "cs_1")

	f.mailer.fail(errors.New("smtp unavailable"))
	res, err := f.pipeline.Process(ctx, ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrProvisioningStepFailure))
	assert.Contains(t, err.Error(), "smtp unavailable")
	assert.Equal(t, allSteps[:4], res.Steps)
	assert.Equal(t, []string{mq.TopicProvisioningFailed}, f.publisher.published())

	entries, err := f.repos.Audit.ListByCorrelation(ctx, "evt_1")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, models.AuditStepProvisioningFailed, last.Step)
	assert.Contains(t, string(last.Detail), models.AuditStepEmailSent)
	assert.Contains(t, last.ErrorDetail, "smtp unavailable")

	// Tenant, license and admin already exist.
	assert.Equal(t, int64(1), count(t, f.db, &models.License{}))

	f.mailer.fail(nil)
	res, err = f.pipeline.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, allSteps[:4], res.Skipped)
	assert.Equal(t, []string{models.AuditStepEmailSent, models.AuditStepComplete}, res.Steps)
	assert.Equal(t, 1, f.mailer.count())
	assert.Equal(t, int64(1), count(t, f.db, &models.Tenant{}))
	assert.Equal(t, int64(1), count(t, f.db, &models.User{}))
}

func TestProvisionProviderFailureStopsAtLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "cs_1")
	f.provider.endErr = billing.NewError(billing.KindExternalProvider, "subscription.update", errors.New("rate limited"))

	res, err := f.pipeline.Process(ctx, completedEvent(t, "evt_1", "cs_1"))
	require.Error(t, err)
	assert.Equal(t, billing.KindProvisioningStepFailure, billing.KindOf(err))
	assert.Equal(t, allSteps[:2], res.Steps)
	assert.Equal(t, int64(0), count(t, f.db, &models.User{}))
	assert.Equal(t, 0, f.mailer.count())
}

func TestProvisionRebuildsMissingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.pipeline.Process(ctx, completedEvent(t, "evt_1", "cs_lost"))
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeProcessed, res.Outcome)

	ps, err := f.repos.PaymentSession.GetByExternalID(ctx, "stripe", "cs_lost")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSessionStatusCompleted, ps.Status)
	assert.Equal(t, "user-1", ps.UserID)
	assert.Equal(t, int64(6474), ps.WeeklyPaymentCents)
	assert.Equal(t, 50, ps.WeeksRemaining)
	assert.Equal(t, 2000, ps.HoursRemaining)
	assert.True(t, enrollmentMetadata().BillingAnchor.Equal(ps.BillingAnchorAt))
}

func TestProvisionIgnoresOtherCheckouts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := enrollmentMetadata()
	other.Kind = "gift_card"

	tests := []struct {
		name   string
		ev     *billing.VerifiedEvent
		reason string
	}{
		{"unpaid", event(t, "evt_a", billing.EventCheckoutCompleted, checkoutObject("cs_a", "unpaid", enrollmentMetadata().ToMap())), "payment not settled yet"},
		{"other kind", event(t, "evt_b", billing.EventCheckoutCompleted, checkoutObject("cs_b", "paid", other.ToMap())), "not an enrollment checkout"},
		{"no metadata", event(t, "evt_c", billing.EventCheckoutAsyncSucceeded, checkoutObject("cs_c", "paid", nil)), "not an enrollment checkout"},
		{"unhandled type", event(t, "evt_d", "customer.created", map[string]interface{}{"id": "cus_1"}), "unhandled event type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.pipeline.Process(ctx, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, models.EventOutcomeIgnored, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
	assert.Equal(t, int64(0), count(t, f.db, &models.Tenant{}))
}

func TestProvisionWithoutUserIDIsInvalid(t *testing.T) {
	f := newFixture(t)
	md := enrollmentMetadata()
	md.UserID = ""

	_, err := f.pipeline.Process(context.Background(), event(t, "evt_1", billing.EventCheckoutCompleted, checkoutObject("cs_1", "paid", md.ToMap())))
	require.Error(t, err)
	assert.Equal(t, billing.KindInvalidInput, billing.KindOf(err))
}

func TestProvisionConcurrentRunsCreateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "cs_1")
	ev := completedEvent(t, "evt_1", "cs_1")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.pipeline.Provision(ctx, ev)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), count(t, f.db, &models.Tenant{}))
	assert.Equal(t, int64(1), count(t, f.db, &models.License{}))
	assert.Equal(t, int64(1), count(t, f.db, &models.User{}))
	assert.Equal(t, int64(2), count(t, f.db, &models.PaymentSessionTransition{}))
}

func TestProvisionLinksExistingUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "cs_1")

	existing := &models.User{Email: "jordan@example.com", Name: "Jordan", Password: "x", Role: models.ROLE_TENANT_ADMIN, Status: models.STATUS_ACTIVE}
	require.NoError(t, f.db.Create(existing).Error)

	_, err := f.pipeline.Process(ctx, completedEvent(t, "evt_1", "cs_1"))
	require.NoError(t, err)

	admin, err := f.repos.User.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	require.NotNil(t, admin.TenantID)
	assert.Equal(t, int64(1), count(t, f.db, &models.User{}))

	// Active users get no activation link.
	require.Equal(t, 1, f.mailer.count())
	assert.Empty(t, f.mailer.sent[0].ActivationURL)
}
