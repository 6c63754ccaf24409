package repository

import (
	"context"
	"testing"
	"time"

	"github.com/elevate-workforce/enrollpay/app/models"
	"github.com/elevate-workforce/enrollpay/internal/pkg/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingSession(externalID string) *models.PaymentSession {
	return &models.PaymentSession{
		Provider:           "stripe",
		ExternalSessionID:  externalID,
		UserID:             "user_1",
		ProgramSlug:        "barber-apprenticeship",
		Status:             models.PaymentSessionStatusPending,
		SetupFeeCents:      174300,
		WeeklyPaymentCents: 6474,
		WeeksRemaining:     50,
		HoursPerWeek:       40,
		HoursRemaining:     2000,
		BillingAnchorAt:    time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC),
	}
}

func TestPaymentSessionCreateIfNotExists(t *testing.T) {
	ctx := context.Background()
	repos := NewFactory(dbtest.Open(t)).GetRepositories()

	first, created, err := repos.PaymentSession.CreateIfNotExists(ctx, pendingSession("cs_1"), "checkout created")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repos.PaymentSession.CreateIfNotExists(ctx, pendingSession("cs_1"), "checkout created")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	transitions, err := repos.PaymentSession.ListTransitions(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, transitions, 1)
}

func TestPaymentSessionTransitionIsOneWay(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))

	ps, _, err := repos.PaymentSession.CreateIfNotExists(ctx, pendingSession("cs_1"), "checkout created")
	require.NoError(t, err)

	moved, err := repos.PaymentSession.Transition(ctx, ps, models.PaymentSessionStatusCompleted, "evt_1", "paid", map[string]interface{}{
		"customer_id": "cus_1",
	})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, models.PaymentSessionStatusCompleted, ps.Status)
	assert.Equal(t, "cus_1", ps.CustomerID)

	moved, err = repos.PaymentSession.Transition(ctx, ps, models.PaymentSessionStatusExpired, "evt_2", "expired", nil)
	require.NoError(t, err)
	assert.False(t, moved)

	transitions, err := repos.PaymentSession.ListTransitions(ctx, ps.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, models.PaymentSessionStatusPending, transitions[1].FromStatus)
	assert.Equal(t, models.PaymentSessionStatusCompleted, transitions[1].ToStatus)
	assert.Equal(t, "evt_1", transitions[1].ExternalEventID)
}

func TestPaymentSessionStaleTransitionLoses(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))

	ps, _, err := repos.PaymentSession.CreateIfNotExists(ctx, pendingSession("cs_1"), "checkout created")
	require.NoError(t, err)
	stale := *ps

	moved, err := repos.PaymentSession.Transition(ctx, ps, models.PaymentSessionStatusCompleted, "evt_1", "paid", nil)
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = repos.PaymentSession.Transition(ctx, &stale, models.PaymentSessionStatusExpired, "evt_2", "expired", nil)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestTenantFindOrCreate(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))

	tenant := &models.Tenant{PublicID: "00000000-0000-0000-0000-000000000001", Name: "Shop", ProgramSlug: "barber-apprenticeship", OwnerUserID: "user_1", SourcePaymentRef: "cs_1", Status: models.TenantStatusActive}
	first, created, err := repos.Tenant.FindOrCreate(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &models.Tenant{PublicID: "00000000-0000-0000-0000-000000000002", Name: "Shop", ProgramSlug: "barber-apprenticeship", OwnerUserID: "user_1", SourcePaymentRef: "cs_1", Status: models.TenantStatusActive}
	second, created, err := repos.Tenant.FindOrCreate(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PublicID, second.PublicID)
}

func TestLicenseStatusAndPayments(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))

	lic, created, err := repos.License.FindOrCreate(ctx, &models.License{
		TenantID: 1, PaymentSessionID: 7, ProgramSlug: "barber-apprenticeship", Status: models.LicenseStatusActive,
		StripeCustomerID: "cus_1", WeeksTotal: 50, WeeklyPaymentCents: 6474,
	})
	require.NoError(t, err)
	require.True(t, created)

	for _, invoiceID := range []string{"in_1", "in_2", "in_1"} {
		_, err := repos.License.RecordPayment(ctx, &models.LicensePayment{
			LicenseID: lic.ID, Provider: "stripe", ExternalInvoiceID: invoiceID, EventID: "evt_" + invoiceID,
			AmountPaidCents: 6474, PaidAt: time.Now(),
		})
		require.NoError(t, err)
	}

	ok, err := repos.License.UpdateStatus(ctx, lic.ID, []string{models.LicenseStatusActive}, models.LicenseStatusPastDue, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.License.UpdateStatus(ctx, lic.ID, []string{models.LicenseStatusActive}, models.LicenseStatusPastDue, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repos.License.GetLatestByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.WeeksPaid)
	assert.Equal(t, models.LicenseStatusPastDue, stored.Status)
	assert.NotNil(t, stored.LastPaymentAt)
}

func TestUserFindOrCreateByEmail(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))

	u, err := models.NewTenantAdmin("user_1", "Sam", "Sam@Example.com", 3)
	require.NoError(t, err)
	first, created, err := repos.User.FindOrCreateByEmail(ctx, u)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sam@example.com", first.Email)

	again, err := models.NewTenantAdmin("user_1", "Sam", "sam@example.com", 4)
	require.NoError(t, err)
	second, created, err := repos.User.FindOrCreateByEmail(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.TenantID)
	assert.Equal(t, uint(3), *second.TenantID)
}

func TestAuditCompletedSteps(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))

	for _, step := range []string{models.AuditStepPaymentReceived, models.AuditStepTenantCreated, models.AuditStepProvisioningFailed} {
		require.NoError(t, repos.Audit.Append(ctx, &models.ProvisioningAuditEntry{CorrelationID: "evt_1", Step: step}))
	}
	require.NoError(t, repos.Audit.Append(ctx, &models.ProvisioningAuditEntry{CorrelationID: "evt_2", Step: models.AuditStepComplete}))

	steps, err := repos.Audit.CompletedSteps(ctx, "evt_1")
	require.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Contains(t, steps, models.AuditStepPaymentReceived)
	assert.NotContains(t, steps, models.AuditStepProvisioningFailed)

	entries, err := repos.Audit.ListByCorrelation(ctx, "evt_1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecordPaymentCountsInvoiceOnce(t *testing.T) {
	ctx := context.Background()
	repos := NewRepositories(dbtest.Open(t))
	lic, _, err := repos.License.FindOrCreate(ctx, &models.License{
		TenantID: 1, PaymentSessionID: 7, ProgramSlug: "barber-apprenticeship", Status: models.LicenseStatusActive,
		StripeCustomerID: "cus_1", WeeksTotal: 50, WeeklyPaymentCents: 6474,
	})
	require.NoError(t, err)

	payment := func(eventID string) *models.LicensePayment {
		return &models.LicensePayment{
			LicenseID: lic.ID, Provider: "stripe", ExternalInvoiceID: "in_1", EventID: eventID,
			AmountPaidCents: 6474, PaidAt: time.Now(),
		}
	}

	recorded, err := repos.License.RecordPayment(ctx, payment("evt_paid"))
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = repos.License.RecordPayment(ctx, payment("evt_succeeded"))
	require.NoError(t, err)
	assert.False(t, recorded)

	stored, err := repos.License.GetByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.WeeksPaid)
}
