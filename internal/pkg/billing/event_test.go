package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutSessionDecodesExpandableIDs(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1704902400,
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"customer": "cus_1",
			"subscription": "sub_1",
			"payment_intent": "pi_1",
			"payment_status": "paid",
			"amount_total": 180774,
			"metadata": {"kind": "apprenticeship_enrollment", "user_id": "user_1", "hours_per_week": "40"}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)

	cs, err := event.CheckoutSession()
	require.NoError(t, err)
	require.NotNil(t, cs.Customer)
	require.NotNil(t, cs.Subscription)
	require.NotNil(t, cs.PaymentIntent)

	assert.Equal(t, "cs_1", cs.ID)
	assert.Equal(t, "cus_1", cs.Customer.ID)
	assert.Equal(t, "sub_1", cs.Subscription.ID)
	assert.Equal(t, "pi_1", cs.PaymentIntent.ID)
	assert.Equal(t, int64(180774), cs.AmountTotal)
	assert.True(t, IsPaidCheckout(cs))
	assert.True(t, ParseEnrollmentMetadata(cs.Metadata).IsApprenticeship())
}

func TestDecodeWithoutObjectFails(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"evt_1","type":"charge.refunded"}`))
	require.NoError(t, err)

	_, err = event.Charge()
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestEnrollmentMetadataRoundTrip(t *testing.T) {
	anchor := time.Date(2024, 1, 12, 15, 0, 0, 0, time.UTC)
	in := EnrollmentMetadata{
		Kind:               MetadataKindApprenticeship,
		UserID:             "user_1",
		EnrollmentID:       "enr_1",
		ProgramSlug:        ProgramApprenticeship,
		HoursPerWeek:       40,
		TransferredHours:   100,
		WeeklyPaymentCents: 6814,
		WeeksRemaining:     48,
		SetupFeeCents:      174300,
		BillingAnchor:      anchor,
	}

	assert.Equal(t, in, ParseEnrollmentMetadata(in.ToMap()))
}

func TestParseEnrollmentMetadataDefaults(t *testing.T) {
	m := ParseEnrollmentMetadata(map[string]string{"kind": "other", "hours_per_week": "x"})

	assert.False(t, m.IsApprenticeship())
	assert.Equal(t, 0, m.HoursPerWeek)
	assert.Equal(t, ProgramApprenticeship, m.ProgramSlug)
	assert.True(t, m.BillingAnchor.IsZero())
}
